package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/llm"
	"github.com/eliseevk/tgsentry/internal/notify"
	"github.com/eliseevk/tgsentry/internal/storage"
)

type fakeStore struct {
	posts []storage.DigestPost

	insertedDigests []storage.DigestRecord
	sentIDs         []string
	deletedBefore   time.Time
}

func (s *fakeStore) RecentPosts(context.Context, time.Time, int) ([]storage.DigestPost, error) {
	return s.posts, nil
}

func (s *fakeStore) InsertDigest(_ context.Context, d storage.DigestRecord) (string, error) {
	s.insertedDigests = append(s.insertedDigests, d)
	return "digest-1", nil
}

func (s *fakeStore) MarkDigestSent(_ context.Context, id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *fakeStore) DeleteDigestsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.deletedBefore = cutoff
	return 3, nil
}

type countingLLM struct {
	summaryCalls int
	mergeCalls   int
	failChunks   bool
	failAll      bool
}

func (c *countingLLM) Complete(_ context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	system := messages[0].Content

	if strings.Contains(system, "partial briefings") {
		c.mergeCalls++
		return "# Merged\n\n## Key Developments", nil
	}

	c.summaryCalls++

	if c.failAll {
		return "", errors.New("provider down")
	}

	if c.failChunks && c.summaryCalls%2 == 0 {
		return "", errors.New("provider flake")
	}

	return "# Partial\n\n## Key Developments", nil
}

type recordingNotifier struct {
	digests []notify.Digest
	fail    bool
}

func (n *recordingNotifier) SendAlert(context.Context, notify.Alert) (bool, error) {
	return false, nil
}

func (n *recordingNotifier) SendDigest(_ context.Context, d notify.Digest) (bool, error) {
	if n.fail {
		return false, errors.New("smtp down")
	}

	n.digests = append(n.digests, d)

	return true, nil
}

func makePosts(count, contentLen int) []storage.DigestPost {
	posts := make([]storage.DigestPost, 0, count)

	// Spread posts across channels so the 10-per-channel cap does not
	// trim the fixture.
	for i := 0; i < count; i++ {
		handle := fmt.Sprintf("channel_%d", i/10)
		posts = append(posts, storage.DigestPost{
			Post: storage.Post{
				ID:        fmt.Sprintf("p-%d", i),
				ChannelID: handle,
				Content:   strings.Repeat("a", contentLen),
			},
			ChannelHandle: handle,
		})
	}

	return posts
}

func newBuilder(store *fakeStore, client llm.Client, notifier notify.Notifier) *Builder {
	logger := zerolog.Nop()
	cfg := &config.Config{
		SummaryMaxTokens:    800,
		DigestRecipients:    "ops@example.com",
		DigestRetentionDays: 30,
	}

	return New(cfg, store, client, notifier, &logger)
}

func TestBuildWithNoPosts(t *testing.T) {
	store := &fakeStore{}
	client := &countingLLM{}

	res, err := newBuilder(store, client, &recordingNotifier{}).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, "no posts", res.Reason)
	assert.Zero(t, client.summaryCalls)
}

func TestBuildSinglePassUnderBudget(t *testing.T) {
	// Three short posts stay well under 70% of the 800 token budget.
	store := &fakeStore{posts: makePosts(3, 100)}
	client := &countingLLM{}
	notifier := &recordingNotifier{}

	res, err := newBuilder(store, client, notifier).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 1, client.summaryCalls)
	assert.Zero(t, client.mergeCalls)
	assert.True(t, res.Sent)
	require.Len(t, store.insertedDigests, 1)
	assert.Equal(t, "en", store.insertedDigests[0].Language)
	assert.Equal(t, []string{"digest-1"}, store.sentIDs)
}

func TestBuildChunksOverBudget(t *testing.T) {
	// 20 posts of ~1000 chars each is roughly 5000 tokens, far past the
	// 560 token single-pass threshold.
	store := &fakeStore{posts: makePosts(20, 1000)}
	client := &countingLLM{}

	res, err := newBuilder(store, client, &recordingNotifier{}).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Greater(t, client.summaryCalls, 1)
	assert.Equal(t, 1, client.mergeCalls)
	assert.Equal(t, 20, res.PostCount)
}

func TestChunkFailuresAreDropped(t *testing.T) {
	store := &fakeStore{posts: makePosts(20, 1000)}
	client := &countingLLM{failChunks: true}

	res, err := newBuilder(store, client, &recordingNotifier{}).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 1, client.mergeCalls)
}

func TestAllChunksFailingFailsTheBuild(t *testing.T) {
	store := &fakeStore{posts: makePosts(20, 1000)}
	client := &countingLLM{failAll: true}

	_, err := newBuilder(store, client, &recordingNotifier{}).Build(context.Background(), "en", 1)
	require.ErrorIs(t, err, ErrAllChunksFailed)
	assert.Empty(t, store.insertedDigests)
}

func TestEmailFailureDoesNotRollBackDigest(t *testing.T) {
	store := &fakeStore{posts: makePosts(3, 100)}
	client := &countingLLM{}
	notifier := &recordingNotifier{fail: true}

	res, err := newBuilder(store, client, notifier).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.False(t, res.Sent)
	assert.Len(t, store.insertedDigests, 1)
	assert.Empty(t, store.sentIDs)
}

func TestGroupByChannelCapsPerChannel(t *testing.T) {
	posts := makePosts(15, 50)
	for i := range posts {
		posts[i].ChannelID = "ch-1"
	}
	for i := range posts[12:] {
		posts[12+i].ChannelID = "ch-2"
	}

	kept := groupByChannel(posts)
	assert.Len(t, kept, 13) // 10 from ch-1, 3 from ch-2
}

func TestBuildCapsSingleChannelAtTen(t *testing.T) {
	posts := makePosts(20, 100)
	for i := range posts {
		posts[i].ChannelID = "ch-1"
		posts[i].ChannelHandle = "market_news"
	}
	store := &fakeStore{posts: posts}

	res, err := newBuilder(store, &countingLLM{}, &recordingNotifier{}).Build(context.Background(), "en", 1)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 10, res.PostCount)
}

func TestSplitChunksRespectsBudget(t *testing.T) {
	lines := []string{
		strings.Repeat("a", 400),
		strings.Repeat("b", 400),
		strings.Repeat("c", 400),
	}

	chunks := splitChunks(lines, 150) // each line is ~101 tokens
	require.Len(t, chunks, 3)

	chunks = splitChunks(lines, 250)
	require.Len(t, chunks, 2)

	// A single oversized line still lands in its own chunk.
	chunks = splitChunks([]string{strings.Repeat("d", 5000)}, 100)
	require.Len(t, chunks, 1)
}

func TestCleanupOld(t *testing.T) {
	store := &fakeStore{}

	err := newBuilder(store, &countingLLM{}, &recordingNotifier{}).CleanupOld(context.Background())
	require.NoError(t, err)
	assert.False(t, store.deletedBefore.IsZero())
}
