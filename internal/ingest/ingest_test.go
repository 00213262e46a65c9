package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/storage"
	"github.com/eliseevk/tgsentry/internal/telegram"
)

type fakeStore struct {
	channels    []storage.Channel
	filterRules []storage.StoredRule

	posts      map[string]storage.NewPost // keyed on channelID/messageID
	processed  map[string]bool
	nextPostID int
	touched    []string

	channelsErr error
}

func newFakeStore(channels ...storage.Channel) *fakeStore {
	return &fakeStore{
		channels:  channels,
		posts:     make(map[string]storage.NewPost),
		processed: make(map[string]bool),
	}
}

func (s *fakeStore) ActiveChannels(context.Context) ([]storage.Channel, error) {
	return s.channels, s.channelsErr
}

func (s *fakeStore) ChannelByHandle(_ context.Context, handle string) (storage.Channel, error) {
	for _, ch := range s.channels {
		if ch.Handle == handle {
			return ch, nil
		}
	}

	return storage.Channel{}, errors.New("channel not found")
}

func (s *fakeStore) UpsertChannel(_ context.Context, handle, title string, active bool) (string, error) {
	for i, ch := range s.channels {
		if ch.Handle == handle {
			if title != "" {
				s.channels[i].Title = title
			}

			s.channels[i].IsActive = active

			return ch.ID, nil
		}
	}

	s.channels = append(s.channels, storage.Channel{ID: handle, Handle: handle, Title: title, IsActive: active})

	return handle, nil
}

func (s *fakeStore) MaxMessageID(_ context.Context, channelID string) (int64, error) {
	var maxID int64

	for _, p := range s.posts {
		if p.ChannelID == channelID && p.MessageID > maxID {
			maxID = p.MessageID
		}
	}

	return maxID, nil
}

func (s *fakeStore) InsertPostsIgnoringDuplicates(_ context.Context, posts []storage.NewPost) ([]storage.Post, error) {
	var inserted []storage.Post

	for _, p := range posts {
		key := fmt.Sprintf("%s/%d", p.ChannelID, p.MessageID)
		if _, exists := s.posts[key]; exists {
			continue
		}

		s.posts[key] = p
		s.nextPostID++
		inserted = append(inserted, storage.Post{
			ID:        fmt.Sprintf("post-%d", s.nextPostID),
			ChannelID: p.ChannelID,
			MessageID: p.MessageID,
			Content:   p.Content,
			Language:  p.Language,
		})
	}

	return inserted, nil
}

func (s *fakeStore) UpsertProcessed(_ context.Context, postID string, blocked bool) error {
	s.processed[postID] = blocked
	return nil
}

func (s *fakeStore) ActiveFilterRules(context.Context, string) ([]storage.StoredRule, error) {
	return s.filterRules, nil
}

func (s *fakeStore) TouchChannel(_ context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

type fakeFetcher struct {
	messages  map[string][]telegram.Message
	title     string
	rateLimit bool
	calls     int
}

func (f *fakeFetcher) FetchSince(_ context.Context, handle string, afterID int64, _ int) ([]telegram.Message, error) {
	f.calls++

	if f.rateLimit {
		f.rateLimit = false
		return nil, &telegram.RateLimitedError{RetryAfter: time.Millisecond}
	}

	var out []telegram.Message

	for _, m := range f.messages[handle] {
		if m.ID > afterID {
			out = append(out, m)
		}
	}

	return out, nil
}

func (f *fakeFetcher) ChannelTitle(string) string { return f.title }

type fakeEnqueuer struct {
	postIDs []string
}

func (e *fakeEnqueuer) Enqueue(postID string) {
	e.postIDs = append(e.postIDs, postID)
}

func newCoordinator(store *fakeStore, fetcher Fetcher, enq *fakeEnqueuer) *Coordinator {
	logger := zerolog.Nop()
	cfg := &config.Config{ReaderFetchLimit: 100}

	return New(cfg, store, fetcher, enq, &logger)
}

func msg(id int64, text string) telegram.Message {
	return telegram.Message{ID: id, PostedAt: time.Now(), Text: text}
}

func TestRunAllIngestsNewPosts(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"market_news": {
			msg(5, "Bitcoin climbs past resistance as trading volume surges"),
			msg(6, "Central bank announces new policy framework for the year"),
		},
	}}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ChannelsProcessed)
	assert.Equal(t, 2, stats.NewPosts)
	assert.Len(t, enq.postIDs, 2)
	assert.Len(t, store.touched, 1)

	for _, blocked := range store.processed {
		assert.False(t, blocked)
	}
}

func TestIngestionIsIdempotent(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"market_news": {
			msg(5, "First update from the morning session with details"),
			msg(6, "Second update from the afternoon session with details"),
			msg(7, "Third update from the evening session with details"),
		},
	}}
	enq := &fakeEnqueuer{}
	coord := newCoordinator(store, fetcher, enq)

	first, err := coord.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewPosts)

	// Overlap: messages 6 and 7 come back again plus a new 8.
	fetcher.messages["market_news"] = append(fetcher.messages["market_news"],
		msg(8, "Fourth update from the late session with details"))

	second, err := coord.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.NewPosts)
	assert.Len(t, store.posts, 4)
}

func TestFilteredPostsAreNotPersisted(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	store.filterRules = []storage.StoredRule{
		{ID: "r1", Name: "ads", Kind: "keyword", Pattern: "promo,sponsored", Enabled: true},
	}
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"market_news": {
			msg(1, "Huge PROMO this weekend, do not miss the discount"),
			msg(2, "Regular market commentary for today without advertising"),
		},
	}}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewPosts)
	assert.Equal(t, 1, stats.Filtered)
	assert.Len(t, store.posts, 1)
	assert.Len(t, enq.postIDs, 1)
}

func TestRateLimitCausesSleepAndSingleRefetch(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{
		rateLimit: true,
		messages: map[string][]telegram.Message{
			"market_news": {msg(1, "Message fetched after the rate limit wait expired")},
		},
	}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, 1, stats.NewPosts)
}

func TestChannelFailureDoesNotAbortOthers(t *testing.T) {
	store := newFakeStore(
		storage.Channel{ID: "ch-1", Handle: "missing_channel", IsActive: true},
		storage.Channel{ID: "ch-2", Handle: "market_news", IsActive: true},
	)
	fetcher := &brokenFetcher{
		inner: &fakeFetcher{messages: map[string][]telegram.Message{
			"market_news": {msg(1, "Healthy channel still gets processed after a failure")},
		}},
		failHandle: "missing_channel",
	}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ChannelsProcessed)
	assert.Equal(t, 1, stats.NewPosts)
}

type brokenFetcher struct {
	inner      *fakeFetcher
	failHandle string
}

func (f *brokenFetcher) FetchSince(ctx context.Context, handle string, afterID int64, limit int) ([]telegram.Message, error) {
	if handle == f.failHandle {
		return nil, errors.New("channel fetch exploded")
	}

	return f.inner.FetchSince(ctx, handle, afterID, limit)
}

func (f *brokenFetcher) ChannelTitle(string) string { return "" }

func TestRunChannelByHandle(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"market_news": {msg(9, "Manual re-ingestion picks up this message from the channel")},
	}}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunChannel(context.Background(), "market_news")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChannelsProcessed)
	assert.Equal(t, 1, stats.NewPosts)

	_, err = newCoordinator(store, fetcher, enq).RunChannel(context.Background(), "nope")
	assert.Error(t, err)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Short headline", deriveTitle("Short headline"))
	assert.Equal(t, "Top story", deriveTitle("Top story\nwith the rest of the body below"))

	long := ""
	for i := 0; i < 40; i++ {
		long += "word "
	}

	title := deriveTitle(long)
	assert.LessOrEqual(t, len([]rune(title)), maxTitleLength+3)
	assert.Contains(t, title, "...")
}

func TestTitleComesFromFirstRawLine(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"market_news": {msg(1, "Earnings beat expectations\nFull report follows in the thread")},
	}}
	enq := &fakeEnqueuer{}

	_, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	stored := store.posts["ch-1/1"]
	assert.Equal(t, "Earnings beat expectations", stored.Title)
	assert.Equal(t, "Earnings beat expectations Full report follows in the thread", stored.Content)
}

func TestChannelTitleBackfilledOnFirstFetch(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "market_news", IsActive: true})
	fetcher := &fakeFetcher{
		title: "Market News Daily",
		messages: map[string][]telegram.Message{
			"market_news": {msg(1, "Opening bell commentary for the trading day")},
		},
	}
	enq := &fakeEnqueuer{}

	_, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Market News Daily", store.channels[0].Title)

	// A second run leaves the stored title alone.
	store.channels[0].Title = "Renamed By Operator"
	_, err = newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Renamed By Operator", store.channels[0].Title)
}

func TestFreshChannelScenario(t *testing.T) {
	store := newFakeStore(storage.Channel{ID: "ch-1", Handle: "technews", IsActive: true})
	store.filterRules = []storage.StoredRule{
		{ID: "r1", Name: "no sports", Kind: "keyword", Pattern: "sports", Enabled: true},
	}
	fetcher := &fakeFetcher{messages: map[string][]telegram.Message{
		"technews": {
			msg(100, "Breaking: AI launch"),
			msg(101, "Sports scores"),
		},
	}}
	enq := &fakeEnqueuer{}

	stats, err := newCoordinator(store, fetcher, enq).RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewPosts)
	assert.Equal(t, 1, stats.Filtered)
	require.Len(t, store.posts, 1)

	stored := store.posts["ch-1/100"]
	assert.Equal(t, "Breaking: AI launch", stored.Content)
	assert.Equal(t, "en", stored.Language)
	assert.Len(t, enq.postIDs, 1)
}
