package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliseevk/tgsentry/internal/ingest"
	"github.com/eliseevk/tgsentry/internal/notify"
	"github.com/eliseevk/tgsentry/internal/storage"
)

type fakeStore struct {
	post    storage.Post
	channel storage.Channel
	rules   []storage.StoredRule

	matchedAlerts []string
}

func (s *fakeStore) PostByID(_ context.Context, id string) (storage.Post, error) {
	if id != s.post.ID {
		return storage.Post{}, errors.New("post not found")
	}

	return s.post, nil
}

func (s *fakeStore) ChannelByID(context.Context, string) (storage.Channel, error) {
	return s.channel, nil
}

func (s *fakeStore) ActiveAlertRules(context.Context, string) ([]storage.StoredRule, error) {
	return s.rules, nil
}

func (s *fakeStore) SetMatchedAlerts(_ context.Context, _ string, names []string) error {
	s.matchedAlerts = names
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	alerts  []notify.Alert
	failFor string
}

func (n *fakeNotifier) SendAlert(_ context.Context, a notify.Alert) (bool, error) {
	if n.failFor != "" && len(a.RuleNames) > 0 && a.RuleNames[0] == n.failFor {
		return false, errors.New("smtp down")
	}

	n.mu.Lock()
	n.alerts = append(n.alerts, a)
	n.mu.Unlock()

	return len(a.Recipients) > 0, nil
}

func (n *fakeNotifier) sentAlerts() []notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]notify.Alert(nil), n.alerts...)
}

func (n *fakeNotifier) SendDigest(context.Context, notify.Digest) (bool, error) {
	return false, nil
}

func newDispatcher(store *fakeStore, notifier *fakeNotifier) *Dispatcher {
	logger := zerolog.Nop()
	return NewDispatcher(store, nil, notifier, ingest.CompileStored, &logger)
}

func testStore() *fakeStore {
	return &fakeStore{
		post: storage.Post{
			ID:        "post-1",
			ChannelID: "ch-1",
			MessageID: 42,
			Title:     "Storm warning",
			Content:   "Severe storm and flood warnings issued for the coastal region",
			Language:  "en",
		},
		channel: storage.Channel{ID: "ch-1", Handle: "weather_watch", Title: "Weather Watch"},
	}
}

func TestCheckPostFansOutToAllMatchingRules(t *testing.T) {
	store := testStore()
	store.rules = []storage.StoredRule{
		{ID: "r1", Name: "storms", Kind: "keyword", Pattern: "storm", Recipients: "ops@example.com", Enabled: true},
		{ID: "r2", Name: "floods", Kind: "keyword", Pattern: "flood", Recipients: "oncall@example.com", Enabled: true},
		{ID: "r3", Name: "crypto", Kind: "keyword", Pattern: "bitcoin", Recipients: "ops@example.com", Enabled: true},
	}
	notifier := &fakeNotifier{}

	count, err := newDispatcher(store, notifier).CheckPost(context.Background(), "post-1")
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, []string{"storms"}, notifier.alerts[0].RuleNames)
	assert.Equal(t, []string{"floods"}, notifier.alerts[1].RuleNames)
	assert.ElementsMatch(t, []string{"storms", "floods"}, store.matchedAlerts)
}

func TestCheckPostWithNoRulesIsNoop(t *testing.T) {
	store := testStore()
	notifier := &fakeNotifier{}

	count, err := newDispatcher(store, notifier).CheckPost(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, notifier.alerts)
}

func TestPerRuleFailureDoesNotStopOthers(t *testing.T) {
	store := testStore()
	store.rules = []storage.StoredRule{
		{ID: "r1", Name: "storms", Kind: "keyword", Pattern: "storm", Recipients: "ops@example.com", Enabled: true},
		{ID: "r2", Name: "floods", Kind: "keyword", Pattern: "flood", Recipients: "oncall@example.com", Enabled: true},
	}
	notifier := &fakeNotifier{failFor: "storms"}

	count, err := newDispatcher(store, notifier).CheckPost(context.Background(), "post-1")
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.ElementsMatch(t, []string{"storms", "floods"}, store.matchedAlerts)
}

func TestPostURLFallsBackToTelegramLink(t *testing.T) {
	store := testStore()
	url := postURL(store.post, store.channel)
	assert.Equal(t, "https://t.me/weather_watch/42", url)

	store.post.URL = "https://example.com/article"
	assert.Equal(t, "https://example.com/article", postURL(store.post, store.channel))
}

func TestExcerptIsCapped(t *testing.T) {
	long := strings.Repeat("x", 1500)
	got := excerpt(long)
	assert.Len(t, []rune(got), maxExcerptRunes+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "short", excerpt("short"))
}
