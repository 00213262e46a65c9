// Package ingest pulls new channel messages through the filtering
// pipeline and into storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/language"
	"github.com/eliseevk/tgsentry/internal/normalize"
	"github.com/eliseevk/tgsentry/internal/observability"
	"github.com/eliseevk/tgsentry/internal/rules"
	"github.com/eliseevk/tgsentry/internal/storage"
	"github.com/eliseevk/tgsentry/internal/telegram"
	"github.com/eliseevk/tgsentry/internal/worker"
)

const maxTitleLength = 120

// Fetcher pulls channel history from the source.
type Fetcher interface {
	FetchSince(ctx context.Context, handle string, afterID int64, limit int) ([]telegram.Message, error)
	ChannelTitle(handle string) string
}

// Store is the persistence surface the coordinator needs.
type Store interface {
	ActiveChannels(ctx context.Context) ([]storage.Channel, error)
	ChannelByHandle(ctx context.Context, handle string) (storage.Channel, error)
	UpsertChannel(ctx context.Context, handle, title string, active bool) (string, error)
	MaxMessageID(ctx context.Context, channelID string) (int64, error)
	InsertPostsIgnoringDuplicates(ctx context.Context, posts []storage.NewPost) ([]storage.Post, error)
	UpsertProcessed(ctx context.Context, postID string, blocked bool) error
	ActiveFilterRules(ctx context.Context, channelID string) ([]storage.StoredRule, error)
	TouchChannel(ctx context.Context, id string) error
}

// AlertEnqueuer hands newly inserted posts to the alert worker.
type AlertEnqueuer interface {
	Enqueue(postID string)
}

// Stats summarizes one ingestion run.
type Stats struct {
	ChannelsProcessed int
	NewPosts          int
	Filtered          int
}

// Coordinator drives ingestion across channels.
type Coordinator struct {
	cfg     *config.Config
	store   Store
	fetcher Fetcher
	alerts  AlertEnqueuer
	matcher *rules.Matcher
	logger  *zerolog.Logger
}

// New creates a Coordinator.
func New(cfg *config.Config, store Store, fetcher Fetcher, alerts AlertEnqueuer, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		alerts:  alerts,
		matcher: rules.NewMatcher(logger),
		logger:  logger,
	}
}

// RunAll ingests every active channel. A single channel's failure is
// logged and does not abort the others.
func (c *Coordinator) RunAll(ctx context.Context) (Stats, error) {
	start := time.Now()

	channels, err := c.store.ActiveChannels(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list active channels: %w", err)
	}

	var stats Stats

	for _, ch := range channels {
		chStats, err := c.runChannel(ctx, ch)
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return stats, err
			}

			c.logger.Error().Err(err).Str("channel", ch.Handle).Msg("channel ingestion failed")

			continue
		}

		stats.ChannelsProcessed++
		stats.NewPosts += chStats.NewPosts
		stats.Filtered += chStats.Filtered
	}

	observability.IngestCycleDuration.Observe(time.Since(start).Seconds())
	c.logger.Info().
		Int("channels", stats.ChannelsProcessed).
		Int("new_posts", stats.NewPosts).
		Int("filtered", stats.Filtered).
		Dur("duration", time.Since(start)).
		Msg("Finished ingestion cycle")

	return stats, nil
}

// RunChannel re-ingests a single channel by handle, for manual triggers.
func (c *Coordinator) RunChannel(ctx context.Context, handle string) (Stats, error) {
	ch, err := c.store.ChannelByHandle(ctx, handle)
	if err != nil {
		return Stats{}, fmt.Errorf("load channel %q: %w", handle, err)
	}

	stats, err := c.runChannel(ctx, ch)
	if err != nil {
		return Stats{}, err
	}

	stats.ChannelsProcessed = 1

	return stats, nil
}

func (c *Coordinator) runChannel(ctx context.Context, ch storage.Channel) (Stats, error) {
	cursor, err := c.store.MaxMessageID(ctx, ch.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("resolve cursor: %w", err)
	}

	messages, err := c.fetchWithRateLimit(ctx, ch.Handle, cursor)
	if err != nil {
		return Stats{}, err
	}

	// The fetch resolves the peer, so the display title is known now.
	if ch.Title == "" {
		if title := c.fetcher.ChannelTitle(ch.Handle); title != "" {
			if _, err := c.store.UpsertChannel(ctx, ch.Handle, title, ch.IsActive); err != nil {
				c.logger.Warn().Err(err).Str("channel", ch.Handle).Msg("failed to refresh channel title")
			}
		}
	}

	if len(messages) == 0 {
		return Stats{}, nil
	}

	filterRules, err := c.loadFilterRules(ctx, ch.ID)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats

	for _, msg := range messages {
		lang := language.DetectSafe(msg.Text)

		if rule, ok := c.matcher.FirstMatch(msg.Text, lang, filterRules); ok {
			// Filtering is a decision, not an error. The post is not persisted.
			c.logger.Debug().
				Str("channel", ch.Handle).
				Int64("message_id", msg.ID).
				Str("rule", rule.Name).
				Msg("post excluded by filter rule")
			observability.PostsFiltered.WithLabelValues(ch.Handle).Inc()
			stats.Filtered++

			continue
		}

		res := normalize.Normalize(msg.Text)
		if res.Text == "" {
			continue
		}

		inserted, err := c.store.InsertPostsIgnoringDuplicates(ctx, []storage.NewPost{{
			ChannelID: ch.ID,
			MessageID: msg.ID,
			Title:     deriveTitle(msg.Text),
			Content:   res.Text,
			URL:       res.URL,
			Language:  language.DetectSafe(res.Text),
			PostedAt:  msg.PostedAt,
		}})
		if err != nil {
			c.logger.Error().Err(err).Str("channel", ch.Handle).Int64("message_id", msg.ID).Msg("failed to persist post")

			continue
		}

		for _, post := range inserted {
			if err := c.store.UpsertProcessed(ctx, post.ID, false); err != nil {
				c.logger.Warn().Err(err).Str("post_id", post.ID).Msg("failed to record processed flag")
			}

			c.alerts.Enqueue(post.ID)
			observability.PostsIngested.WithLabelValues(ch.Handle).Inc()
			stats.NewPosts++
		}
	}

	if stats.NewPosts > 0 {
		if err := c.store.TouchChannel(ctx, ch.ID); err != nil {
			c.logger.Warn().Err(err).Str("channel", ch.Handle).Msg("failed to touch channel")
		}
	}

	return stats, nil
}

// fetchWithRateLimit fetches channel history, honoring a rate-limit
// signal with the server-specified sleep and a single refetch.
func (c *Coordinator) fetchWithRateLimit(ctx context.Context, handle string, afterID int64) ([]telegram.Message, error) {
	messages, err := c.fetcher.FetchSince(ctx, handle, afterID, c.cfg.ReaderFetchLimit)

	var rateErr *telegram.RateLimitedError
	if errors.As(err, &rateErr) {
		c.logger.Warn().Str("channel", handle).Dur("retry_after", rateErr.RetryAfter).Msg("rate limited, waiting")

		if werr := worker.Wait(ctx, rateErr.RetryAfter); werr != nil {
			return nil, werr
		}

		messages, err = c.fetcher.FetchSince(ctx, handle, afterID, c.cfg.ReaderFetchLimit)
	}

	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return messages, nil
}

func (c *Coordinator) loadFilterRules(ctx context.Context, channelID string) ([]rules.Rule, error) {
	stored, err := c.store.ActiveFilterRules(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load filter rules: %w", err)
	}

	return CompileStored(stored), nil
}

// CompileStored turns stored rule rows into evaluable rules.
func CompileStored(stored []storage.StoredRule) []rules.Rule {
	compiled := make([]rules.Rule, 0, len(stored))

	for _, r := range stored {
		compiled = append(compiled, rules.Rule{
			ID:         r.ID,
			Name:       r.Name,
			Pattern:    rules.Compile(r.Kind, r.Pattern),
			PatternSrc: r.Pattern,
			Language:   r.Language,
			Recipients: r.Recipients,
		})
	}

	return compiled
}

// deriveTitle takes the first line of the raw message text, truncated.
// Raw text is used because normalization collapses newlines away.
func deriveTitle(text string) string {
	title := text
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}

	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength]) + "..."
	}

	return strings.TrimSpace(title)
}
