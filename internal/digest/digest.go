// Package digest batches recent posts and produces an LLM-generated
// summary, chunking when the input exceeds the token budget.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/llm"
	"github.com/eliseevk/tgsentry/internal/notify"
	"github.com/eliseevk/tgsentry/internal/observability"
	"github.com/eliseevk/tgsentry/internal/storage"
)

const (
	maxWindowPosts     = 100
	maxPostsPerChannel = 10
	perPostTokenCap    = 250
	sampleSize         = 5
	inputBudgetRatio   = 0.7

	chunkTemperature = 0.1
	mergeTemperature = 0.0
)

// ErrAllChunksFailed indicates every chunk summarization failed.
var ErrAllChunksFailed = errors.New("all chunk summarizations failed")

// Store is the persistence surface the builder needs.
type Store interface {
	RecentPosts(ctx context.Context, since time.Time, limit int) ([]storage.DigestPost, error)
	InsertDigest(ctx context.Context, d storage.DigestRecord) (string, error)
	MarkDigestSent(ctx context.Context, id string) error
	DeleteDigestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result reports the outcome of one digest build.
type Result struct {
	Created   bool
	Reason    string
	DigestID  string
	PostCount int
	Sent      bool
}

// Builder generates digests from the post window.
type Builder struct {
	cfg      *config.Config
	store    Store
	llm      llm.Client
	notifier notify.Notifier
	logger   *zerolog.Logger
}

// New creates a Builder.
func New(cfg *config.Config, store Store, client llm.Client, notifier notify.Notifier, logger *zerolog.Logger) *Builder {
	return &Builder{
		cfg:      cfg,
		store:    store,
		llm:      client,
		notifier: notifier,
		logger:   logger,
	}
}

// Build summarizes the trailing window and persists the digest. Digest
// creation and delivery are independent: an email failure never rolls
// back the persisted row.
func (b *Builder) Build(ctx context.Context, targetLang string, windowHours int) (Result, error) {
	windowEnd := time.Now()
	windowStart := windowEnd.Add(-time.Duration(windowHours) * time.Hour)

	posts, err := b.store.RecentPosts(ctx, windowStart, maxWindowPosts)
	if err != nil {
		observability.DigestsBuilt.WithLabelValues("error").Inc()

		return Result{}, fmt.Errorf("query window posts: %w", err)
	}

	if len(posts) == 0 {
		observability.DigestsBuilt.WithLabelValues("empty").Inc()

		return Result{Created: false, Reason: "no posts"}, nil
	}

	lines := renderPosts(groupByChannel(posts))

	summary, err := b.summarize(ctx, targetLang, lines)
	if err != nil {
		observability.DigestsBuilt.WithLabelValues("error").Inc()

		return Result{}, err
	}

	id, err := b.store.InsertDigest(ctx, storage.DigestRecord{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Language:    targetLang,
		SummaryMD:   summary,
		PostCount:   len(lines),
	})
	if err != nil {
		observability.DigestsBuilt.WithLabelValues("error").Inc()

		return Result{}, fmt.Errorf("persist digest: %w", err)
	}

	observability.DigestsBuilt.WithLabelValues("created").Inc()

	result := Result{Created: true, DigestID: id, PostCount: len(lines)}
	result.Sent = b.deliver(ctx, id, summary, targetLang, len(lines), windowStart, windowEnd)

	return result, nil
}

// summarize picks single-pass or chunk-then-merge based on the token
// estimate for the rendered posts.
func (b *Builder) summarize(ctx context.Context, targetLang string, lines []string) (string, error) {
	budget := int(float64(b.cfg.SummaryMaxTokens) * inputBudgetRatio)
	if estimateTotal(lines) <= budget {
		return b.complete(ctx, "summary", llm.SummaryMessages(targetLang, lines), chunkTemperature)
	}

	chunks := splitChunks(lines, budget)
	partials := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		partial, err := b.complete(ctx, "summary", llm.SummaryMessages(targetLang, chunk), chunkTemperature)
		if err != nil {
			// The chunk's content is dropped from the merge.
			b.logger.Warn().Err(err).Int("chunk", i).Msg("chunk summarization failed")

			continue
		}

		partials = append(partials, partial)
	}

	if len(partials) == 0 {
		return "", ErrAllChunksFailed
	}

	return b.complete(ctx, "merge", llm.MergeMessages(targetLang, partials), mergeTemperature)
}

func (b *Builder) complete(ctx context.Context, operation string, messages []llm.Message, temperature float32) (string, error) {
	start := time.Now()

	out, err := b.llm.Complete(ctx, messages, llm.Options{
		MaxTokens:   b.cfg.SummaryMaxTokens,
		Temperature: temperature,
	})

	observability.LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", fmt.Errorf("%s completion: %w", operation, err)
	}

	return strings.TrimSpace(out), nil
}

func (b *Builder) deliver(ctx context.Context, digestID, summary, lang string, postCount int, windowStart, windowEnd time.Time) bool {
	recipients := b.cfg.DigestRecipientList()
	if len(recipients) == 0 {
		return false
	}

	sent, err := b.notifier.SendDigest(ctx, notify.Digest{
		Summary:     summary,
		PostCount:   postCount,
		Language:    lang,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Recipients:  recipients,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("digest_id", digestID).Msg("digest delivery failed")

		return false
	}

	if sent {
		if err := b.store.MarkDigestSent(ctx, digestID); err != nil {
			b.logger.Warn().Err(err).Str("digest_id", digestID).Msg("failed to stamp digest sent time")
		}
	}

	return sent
}

// CleanupOld deletes digests older than the retention window.
func (b *Builder) CleanupOld(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -b.cfg.DigestRetentionDays)

	deleted, err := b.store.DeleteDigestsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup old digests: %w", err)
	}

	if deleted > 0 {
		b.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("removed old digests")
	}

	return nil
}

// groupByChannel caps each channel's contribution to bound prompt size,
// preserving the newest-first input order.
func groupByChannel(posts []storage.DigestPost) []storage.DigestPost {
	counts := make(map[string]int)
	kept := make([]storage.DigestPost, 0, len(posts))

	for _, p := range posts {
		if counts[p.ChannelID] >= maxPostsPerChannel {
			continue
		}

		counts[p.ChannelID]++
		kept = append(kept, p)
	}

	return kept
}

func renderPosts(posts []storage.DigestPost) []string {
	lines := make([]string, 0, len(posts))

	for _, p := range posts {
		name := p.ChannelTitle
		if name == "" {
			name = p.ChannelHandle
		}

		text := llm.TruncateToTokens(p.Content, perPostTokenCap)
		lines = append(lines, fmt.Sprintf("(%s) %s", name, text))
	}

	return lines
}

// estimateTotal derives a per-post token estimate from a small sample
// and scales it to the full set.
func estimateTotal(lines []string) int {
	if len(lines) == 0 {
		return 0
	}

	n := len(lines)
	if n > sampleSize {
		n = sampleSize
	}

	sum := 0
	for _, line := range lines[:n] {
		sum += llm.EstimateTokens(line)
	}

	return (sum / n) * len(lines)
}

// splitChunks partitions lines so each chunk's estimated tokens stay
// within the budget. Every chunk holds at least one line.
func splitChunks(lines []string, budget int) [][]string {
	var (
		chunks  [][]string
		current []string
		used    int
	)

	for _, line := range lines {
		cost := llm.EstimateTokens(line)
		if len(current) > 0 && used+cost > budget {
			chunks = append(chunks, current)
			current = nil
			used = 0
		}

		current = append(current, line)
		used += cost
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}
