// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Reader mode: MTProto client that ingests posts from tracked channels
//     and fires alerts as posts arrive
//   - Digest mode: Scheduled digest generation, delivery, and cleanup
//   - All mode: Reader and digest combined in a single process
//
// Each mode can be run independently or combined based on deployment needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/alert"
	"github.com/eliseevk/tgsentry/internal/config"
	"github.com/eliseevk/tgsentry/internal/digest"
	"github.com/eliseevk/tgsentry/internal/ingest"
	"github.com/eliseevk/tgsentry/internal/llm"
	"github.com/eliseevk/tgsentry/internal/notify"
	"github.com/eliseevk/tgsentry/internal/observability"
	"github.com/eliseevk/tgsentry/internal/rules"
	"github.com/eliseevk/tgsentry/internal/storage"
	"github.com/eliseevk/tgsentry/internal/telegram"
	"github.com/eliseevk/tgsentry/internal/worker"
)

const (
	ingestRunAttempts    = 3
	ingestRetryBase      = 4 * time.Second
	msgAlertQueueStopped = "alert queue stopped"
)

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg      *config.Config
	database *storage.DB
	logger   *zerolog.Logger
}

// noopNotifier stands in when no SMTP host is configured; deliveries are
// skipped rather than attempted against a dead relay.
type noopNotifier struct{}

func (noopNotifier) SendAlert(_ context.Context, _ notify.Alert) (bool, error) {
	return false, nil
}

func (noopNotifier) SendDigest(_ context.Context, _ notify.Digest) (bool, error) {
	return false, nil
}

// enqueueFunc adapts a function to the ingest.AlertEnqueuer interface.
type enqueueFunc func(postID string)

func (f enqueueFunc) Enqueue(postID string) { f(postID) }

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *storage.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	srv := observability.NewServer(a.database, a.cfg.HealthPort, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunReader runs the reader mode: scheduled channel ingestion with the alert
// queue draining in the background.
func (a *App) RunReader(ctx context.Context) error {
	a.logger.Info().Msg("Starting reader mode")

	return a.runWithReader(ctx, nil)
}

// AddChannel registers a channel handle for tracking. The display title is
// filled in on the first successful fetch.
func (a *App) AddChannel(ctx context.Context, handle string) error {
	id, err := a.database.UpsertChannel(ctx, handle, "", true)
	if err != nil {
		return fmt.Errorf("add channel %s: %w", handle, err)
	}

	a.logger.Info().Str("handle", handle).Str("channel_id", id).Msg("channel registered")

	return nil
}

// IngestChannel re-ingests a single channel by handle and exits, for
// manual catch-up after outages or rule changes. Alerts are evaluated
// inline instead of through the queue.
func (a *App) IngestChannel(ctx context.Context, handle string) error {
	reader := telegram.NewReader(a.cfg, a.logger)
	llmClient := llm.New(a.cfg, a.logger)
	dispatcher := alert.NewDispatcher(a.database, a.newClassifier(llmClient), a.newNotifier(), ingest.CompileStored, a.logger)

	err := reader.Run(ctx, func(ctx context.Context) error {
		alerts := enqueueFunc(func(postID string) {
			if _, err := dispatcher.CheckPost(ctx, postID); err != nil {
				a.logger.Error().Err(err).Str("post_id", postID).Msg("alert check failed")
			}
		})

		stats, err := ingest.New(a.cfg, a.database, reader, alerts, a.logger).RunChannel(ctx, handle)
		if err != nil {
			return err
		}

		a.logger.Info().
			Str("channel", handle).
			Int("new_posts", stats.NewPosts).
			Int("filtered", stats.Filtered).
			Msg("manual ingestion complete")

		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest channel %s: %w", handle, err)
	}

	return nil
}

// RunDigest runs the digest mode.
func (a *App) RunDigest(ctx context.Context, once bool) error {
	a.logger.Info().Bool("once", once).Msg("Starting digest mode")

	builder := a.newDigestBuilder()

	if once {
		result, err := builder.Build(ctx, a.cfg.SummaryTargetLang, a.cfg.DigestWindowHours)
		if err != nil {
			return fmt.Errorf("digest run once: %w", err)
		}

		a.logger.Info().
			Bool("created", result.Created).
			Int("posts", result.PostCount).
			Bool("sent", result.Sent).
			Msg("digest run complete")

		return nil
	}

	scheduler, err := a.newDigestScheduler(ctx, builder)
	if err != nil {
		return err
	}

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()

	return ctx.Err()
}

// RunAll runs the reader and digest pipelines in a single process.
func (a *App) RunAll(ctx context.Context) error {
	a.logger.Info().Msg("Starting combined mode")

	return a.runWithReader(ctx, a.newDigestBuilder())
}

// runWithReader opens the MTProto session and keeps the ingest schedule and
// alert queue alive inside it. A non-nil digest builder adds the digest and
// cleanup schedules to the same cron runner.
func (a *App) runWithReader(ctx context.Context, digestBuilder *digest.Builder) error {
	reader := telegram.NewReader(a.cfg, a.logger)

	llmClient := llm.New(a.cfg, a.logger)
	notifier := a.newNotifier()
	classifier := a.newClassifier(llmClient)

	dispatcher := alert.NewDispatcher(a.database, classifier, notifier, ingest.CompileStored, a.logger)
	queue := alert.NewQueue(dispatcher, a.cfg.AlertQueueSize, a.logger)
	coordinator := ingest.New(a.cfg, a.database, reader, queue, a.logger)

	err := reader.Run(ctx, func(ctx context.Context) error {
		go func() {
			if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn().Err(err).Msg(msgAlertQueueStopped)
			}
		}()

		scheduler := cron.New()

		if _, err := scheduler.AddFunc(a.cfg.IngestCron, func() {
			a.runIngestCycle(ctx, coordinator)
		}); err != nil {
			return fmt.Errorf("schedule ingest: %w", err)
		}

		if digestBuilder != nil {
			if err := a.addDigestJobs(ctx, scheduler, digestBuilder); err != nil {
				return err
			}
		}

		// Catch up immediately instead of waiting for the first tick.
		a.runIngestCycle(ctx, coordinator)

		scheduler.Start()
		<-ctx.Done()
		<-scheduler.Stop().Done()

		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("reader run: %w", err)
	}

	return nil
}

func (a *App) runIngestCycle(ctx context.Context, coordinator *ingest.Coordinator) {
	err := worker.Retry(ctx, ingestRunAttempts, worker.ExponentialBackoff(ingestRetryBase), func(ctx context.Context) error {
		stats, err := coordinator.RunAll(ctx)
		if err != nil {
			return err
		}

		a.logger.Info().
			Int("channels", stats.ChannelsProcessed).
			Int("new_posts", stats.NewPosts).
			Int("filtered", stats.Filtered).
			Msg("ingest cycle complete")

		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error().Err(err).Msg("ingest cycle failed")
	}
}

func (a *App) newDigestScheduler(ctx context.Context, builder *digest.Builder) (*cron.Cron, error) {
	scheduler := cron.New()
	if err := a.addDigestJobs(ctx, scheduler, builder); err != nil {
		return nil, err
	}

	return scheduler, nil
}

func (a *App) addDigestJobs(ctx context.Context, scheduler *cron.Cron, builder *digest.Builder) error {
	if _, err := scheduler.AddFunc(a.cfg.DigestCron, func() {
		result, err := builder.Build(ctx, a.cfg.SummaryTargetLang, a.cfg.DigestWindowHours)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Msg("digest build failed")
			}

			return
		}

		a.logger.Info().
			Bool("created", result.Created).
			Int("posts", result.PostCount).
			Bool("sent", result.Sent).
			Msg("digest run complete")
	}); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}

	if _, err := scheduler.AddFunc(a.cfg.CleanupCron, func() {
		if err := builder.CleanupOld(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Msg("digest cleanup failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	return nil
}

func (a *App) newDigestBuilder() *digest.Builder {
	return digest.New(a.cfg, a.database, llm.New(a.cfg, a.logger), a.newNotifier(), a.logger)
}

func (a *App) newNotifier() notify.Notifier {
	if !a.cfg.SMTPConfigured() {
		a.logger.Warn().Msg("SMTP host not configured, deliveries disabled")

		return noopNotifier{}
	}

	return notify.NewSMTP(a.cfg, a.logger)
}

// newClassifier returns the semantic fallback classifier, or nil when no LLM
// provider is configured.
func (a *App) newClassifier(client llm.Client) *rules.Classifier {
	if a.cfg.LLMAPIKey == "" {
		return nil
	}

	return rules.NewClassifier(client, a.logger)
}
