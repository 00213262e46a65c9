package alert

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/observability"
	"github.com/eliseevk/tgsentry/internal/worker"
)

const (
	checkAttempts    = 3
	checkBackoffStep = 30 * time.Second
	checkTimeout     = 2 * time.Minute
)

// Queue buffers post IDs for asynchronous alert evaluation, so the
// ingestion path never blocks on alert outcomes.
type Queue struct {
	dispatcher *Dispatcher
	posts      chan string
	logger     *zerolog.Logger
}

// NewQueue creates a Queue with the given buffer size.
func NewQueue(dispatcher *Dispatcher, size int, logger *zerolog.Logger) *Queue {
	return &Queue{
		dispatcher: dispatcher,
		posts:      make(chan string, size),
		logger:     logger,
	}
}

// Enqueue schedules a post for alert evaluation, fire-and-forget. A
// full queue drops the post and logs it.
func (q *Queue) Enqueue(postID string) {
	select {
	case q.posts <- postID:
		observability.AlertQueueDepth.Set(float64(len(q.posts)))
	default:
		q.logger.Error().Str("post_id", postID).Msg("alert queue full, dropping post")
	}
}

// Run consumes the queue until the context is canceled. Each check
// retries with linear backoff before giving up.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case postID := <-q.posts:
			observability.AlertQueueDepth.Set(float64(len(q.posts)))
			q.checkWithRetry(ctx, postID)
		}
	}
}

func (q *Queue) checkWithRetry(ctx context.Context, postID string) {
	defer worker.RecoverPanic(q.logger, "alert check")

	err := worker.Retry(ctx, checkAttempts, worker.LinearBackoff(checkBackoffStep), func(ctx context.Context) error {
		return worker.RunWithTimeout(ctx, checkTimeout, func(ctx context.Context) error {
			_, err := q.dispatcher.CheckPost(ctx, postID)
			return err
		})
	})
	if err != nil {
		observability.AlertCheckFailures.Inc()
		q.logger.Error().Err(err).Str("post_id", postID).Msg("alert check failed after retries")
	}
}
