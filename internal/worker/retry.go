package worker

import (
	"context"
	"time"
)

// Backoff computes the delay before the given retry attempt (1-based).
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles the delay each attempt starting from base.
func ExponentialBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
		}

		return delay
	}
}

// LinearBackoff grows the delay by step each attempt.
func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Retry runs fn up to maxAttempts times, waiting per the backoff
// between failures. The last error is returned when all attempts fail.
func Retry(ctx context.Context, maxAttempts int, backoff Backoff, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		if err := Wait(ctx, backoff(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}
