// Package retry runs an operation under a bounded attempt budget with a
// per-attempt delay and a retryable-error predicate.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	// Delay returns the wait after the given failed attempt (1-based).
	Delay func(attempt int) time.Duration
	// Retryable decides whether a failure is worth another attempt.
	// nil retries every error.
	Retryable func(error) bool
	// Sleep waits between attempts; nil uses the package Sleep.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Linear returns attempt*step.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return time.Duration(attempt) * step }
}

// Fixed returns the same delay for every attempt.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	budget := p.MaxAttempts
	if budget <= 0 {
		budget = 1
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == budget {
			break
		}

		var wait time.Duration
		if p.Delay != nil {
			wait = p.Delay(attempt)
		}
		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", budget).
			Dur("retry_in", wait).
			Err(lastErr).
			Msg("attempt failed, retrying")
		if !sleep(ctx, wait) {
			return attempt, ctx.Err()
		}
	}
	return budget, fmt.Errorf("%s failed after %d attempts: %w", op, budget, lastErr)
}

// Sleep waits for d or returns false early if ctx is done.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
