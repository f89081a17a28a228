package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rjoudeh/duewatch/pkg/backoff"
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// Delay produces the wait between attempts. Nil means no delay at all:
	// failed attempts are retried immediately (busy retry).
	Delay backoff.Strategy
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times.
//
// Returns nil on first success, or the last error after all attempts. No
// delay is inserted after the final attempt.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		var delay time.Duration
		if cfg.Delay != nil {
			delay = cfg.Delay.Delay(attempt)
		}
		if delay <= 0 {
			// Busy retry still honors cancellation between attempts.
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, err)
			}
			continue
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
