// Package backoff provides fixed-schedule retry helpers for connection
// establishment. Request-level retries with error classification live in
// internal/adapters/retry.
package backoff

import (
	"context"
	"fmt"
	"time"
)

type Strategy struct {
	Delays []time.Duration
}

var (
	// Quick suits short-lived clients that should give up within a minute.
	Quick = Strategy{
		Delays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
		},
	}

	// Persistent suits long-lived sockets (worker registration, monitor
	// feeds) that should keep trying with a capped tail.
	Persistent = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
	}
)

type RetryFunc func(ctx context.Context, attempt int) error

func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	return RetryWithCallback(ctx, strategy, fn, nil)
}

func RetryWithCallback(ctx context.Context, strategy Strategy, fn RetryFunc, onRetry func(attempt int, err error, delay time.Duration)) error {
	var lastErr error

	for i := 0; i < len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err

			if onRetry != nil {
				onRetry(i+1, err, strategy.Delays[i])
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy.Delays[i]):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", len(strategy.Delays), lastErr)
}

// Forever retries fn until it succeeds or ctx is cancelled, advancing
// through the strategy's delays and staying on the final delay once
// exhausted. The attempt counter keeps increasing across the tail.
func Forever(ctx context.Context, strategy Strategy, fn RetryFunc, onRetry func(attempt int, err error, delay time.Duration)) error {
	for attempt := 1; ; attempt++ {
		if err := fn(ctx, attempt); err != nil {
			idx := attempt - 1
			if idx >= len(strategy.Delays) {
				idx = len(strategy.Delays) - 1
			}
			delay := strategy.Delays[idx]

			if onRetry != nil {
				onRetry(attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}
}
