// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls exponential backoff.
type Config struct {
	MaxRetries int           // retries after the first attempt; 0 = no retry
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // backoff ceiling
}

// Default suits calls made inside a user-facing turn: short and bounded.
func Default() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   time.Second,
	}
}

// Do runs fn, retrying on error with exponential backoff + jitter until it
// succeeds, retries run out or ctx ends. It returns the attempts made and the
// last error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (result T, attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		t := time.NewTimer(Backoff(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return result, attempt + 1, err
		case <-t.C:
		}
	}
	return result, cfg.MaxRetries + 1, err
}

// Backoff computes min(base * 2^attempt, max) with ±25% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
