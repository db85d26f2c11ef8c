// Package retry holds the bounded-retry policy used for broker calls.
package retry

import (
	"context"
	"time"
)

// Policy is a plain retry-policy value: a maximum attempt count and a linear
// backoff (BaseDelay * attempt between attempts). Keeping it a value makes
// backoff math testable without timers or goroutines.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay to wait after the given 1-based attempt fails.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Do runs fn up to MaxAttempts times, sleeping Backoff between failures.
// The last error is returned when every attempt fails. Context cancellation
// aborts waiting immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return err
}
