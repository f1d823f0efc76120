// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

type Policy struct {
	// MaxAttempts is the total number of calls to fn. Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// The first attempt runs immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, p.attempts(), lastErr)
}
