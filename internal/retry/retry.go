// Package retry implements the bounded retry-with-backoff policy that
// wraps publish attempts. The policy is pure data plus an injectable
// sleep, so callers can test retry behavior without real delays.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gray247/gitbridge/internal/logging"
)

// Policy configures retry behavior for an operation.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// BaseBackoff is the delay before the second attempt; it doubles
	// after each failure.
	BaseBackoff time.Duration
	// MaxBackoff caps the per-attempt delay.
	MaxBackoff time.Duration
	// Sleep waits for the given duration or until ctx is done. Nil
	// selects a real timer; tests inject their own.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Validate checks that the policy has usable values.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return errors.New("attempts must be at least 1")
	}
	if p.BaseBackoff < 0 || p.MaxBackoff < 0 {
		return errors.New("backoff cannot be negative")
	}
	return nil
}

// DefaultPolicy matches the publish retry contract: three attempts with
// one- and two-second delays between them.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Do runs fn up to p.Attempts times, backing off exponentially between
// attempts. Errors not classified retryable by the predicate stop the
// loop immediately. The final attempt's error is surfaced unchanged so
// callers can inspect its class.
func Do[T any](ctx context.Context, p Policy, operation string, log *logging.Logger, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	sleep := p.Sleep
	if sleep == nil {
		sleep = waitTimer
	}

	for attempt := 0; attempt < p.Attempts; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !retryable(lastErr) || attempt == p.Attempts-1 {
			break
		}

		backoff := min(p.BaseBackoff<<attempt, p.MaxBackoff)
		log.Warnf("%s attempt %d/%d failed, retrying in %s: %v", operation, attempt+1, p.Attempts, backoff, lastErr)

		if err := sleep(ctx, backoff); err != nil {
			return result, fmt.Errorf("%s interrupted: %w", operation, err)
		}
	}

	return result, lastErr
}

func waitTimer(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
