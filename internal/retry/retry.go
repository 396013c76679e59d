// Package retry provides the shared retry policy used by the saga executor,
// the notification dispatcher, and the reminder scheduler.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffFunc returns the wait before the given attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// Policy bundles a retry budget with a backoff schedule.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// Exponential doubles the base per attempt: base * 2^(attempt-1).
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return base
		}
		return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	}
}

// ExponentialMax caps Exponential at max and adds half-window jitter.
func ExponentialMax(base, max time.Duration) BackoffFunc {
	exp := Exponential(base)
	return func(attempt int) time.Duration {
		wait := exp(attempt)
		if wait > max {
			wait = max
		}
		jitter := time.Duration(rand.Int63n(int64(wait / 2)))
		return wait/2 + jitter
	}
}

// Linear grows the wait linearly: delay * attempt.
func Linear(delay time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return delay * time.Duration(attempt)
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping p.Backoff between attempts.
// It returns nil on the first success, ctx.Err() if the context is cancelled
// mid-wait, or the last attempt's error once the budget is exhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}
