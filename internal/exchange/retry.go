package exchange

import (
	"context"
	"errors"
	"log"
	"time"
)

// RetryPolicy bounds retries around gateway and archive suspension points.
// Matches the orchestration defaults of the trading schedule: few attempts,
// short fixed backoff — a tick is 4 hours, so exhausting retries just defers
// the transition to the next tick.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration

	// OnRetry is an optional metrics hook invoked before each re-attempt.
	OnRetry func(op string)
}

// DefaultRetry mirrors the production retry options: 3 attempts, 5s apart.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 5 * time.Second}
}

// Do runs fn up to Attempts times. Permanent errors (invalid instrument,
// cancelled context) are returned immediately; transient ones are retried
// after Backoff.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if p.OnRetry != nil {
				p.OnRetry(op)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidInstrument) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Printf("[retry] %s attempt %d/%d failed: %v", op, i+1, attempts, err)
	}
	return err
}

// Retry is the value-returning form of RetryPolicy.Do.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
