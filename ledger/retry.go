package ledger

import (
	"context"
	"time"
)

// RetryPolicy controls how often an operation that lost an optimistic race is
// rerun. Only ErrConcurrencyConflict is retried; every other error is final.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // multiplied by the attempt number
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 25 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx is done. fn must re-read everything it depends on.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		out T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			return out, err
		}

		wait := p.Backoff * time.Duration(attempt)
		if wait <= 0 {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, ctx.Err()
		case <-timer.C:
		}
	}
	return out, err
}
