package util

import (
	"context"
	"errors"
	"time"
)

// Backoff configures RetryWithBackoff. Attempts counts the first call, so
// Attempts=2 means "retry once". The delay doubles after every failure and is
// capped at MaxDelay. A nil Retryable retries every non-context error.
type Backoff struct {
	Attempts  int
	Delay     time.Duration
	MaxDelay  time.Duration
	Retryable func(error) bool
}

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, Backoff{Attempts: maxTries}, fn)
}

// RetryErrWithContext is RetryWithContext for functions without a result.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, Backoff{Attempts: maxTries}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithBackoff calls fn until it succeeds, the error is not retryable,
// the attempts are used up, or ctx is done. Context errors are never retried.
func RetryWithBackoff[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := b.Delay

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if b.Retryable != nil && !b.Retryable(err) {
			return zero, err
		}
		if i == attempts-1 || delay <= 0 {
			continue
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	return zero, lastErr
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
