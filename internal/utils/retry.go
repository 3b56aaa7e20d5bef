package utils

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures exponential backoff for transient boundary errors.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy retries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second}
}

// ErrPermanent wraps an error that must not be retried.
type ErrPermanent struct{ Err error }

func (e ErrPermanent) Error() string { return e.Err.Error() }
func (e ErrPermanent) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, returns an ErrPermanent, the context is
// done, or the attempts are used up. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Initial

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm ErrPermanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}
