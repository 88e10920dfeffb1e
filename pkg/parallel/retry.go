package parallel

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	// MaxRetries bounds the number of retries after the initial attempt.
	MaxRetries uint64
	// InitialDelay is the first backoff interval.
	InitialDelay time.Duration
	// MaxDelay caps individual backoff intervals.
	MaxDelay time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// defaults to llmerrors.IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryOptions returns the options used when the zero value is
// supplied.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Retryable:    llmerrors.IsRetryable,
	}
}

// Retry runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, exhausts its retries, or the context is cancelled.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	defaults := DefaultRetryOptions()
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaults.InitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaults.MaxDelay
	}
	if opts.Retryable == nil {
		opts.Retryable = defaults.Retryable
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.InitialDelay
	policy.MaxInterval = opts.MaxDelay
	policy.MaxElapsedTime = 0

	var result T
	operation := func() error {
		var err error
		result, err = fn(ctx)
		if err != nil && !opts.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, opts.MaxRetries), ctx))
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
