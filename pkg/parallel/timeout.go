package parallel

import (
	"context"
	"time"

	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// WithTimeout runs fn with a context that expires after timeout. If fn does
// not return before the timer fires, WithTimeout returns a
// *llmerrors.TimeoutError and the goroutine running fn is left to observe
// the cancelled context and wind down on its own.
//
// A zero or negative timeout fails immediately without invoking fn.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return zero, &llmerrors.TimeoutError{Op: "with_timeout", Elapsed: 0}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		result, err := fn(ctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, &llmerrors.TimeoutError{Op: "with_timeout", Elapsed: time.Since(start)}
		}
		return zero, ctx.Err()
	}
}

// WithDeadline runs fn with a context that expires at deadline. A deadline
// in the past fails immediately without invoking fn.
func WithDeadline[T any](ctx context.Context, deadline time.Time, fn func(context.Context) (T, error)) (T, error) {
	return WithTimeout(ctx, time.Until(deadline), fn)
}
