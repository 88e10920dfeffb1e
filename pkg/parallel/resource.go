package parallel

import (
	"context"
	"log/slog"
)

// WithResource acquires a resource, runs fn with it, and releases it exactly
// once, whether fn succeeds or fails. Cleanup errors are logged rather than
// propagated so they never mask fn's result.
func WithResource[R, T any](
	ctx context.Context,
	acquire func(context.Context) (R, error),
	release func(R) error,
	fn func(context.Context, R) (T, error),
) (T, error) {
	var zero T

	resource, err := acquire(ctx)
	if err != nil {
		return zero, err
	}

	released := false
	cleanup := func() {
		if released {
			return
		}
		released = true
		if err := release(resource); err != nil {
			slog.Default().WarnContext(ctx, "resource cleanup failed",
				"component", "parallel",
				"error", err,
			)
		}
	}
	defer cleanup()

	return fn(ctx, resource)
}
