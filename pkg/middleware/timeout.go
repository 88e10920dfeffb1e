package middleware

import (
	"context"
	"time"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// TimeoutConfig controls the timeout wrapper.
type TimeoutConfig struct {
	// Timeout bounds each call. Zero or negative disables enforcement.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Timeout races each inner operation against a timer. This is a race, not a
// cancellation: an operation that loses the race keeps running in the
// background and its eventual result is discarded. Callers receive a
// *llmerrors.TimeoutError, meaning "no result available by the deadline".
type Timeout struct {
	inner backend.Backend
	d     time.Duration
}

// NewTimeout creates a timeout middleware with the given configuration.
func NewTimeout(cfg TimeoutConfig) Middleware {
	return func(inner backend.Backend) backend.Backend {
		return &Timeout{inner: inner, d: cfg.Timeout}
	}
}

func (t *Timeout) Provider() string { return providerName(t.inner) }

// timeoutCall races one logical operation against the timer.
func timeoutCall[T any](ctx context.Context, t *Timeout, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if t.d <= 0 {
		return call(ctx)
	}

	type outcome struct {
		result T
		err    error
	}
	// Buffered so the loser of the race can still deliver and exit.
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		result, err := call(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(t.d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return zero, &llmerrors.TimeoutError{Op: op, Elapsed: time.Since(start)}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Generate implements backend.Backend.
func (t *Timeout) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	return timeoutCall(ctx, t, "generate", func(ctx context.Context) (*backend.GenerationResult, error) {
		return t.inner.Generate(ctx, prompt, opts)
	})
}

// Embed implements backend.Backend.
func (t *Timeout) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	return timeoutCall(ctx, t, "embed", func(ctx context.Context) (*backend.EmbeddingResult, error) {
		return t.inner.Embed(ctx, text, opts)
	})
}

// Stream implements backend.Backend.
func (t *Timeout) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	return timeoutCall(ctx, t, "stream", func(ctx context.Context) (backend.Stream, error) {
		return t.inner.Stream(ctx, prompt, opts)
	})
}
