package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// RetryConfig controls retry behavior for failed backend operations.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so the
	// inner backend is invoked at most MaxRetries+1 times.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// BackoffFactor is the exponential multiplier applied per attempt.
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor"`

	// Jitter scales each capped delay by a uniform factor in [0.5, 1.0],
	// spreading concurrent retriers apart.
	Jitter bool `json:"jitter" yaml:"jitter"`

	// Retryable overrides the default transient-error predicate
	// (llmerrors.IsRetryable) when non-nil.
	Retryable func(error) bool `json:"-" yaml:"-"`
}

// DefaultRetryConfig mirrors the package defaults: 3 retries, 200ms initial
// delay, 10s cap, doubling backoff with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Retry retries transient failures with exponential backoff and optional
// jitter. Non-retryable errors propagate immediately without delay; once
// attempts are exhausted the last error propagates.
type Retry struct {
	inner     backend.Backend
	cfg       RetryConfig
	retryable func(error) bool
	logger    *slog.Logger

	attempts  atomic.Int64 // total inner invocations
	retries   atomic.Int64 // invocations beyond the first attempt
	exhausted atomic.Int64 // calls that ran out of retries
}

// NewRetry creates a retry middleware with the given configuration.
func NewRetry(cfg RetryConfig) Middleware {
	return func(inner backend.Backend) backend.Backend {
		retryable := cfg.Retryable
		if retryable == nil {
			retryable = llmerrors.IsRetryable
		}
		return &Retry{
			inner:     inner,
			cfg:       cfg,
			retryable: retryable,
			logger:    slog.Default().With("component", "retry"),
		}
	}
}

func (r *Retry) Provider() string { return providerName(r.inner) }

// backoffDelay computes the capped, optionally jittered delay before retry
// number attempt (zero-based): min(maxDelay, initialDelay * factor^attempt),
// scaled by a uniform factor in [0.5, 1.0] when jitter is enabled.
func (r *Retry) backoffDelay(attempt int) time.Duration {
	base := r.cfg.InitialDelay
	if base <= 0 {
		base = time.Millisecond
	}
	factor := r.cfg.BackoffFactor
	if factor < 1.0 {
		factor = 1.0
	}

	delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
	if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}

	if r.cfg.Jitter {
		// Uniform in [0.5, 1.0] of the capped delay.
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5)) // #nosec G404 -- non-cryptographic jitter
	}
	return delay
}

// retryCall drives the retry loop for one logical operation.
func retryCall[T any](ctx context.Context, r *Retry, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			r.retries.Add(1)
		}

		result, err := call(ctx)
		r.attempts.Add(1)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("request succeeded after retry",
					"op", op,
					"attempt", attempt+1,
					"provider", r.Provider())
			}
			return result, nil
		}
		lastErr = err

		if !r.retryable(err) {
			r.logger.Debug("non-retryable error",
				"op", op,
				"attempt", attempt+1,
				"error", err)
			return zero, err
		}

		if attempt == r.cfg.MaxRetries {
			break
		}

		delay := r.backoffDelay(attempt)
		if guided := llmerrors.GetRetryAfter(err); guided > 0 {
			delay = guided
		}

		r.logger.Debug("retrying after backoff",
			"op", op,
			"attempt", attempt+1,
			"backoff", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	r.exhausted.Add(1)
	return zero, fmt.Errorf("%w after %d attempts: %w",
		llmerrors.ErrMaxRetriesExceeded, r.cfg.MaxRetries+1, lastErr)
}

// Generate implements backend.Backend.
func (r *Retry) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	return retryCall(ctx, r, "generate", func(ctx context.Context) (*backend.GenerationResult, error) {
		return r.inner.Generate(ctx, prompt, opts)
	})
}

// Embed implements backend.Backend.
func (r *Retry) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	return retryCall(ctx, r, "embed", func(ctx context.Context) (*backend.EmbeddingResult, error) {
		return r.inner.Embed(ctx, text, opts)
	})
}

// Stream implements backend.Backend.
func (r *Retry) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	return retryCall(ctx, r, "stream", func(ctx context.Context) (backend.Stream, error) {
		return r.inner.Stream(ctx, prompt, opts)
	})
}

// Stats reports total inner invocations, retries, and exhausted calls.
func (r *Retry) Stats() (attempts, retries, exhausted int64) {
	return r.attempts.Load(), r.retries.Load(), r.exhausted.Load()
}
