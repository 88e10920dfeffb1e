package middleware

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// CircuitState represents the current state of a circuit breaker.
// The breaker operates as a three-state machine controlling request flow
// based on observed failure patterns.
type CircuitState int32

const (
	// StateClosed allows requests through and counts failures.
	StateClosed CircuitState = iota
	// StateOpen fails fast without invoking the inner backend.
	StateOpen
	// StateHalfOpen allows requests through while probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// OpenTimeout is how long the circuit stays open before the next call
	// is allowed through as a half-open probe.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultBreakerConfig returns the package defaults: open after 5 failures,
// probe after 30s, close after 2 successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker isolates a failing backend behind a closed/open/half-open
// state machine. All state transitions happen under a single short-held
// mutex, one read-modify-write per call, so concurrent callers never lose
// updates. Lifecycle matches the wrapped backend instance.
type CircuitBreaker struct {
	inner  backend.Backend
	cfg    BreakerConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time

	transitions atomic.Int64
	rejected    atomic.Int64
}

// NewCircuitBreaker creates a circuit breaker middleware with the given
// configuration.
func NewCircuitBreaker(cfg BreakerConfig) Middleware {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	return func(inner backend.Backend) backend.Backend {
		return &CircuitBreaker{
			inner:  inner,
			cfg:    cfg,
			state:  StateClosed,
			logger: slog.Default().With("component", "circuit_breaker"),
		}
	}
}

func (cb *CircuitBreaker) Provider() string { return providerName(cb.inner) }

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats reports state transitions and fast-failed calls.
func (cb *CircuitBreaker) Stats() (transitions, rejected int64) {
	return cb.transitions.Load(), cb.rejected.Load()
}

// allow decides whether a call may proceed, transitioning Open to HalfOpen
// once the open timeout has elapsed since the last failure.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) <= cb.cfg.OpenTimeout {
			cb.rejected.Add(1)
			return &llmerrors.CircuitBreakerError{
				Provider: providerName(cb.inner),
				State:    cb.state.String(),
				Failures: cb.failures,
				ResetAt:  cb.lastFailure.Add(cb.cfg.OpenTimeout).Unix(),
			}
		}
		cb.setState(StateHalfOpen)
	}
	return nil
}

// recordSuccess updates breaker state after a successful call.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setState(StateClosed)
		}
	case StateOpen:
		// A call admitted before the breaker opened finished late; the
		// open state stands until the timeout elapses.
	}
}

// recordFailure updates breaker state after a failed call.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateOpen:
	}
}

// setState transitions the machine and resets counters. Callers hold cb.mu.
func (cb *CircuitBreaker) setState(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.transitions.Add(1)

	cb.logger.Info("circuit breaker state transition",
		"provider", providerName(cb.inner),
		"from", prev.String(),
		"to", next.String())
}

// breakerCall guards one logical operation with the state machine.
func breakerCall[T any](ctx context.Context, cb *CircuitBreaker, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}

	result, err := call(ctx)
	if err != nil {
		cb.recordFailure()
		return zero, err
	}
	cb.recordSuccess()
	return result, nil
}

// Generate implements backend.Backend.
func (cb *CircuitBreaker) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	return breakerCall(ctx, cb, func(ctx context.Context) (*backend.GenerationResult, error) {
		return cb.inner.Generate(ctx, prompt, opts)
	})
}

// Embed implements backend.Backend.
func (cb *CircuitBreaker) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	return breakerCall(ctx, cb, func(ctx context.Context) (*backend.EmbeddingResult, error) {
		return cb.inner.Embed(ctx, text, opts)
	})
}

// Stream implements backend.Backend.
func (cb *CircuitBreaker) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	return breakerCall(ctx, cb, func(ctx context.Context) (backend.Stream, error) {
		return cb.inner.Stream(ctx, prompt, opts)
	})
}
