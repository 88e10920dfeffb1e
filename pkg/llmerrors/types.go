// Package llmerrors defines the error taxonomy shared by backends,
// middleware, and the evaluation engine. Errors carry enough structure
// for retry classification: transient failures are retried, permanent
// ones surface immediately, and circuit-open and timeout conditions are
// distinguishable from ordinary call failures.
package llmerrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes backend operation failures for retry classification.
// Types determine whether operations should be retried and with what backoff
// strategy, enabling resilient handling of transient vs. permanent failures.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates rate limit exceeded, retry with backoff (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates provider service unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker indicates circuit breaker protection activated (non-retryable).
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeValidation indicates input validation failed (non-retryable).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common backend operation errors for consistent error handling.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrUnknownProvider indicates an unknown or unsupported provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrStreamingUnsupported indicates the backend cannot stream responses.
	ErrStreamingUnsupported = errors.New("streaming not supported")

	// ErrEmbeddingsUnsupported indicates the backend cannot produce embeddings.
	ErrEmbeddingsUnsupported = errors.New("embeddings not supported")

	// ErrMaxRetriesExceeded indicates maximum retry attempts exceeded.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ProviderError captures structured error responses from LLM providers.
// Includes HTTP status codes, provider-specific error codes, and retry timing
// to enable appropriate retry behavior and error diagnosis.
type ProviderError struct {
	Provider   string    `json:"provider"`    // Provider name
	StatusCode int       `json:"status_code"` // HTTP status code
	Message    string    `json:"message"`     // Error message
	Code       string    `json:"code"`        // Provider error code
	Type       ErrorType `json:"type"`        // Classified error type
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns the formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable determines if the provider error warrants a retry attempt.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError provides detailed rate limit context for backoff calculation.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`       // Rate limit
	Remaining  int    `json:"remaining"`   // Remaining requests
	LocalLimit bool   `json:"local_limit"` // Whether this is a local limit
}

// Error returns the formatted rate limit error with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError indicates the breaker rejected a call without invoking
// the wrapped backend. It is distinct from a call failure and carries the
// breaker state at rejection time for diagnostics. Circuit breaker errors are
// never retryable: retrying a tripped breaker defeats its purpose.
type CircuitBreakerError struct {
	Provider string `json:"provider"`
	State    string `json:"state"`    // "open" or "half-open"
	Failures int    `json:"failures"` // Consecutive failures observed
	ResetAt  int64  `json:"reset_at"` // Unix timestamp when the breaker may half-open
}

// Error returns the formatted circuit breaker error with state context.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Provider)
}

// TimeoutError is the distinguished timeout outcome. It means "no result was
// available by the deadline", not "the operation stopped": the losing
// operation may still run to completion in the background. Callers check the
// Timeout() discriminator (or errors.As) rather than treating it as a hard
// failure.
type TimeoutError struct {
	Op      string        `json:"op"`      // Operation that timed out
	Elapsed time.Duration `json:"elapsed"` // Time waited before giving up
}

// Error returns the formatted timeout error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// Timeout reports true, satisfying the net.Error-style discriminator.
func (e *TimeoutError) Timeout() bool { return true }

// ValidationError captures input validation failures with structured context.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Invalid value
	Message string `json:"message"` // Validation message
}

// Error returns the formatted validation error with field-specific context.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ScoreOutOfRangeError reports a metric returning a score outside [0, 1].
// This is a programmer error: it fails the whole evaluation fast and is
// never retried.
type ScoreOutOfRangeError struct {
	Score float64 `json:"score"`
}

// Error returns the formatted out-of-range score error.
func (e *ScoreOutOfRangeError) Error() string {
	return fmt.Sprintf("metric returned score %v outside [0.0, 1.0]", e.Score)
}
