package llmerrors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RetryAfterProvider is implemented by error types that can provide a
// specific duration to wait before retrying, letting servers communicate
// backpressure the client can respect.
type RetryAfterProvider interface {
	// GetRetryAfter returns the recommended duration to wait before the
	// next attempt, or zero when no guidance is available.
	GetRetryAfter() time.Duration
}

// IsRetryable determines if an error warrants a retry attempt.
// Examines error types, HTTP status codes, and network failure patterns to
// provide consistent retry decisions across all backend operations.
// Circuit breaker rejections are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Breaker rejections fail fast; retrying them defeats the breaker.
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return false
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	// HTTP-like status codes: 429, 503, and the rest of the 5xx range.
	type statusCoder interface {
		StatusCode() int
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return retryableStatus(sc.StatusCode())
	}

	if isNetworkError(err) {
		return true
	}

	// Conservative default - avoid retry loops for unknown errors.
	return false
}

// IsTimeout reports whether err is a distinguished timeout outcome.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetRetryAfter extracts retry-after guidance from an error chain.
// Returns zero when no specific guidance is available.
func GetRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}

// retryableStatus classifies HTTP status codes for retry eligibility.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable ||
		(code >= 500 && code < 600)
}

// isNetworkError checks if an error is network-related using type assertions
// before falling back to string patterns for errors that lost their type
// through formatting.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return isNetworkErrorByString(err.Error())
}

// isNetworkErrorByString checks for network errors using string patterns.
func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

// networkErrorIndicators are pre-lowercased substrings of common transport
// failures surfaced as plain strings.
var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}
