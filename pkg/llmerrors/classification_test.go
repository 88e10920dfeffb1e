package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{
			"circuit breaker rejection never retries",
			&CircuitBreakerError{Provider: "openai", State: "open"},
			false,
		},
		{
			"rate limit error",
			&RateLimitError{Provider: "openai", RetryAfter: 2},
			true,
		},
		{
			"provider 503",
			&ProviderError{Provider: "openai", StatusCode: 503, Type: ErrorTypeProvider},
			true,
		},
		{
			"provider auth failure",
			&ProviderError{Provider: "openai", StatusCode: 401, Type: ErrorTypeAuth},
			false,
		},
		{
			"validation failure",
			&ValidationError{Field: "prompt", Message: "empty"},
			false,
		},
		{"timeout error", &TimeoutError{Op: "generate", Elapsed: time.Second}, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"rate limit sentinel", ErrRateLimitExceeded, true},
		{"provider unavailable sentinel", ErrProviderUnavailable, true},
		{"breaker open sentinel", fmt.Errorf("guard: %w", ErrCircuitBreakerOpen), false},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"connection refused string", errors.New("dial tcp 127.0.0.1:443: connection refused"), true},
		{"plain error", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryableHonorsWrappedTypes(t *testing.T) {
	inner := &ProviderError{Provider: "anthropic", StatusCode: 429, Type: ErrorTypeRateLimit}
	wrapped := fmt.Errorf("generate: %w", inner)
	assert.True(t, IsRetryable(wrapped))
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.True(t, IsTimeout(&TimeoutError{Op: "embed"}))
	assert.True(t, IsTimeout(fmt.Errorf("x: %w", &TimeoutError{Op: "embed"})))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(context.Canceled))
}

func TestGetRetryAfter(t *testing.T) {
	assert.Zero(t, GetRetryAfter(nil))
	assert.Zero(t, GetRetryAfter(errors.New("boom")))

	withGuidance := &RateLimitError{Provider: "openai", RetryAfter: 3}
	assert.Equal(t, 3*time.Second, GetRetryAfter(withGuidance))
	assert.Equal(t, 3*time.Second, GetRetryAfter(fmt.Errorf("x: %w", withGuidance)))

	noGuidance := &RateLimitError{Provider: "openai"}
	assert.Zero(t, GetRetryAfter(noGuidance))
}

func TestTimeoutErrorDiscriminator(t *testing.T) {
	err := &TimeoutError{Op: "generate", Elapsed: 1500 * time.Millisecond}
	assert.True(t, err.Timeout())
	assert.Contains(t, err.Error(), "generate")

	// net.Error-style probing works through the interface.
	var probe interface{ Timeout() bool }
	assert.ErrorAs(t, fmt.Errorf("wrap: %w", err), &probe)
	assert.True(t, probe.Timeout())
}

func TestProviderErrorRetryability(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeTimeout, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeNetwork, true},
		{ErrorTypeProvider, true},
		{ErrorTypeCircuitBreaker, false},
		{ErrorTypeValidation, false},
		{ErrorTypeAuth, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &ProviderError{Provider: "p", Type: tt.errType}
			assert.Equal(t, tt.want, err.IsRetryable())
		})
	}
}
