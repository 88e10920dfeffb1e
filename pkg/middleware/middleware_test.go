package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// fakeBackend counts invocations and delegates to overridable hooks.
type fakeBackend struct {
	calls       atomic.Int64
	generateErr func(call int64) error
	delay       time.Duration
}

func (f *fakeBackend) Provider() string { return "fake" }

func (f *fakeBackend) Generate(ctx context.Context, prompt string, _ *backend.GenerateOptions) (*backend.GenerationResult, error) {
	call := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.generateErr != nil {
		if err := f.generateErr(call); err != nil {
			return nil, err
		}
	}
	return &backend.GenerationResult{Text: "ok: " + prompt, Model: "fake-model"}, nil
}

func (f *fakeBackend) Embed(ctx context.Context, text string, _ *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	f.calls.Add(1)
	return &backend.EmbeddingResult{Vector: []float64{0.1, 0.2}, Model: "fake-embed"}, nil
}

func (f *fakeBackend) Stream(ctx context.Context, prompt string, _ *backend.GenerateOptions) (backend.Stream, error) {
	f.calls.Add(1)
	return nil, llmerrors.ErrStreamingUnsupported
}

func TestChainAppliesFirstMiddlewareOutermost(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(inner backend.Backend) backend.Backend {
			return &tagBackend{inner: inner, name: name, order: &order}
		}
	}

	fake := &fakeBackend{}
	wrapped := Chain(fake, tag("outer"), tag("middle"), tag("inner"))

	_, err := wrapped.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "middle", "inner"}, order)
}

type tagBackend struct {
	inner backend.Backend
	name  string
	order *[]string
}

func (b *tagBackend) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	*b.order = append(*b.order, b.name)
	return b.inner.Generate(ctx, prompt, opts)
}

func (b *tagBackend) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	return b.inner.Embed(ctx, text, opts)
}

func (b *tagBackend) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	return b.inner.Stream(ctx, prompt, opts)
}

func TestThrottleEnforcesMinimumSpacing(t *testing.T) {
	const rps = 50.0 // 20ms interval
	const calls = 5

	fake := &fakeBackend{}
	throttled := NewThrottle(ThrottleConfig{RPS: rps})(fake)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := throttled.Generate(context.Background(), "x", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every call reserves a fresh slot, so n calls take at least n intervals
	// from a cold start.
	minElapsed := time.Duration(float64(calls) * float64(time.Second) / rps)
	assert.GreaterOrEqual(t, time.Since(start), minElapsed-5*time.Millisecond)
	assert.Equal(t, int64(calls), fake.calls.Load())
}

func TestThrottleDisabledPassesThrough(t *testing.T) {
	fake := &fakeBackend{}
	throttled := NewThrottle(ThrottleConfig{RPS: 0})(fake)

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := throttled.Generate(context.Background(), "x", nil)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleHonorsContextCancellation(t *testing.T) {
	fake := &fakeBackend{}
	wrapped := NewThrottle(ThrottleConfig{RPS: 1})(fake)

	// At 1 RPS the first slot is a full second away; the context expires
	// long before it arrives.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := wrapped.Generate(ctx, "y", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), fake.calls.Load())
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	fake := &fakeBackend{
		generateErr: func(call int64) error {
			if call <= 2 {
				return &llmerrors.ProviderError{
					Provider:   "fake",
					StatusCode: 503,
					Message:    "overloaded",
					Type:       llmerrors.ErrorTypeProvider,
				}
			}
			return nil
		},
	}
	wrapped := NewRetry(RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
	})(fake)

	result, err := wrapped.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", result.Text)
	assert.Equal(t, int64(3), fake.calls.Load())
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	permanent := &llmerrors.ValidationError{Field: "prompt", Message: "empty"}
	fake := &fakeBackend{
		generateErr: func(int64) error { return permanent },
	}
	wrapped := NewRetry(RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond})(fake)

	_, err := wrapped.Generate(context.Background(), "", nil)
	require.Error(t, err)

	var ve *llmerrors.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(1), fake.calls.Load(), "non-retryable errors must not be retried")
}

func TestRetryExhaustsAfterMaxRetries(t *testing.T) {
	fake := &fakeBackend{
		generateErr: func(int64) error {
			return &llmerrors.ProviderError{StatusCode: 500, Type: llmerrors.ErrorTypeProvider}
		},
	}
	wrapped := NewRetry(RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 1.0,
	})(fake)

	_, err := wrapped.Generate(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, llmerrors.ErrMaxRetriesExceeded)
	assert.Equal(t, int64(3), fake.calls.Load(), "initial attempt plus max_retries")
}

func TestRetryHonorsRetryAfterGuidance(t *testing.T) {
	guided := 30 * time.Millisecond
	fake := &fakeBackend{
		generateErr: func(call int64) error {
			if call == 1 {
				return &guidedError{after: guided}
			}
			return nil
		},
	}
	wrapped := NewRetry(RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})(fake)

	start := time.Now()
	_, err := wrapped.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), guided-time.Millisecond)
}

// guidedError is retryable and carries explicit retry-after guidance.
type guidedError struct{ after time.Duration }

func (e *guidedError) Error() string                { return "slow down" }
func (e *guidedError) Unwrap() error                { return llmerrors.ErrRateLimitExceeded }
func (e *guidedError) GetRetryAfter() time.Duration { return e.after }

func TestCircuitBreakerLifecycle(t *testing.T) {
	boom := errors.New("boom")
	var failing atomic.Bool
	failing.Store(true)

	fake := &fakeBackend{
		generateErr: func(int64) error {
			if failing.Load() {
				return boom
			}
			return nil
		},
	}

	mw := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      40 * time.Millisecond,
		SuccessThreshold: 2,
	})(fake)
	cb := mw.(*CircuitBreaker)

	ctx := context.Background()

	// Two failures trip the breaker open.
	for i := 0; i < 2; i++ {
		_, err := mw.Generate(ctx, "x", nil)
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open state fast-fails without touching the inner backend.
	before := fake.calls.Load()
	_, err := mw.Generate(ctx, "x", nil)
	require.Error(t, err)
	var cbErr *llmerrors.CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "open", cbErr.State)
	assert.Equal(t, before, fake.calls.Load())

	// After the open timeout the next call probes in half-open.
	time.Sleep(50 * time.Millisecond)
	failing.Store(false)

	_, err = mw.Generate(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// The second consecutive success closes the circuit.
	_, err = mw.Generate(ctx, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeBackend{generateErr: func(int64) error { return boom }}

	mw := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      20 * time.Millisecond,
		SuccessThreshold: 1,
	})(fake)
	cb := mw.(*CircuitBreaker)

	ctx := context.Background()
	_, err := mw.Generate(ctx, "x", nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	// The half-open probe fails and the breaker reopens.
	_, err = mw.Generate(ctx, "x", nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestTimeoutReturnsTimeoutError(t *testing.T) {
	fake := &fakeBackend{delay: 200 * time.Millisecond}
	wrapped := NewTimeout(TimeoutConfig{Timeout: 20 * time.Millisecond})(fake)

	start := time.Now()
	_, err := wrapped.Generate(context.Background(), "slow", nil)
	require.Error(t, err)

	var te *llmerrors.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.True(t, llmerrors.IsTimeout(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond, "must not wait for the slow call")
}

func TestTimeoutPassesFastCallsThrough(t *testing.T) {
	fake := &fakeBackend{}
	wrapped := NewTimeout(TimeoutConfig{Timeout: time.Second})(fake)

	result, err := wrapped.Generate(context.Background(), "fast", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: fast", result.Text)
}

func TestLoggingIsPassThrough(t *testing.T) {
	fake := &fakeBackend{}
	wrapped := NewLogging(nil)(fake)

	result, err := wrapped.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", result.Text)

	boom := errors.New("boom")
	fake.generateErr = func(int64) error { return boom }
	_, err = wrapped.Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, boom)
}

func TestFullStackComposition(t *testing.T) {
	fake := &fakeBackend{
		generateErr: func(call int64) error {
			if call == 1 {
				return &llmerrors.ProviderError{StatusCode: 503, Type: llmerrors.ErrorTypeProvider}
			}
			return nil
		},
	}

	wrapped := Chain(fake,
		NewLogging(nil),
		NewCircuitBreaker(DefaultBreakerConfig()),
		NewRetry(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond}),
		NewThrottle(ThrottleConfig{RPS: 1000}),
		NewTimeout(TimeoutConfig{Timeout: time.Second}),
	)

	result, err := wrapped.Generate(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", result.Text)
	assert.Equal(t, int64(2), fake.calls.Load())
}
