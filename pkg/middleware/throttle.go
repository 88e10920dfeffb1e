package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tessellate-ai/refine/pkg/backend"
)

// ThrottleConfig controls the token-bucket throttle wrapper.
type ThrottleConfig struct {
	// RPS is the steady-state request rate. Zero or negative disables
	// throttling.
	RPS float64 `json:"rps" yaml:"rps"`

	// Burst is accepted for compatibility but not enforced by the
	// slot-reservation algorithm, which guarantees steady-state spacing
	// only. NewBurstThrottle honors it.
	Burst int `json:"burst" yaml:"burst"`
}

// Throttle enforces a strict minimum inter-call spacing across all
// concurrent callers via a single atomically-advanced "next available slot"
// timestamp. Each call reserves the next slot with one compare-and-swap and
// sleeps until its slot arrives; no blocking queue is needed.
type Throttle struct {
	inner    backend.Backend
	interval time.Duration
	nextSlot atomic.Int64 // unix nanoseconds of the next unreserved slot

	waits      atomic.Int64 // calls that had to wait
	totalDelay atomic.Int64 // nanoseconds spent waiting
}

// NewThrottle creates a throttle middleware with the given configuration.
func NewThrottle(cfg ThrottleConfig) Middleware {
	return func(inner backend.Backend) backend.Backend {
		t := &Throttle{inner: inner}
		if cfg.RPS > 0 {
			t.interval = time.Duration(float64(time.Second) / cfg.RPS)
		}
		return t
	}
}

func (t *Throttle) Provider() string { return providerName(t.inner) }

// acquire reserves the next slot and blocks until it arrives or the context
// is cancelled. The reservation advances shared state exactly once per call:
// mySlot = max(next, now) + interval.
func (t *Throttle) acquire(ctx context.Context) error {
	if t.interval <= 0 {
		return nil
	}

	var mySlot int64
	for {
		now := time.Now().UnixNano()
		next := t.nextSlot.Load()
		base := next
		if now > base {
			base = now
		}
		mySlot = base + int64(t.interval)
		if t.nextSlot.CompareAndSwap(next, mySlot) {
			break
		}
	}

	delay := time.Duration(mySlot - time.Now().UnixNano())
	if delay <= 0 {
		return nil
	}

	t.waits.Add(1)
	t.totalDelay.Add(int64(delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generate implements backend.Backend.
func (t *Throttle) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	return t.inner.Generate(ctx, prompt, opts)
}

// Embed implements backend.Backend.
func (t *Throttle) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	return t.inner.Embed(ctx, text, opts)
}

// Stream implements backend.Backend.
func (t *Throttle) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	return t.inner.Stream(ctx, prompt, opts)
}

// Stats reports how many calls waited and the cumulative wait time.
func (t *Throttle) Stats() (waits int64, totalDelay time.Duration) {
	return t.waits.Load(), time.Duration(t.totalDelay.Load())
}

// burstThrottle wraps a backend with a rate.Limiter-backed token bucket that
// honors burst capacity, trading the strict-spacing guarantee of Throttle
// for bursty admission.
type burstThrottle struct {
	inner   backend.Backend
	limiter *rate.Limiter
}

// NewBurstThrottle creates a throttle middleware honoring burst capacity via
// a token bucket. Use this variant when short bursts above the steady-state
// rate are acceptable.
func NewBurstThrottle(cfg ThrottleConfig) Middleware {
	return func(inner backend.Backend) backend.Backend {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		return &burstThrottle{
			inner:   inner,
			limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		}
	}
}

func (t *burstThrottle) Provider() string { return providerName(t.inner) }

func (t *burstThrottle) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Generate(ctx, prompt, opts)
}

func (t *burstThrottle) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Embed(ctx, text, opts)
}

func (t *burstThrottle) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Stream(ctx, prompt, opts)
}
