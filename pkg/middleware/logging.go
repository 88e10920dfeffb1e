package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/refine/pkg/backend"
)

// Logging logs each call with a per-request id, duration, and outcome.
// It is a pure observer: requests and results pass through unchanged.
type Logging struct {
	inner  backend.Backend
	logger *slog.Logger
}

// NewLogging creates a logging middleware. A nil logger falls back to
// slog.Default.
func NewLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(inner backend.Backend) backend.Backend {
		return &Logging{
			inner:  inner,
			logger: logger.With("component", "llm_backend"),
		}
	}
}

func (l *Logging) Provider() string { return providerName(l.inner) }

// Generate implements backend.Backend.
func (l *Logging) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	requestID := uuid.New().String()
	logger := l.logger.With(
		"request_id", requestID,
		"provider", providerName(l.inner),
		"operation", "generate",
	)
	logger.DebugContext(ctx, "llm call starting", "prompt_length", len(prompt))

	start := time.Now()
	result, err := l.inner.Generate(ctx, prompt, opts)
	elapsed := time.Since(start)

	if err != nil {
		logger.ErrorContext(ctx, "llm call failed",
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	logger.InfoContext(ctx, "llm call completed",
		"duration_ms", elapsed.Milliseconds(),
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)
	return result, nil
}

// Embed implements backend.Backend.
func (l *Logging) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	requestID := uuid.New().String()
	logger := l.logger.With(
		"request_id", requestID,
		"provider", providerName(l.inner),
		"operation", "embed",
	)
	logger.DebugContext(ctx, "llm call starting", "text_length", len(text))

	start := time.Now()
	result, err := l.inner.Embed(ctx, text, opts)
	elapsed := time.Since(start)

	if err != nil {
		logger.ErrorContext(ctx, "llm call failed",
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	logger.InfoContext(ctx, "llm call completed",
		"duration_ms", elapsed.Milliseconds(),
		"model", result.Model,
		"dimensions", len(result.Vector),
	)
	return result, nil
}

// Stream implements backend.Backend.
func (l *Logging) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	requestID := uuid.New().String()
	logger := l.logger.With(
		"request_id", requestID,
		"provider", providerName(l.inner),
		"operation", "stream",
	)
	logger.DebugContext(ctx, "llm stream starting", "prompt_length", len(prompt))

	start := time.Now()
	stream, err := l.inner.Stream(ctx, prompt, opts)
	if err != nil {
		logger.ErrorContext(ctx, "llm stream failed to open",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	logger.InfoContext(ctx, "llm stream opened",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stream, nil
}
