// Package backend defines the capability contract every LLM provider
// implementation satisfies: generate, embed, and stream. Concrete providers
// adapt official SDKs to this contract; resilience middleware wraps any
// Backend by composition and returns another Backend, so stacks compose in
// any order.
package backend

import (
	"context"
	"time"
)

// Backend is the polymorphic capability any LLM provider must satisfy.
// All operations are context-bound; implementations hold connection and
// configuration state but the contract itself is stateless.
type Backend interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts *GenerateOptions) (*GenerationResult, error)

	// Embed produces an embedding vector for the text.
	// Backends without embedding support return llmerrors.ErrEmbeddingsUnsupported.
	Embed(ctx context.Context, text string, opts *EmbedOptions) (*EmbeddingResult, error)

	// Stream produces an incremental completion for the prompt.
	// Backends without streaming support return llmerrors.ErrStreamingUnsupported.
	Stream(ctx context.Context, prompt string, opts *GenerateOptions) (Stream, error)
}

// Provider returns the canonical provider identifier when the backend
// exposes one. Middleware use it for log fields and breaker diagnostics.
type Provider interface {
	Provider() string
}

// GenerateOptions control model behavior for a single generation call.
// A nil options value means provider defaults.
type GenerateOptions struct {
	Model        string        `json:"model,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	StopWords    []string      `json:"stop_words,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// EmbedOptions control embedding behavior for a single embed call.
type EmbedOptions struct {
	Model string `json:"model,omitempty"`
}

// Usage tracks normalized token consumption across providers.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the normalized output of a generate call.
type GenerationResult struct {
	Text         string `json:"text"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// EmbeddingResult is the normalized output of an embed call.
type EmbeddingResult struct {
	Vector []float64 `json:"vector"`
	Model  string    `json:"model"`
	Usage  Usage     `json:"usage"`
}

// StreamChunk is one incremental piece of a streamed generation.
type StreamChunk struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
}

// Stream yields generation chunks in order. The caller reads with Next until
// it returns false, then checks Err, and must Close to release resources.
type Stream interface {
	// Next advances to the next chunk, returning false at end of stream
	// or on error.
	Next() bool

	// Current returns the chunk positioned by the last successful Next.
	Current() *StreamChunk

	// Err returns the error that terminated the stream, if any.
	Err() error

	// Close releases stream resources. Safe to call more than once.
	Close() error
}
