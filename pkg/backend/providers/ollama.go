package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

const (
	defaultOllamaModel      = "llama3.2"
	defaultOllamaEmbedModel = "mxbai-embed-large"
)

// ollamaBackend implements backend.Backend over the Ollama HTTP API.
type ollamaBackend struct {
	client *api.Client
	model  string
}

// NewOllama constructs an Ollama backend. An empty BaseURL falls back to the
// OLLAMA_HOST environment resolution used by the upstream client.
func NewOllama(cfg backend.Config) (backend.Backend, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, &llmerrors.ValidationError{Field: "base_url", Value: cfg.BaseURL, Message: err.Error()}
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}

	return &ollamaBackend{client: client, model: model}, nil
}

func (b *ollamaBackend) Provider() string { return ProviderOllama }

// Generate implements backend.Backend.
func (b *ollamaBackend) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	req := b.generateRequest(prompt, opts, false)

	var final api.GenerateResponse
	err := b.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	return &backend.GenerationResult{
		Text:  final.Response,
		Model: final.Model,
		Usage: backend.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		},
		FinishReason: final.DoneReason,
	}, nil
}

// Embed implements backend.Backend.
func (b *ollamaBackend) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	model := defaultOllamaEmbedModel
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}

	resp, err := b.client.Embed(ctx, &api.EmbedRequest{
		Model: model,
		Input: text,
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, &llmerrors.ProviderError{
			Provider: ProviderOllama,
			Message:  "no embeddings in response",
			Type:     llmerrors.ErrorTypeProvider,
		}
	}

	vector := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		vector[i] = float64(v)
	}

	return &backend.EmbeddingResult{
		Vector: vector,
		Model:  resp.Model,
		Usage:  backend.Usage{PromptTokens: resp.PromptEvalCount},
	}, nil
}

// Stream implements backend.Backend. The Ollama client delivers chunks via a
// callback, so a goroutine pumps them into a buffered channel the Stream
// reads from.
func (b *ollamaBackend) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	req := b.generateRequest(prompt, opts, true)

	s := &ollamaStream{
		chunks: make(chan *backend.StreamChunk, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.chunks)
		err := b.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
			chunk := &backend.StreamChunk{
				Text: resp.Response,
				Done: resp.Done,
			}
			if resp.Done {
				chunk.FinishReason = resp.DoneReason
			}
			select {
			case s.chunks <- chunk:
				return nil
			case <-s.done:
				return context.Canceled
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			s.setErr(convertOllamaError(err))
		}
	}()

	return s, nil
}

// generateRequest builds the common generate request for sync and streaming
// calls.
func (b *ollamaBackend) generateRequest(prompt string, opts *backend.GenerateOptions, stream bool) *api.GenerateRequest {
	model := b.model
	options := map[string]any{}

	req := &api.GenerateRequest{Prompt: prompt, Stream: &stream}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.SystemPrompt != "" {
			req.System = opts.SystemPrompt
		}
		if opts.Temperature > 0 {
			options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			options["num_predict"] = opts.MaxTokens
		}
		if len(opts.StopWords) > 0 {
			options["stop"] = opts.StopWords
		}
	}

	req.Model = model
	if len(options) > 0 {
		req.Options = options
	}
	return req
}

// ollamaStream adapts the callback-driven Ollama API to backend.Stream.
type ollamaStream struct {
	chunks  chan *backend.StreamChunk
	done    chan struct{}
	current *backend.StreamChunk
	err     error
	closed  bool
}

func (s *ollamaStream) Next() bool {
	chunk, ok := <-s.chunks
	if !ok {
		return false
	}
	s.current = chunk
	return true
}

func (s *ollamaStream) Current() *backend.StreamChunk { return s.current }

func (s *ollamaStream) Err() error { return s.err }

func (s *ollamaStream) setErr(err error) { s.err = err }

func (s *ollamaStream) Close() error {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// convertOllamaError maps Ollama client errors to the shared taxonomy.
func convertOllamaError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr api.StatusError
	if ok := asStatusError(err, &statusErr); ok {
		perr := &llmerrors.ProviderError{
			Provider:   ProviderOllama,
			StatusCode: statusErr.StatusCode,
			Message:    statusErr.ErrorMessage,
		}
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			perr.Type = llmerrors.ErrorTypeRateLimit
		case statusErr.StatusCode >= 500:
			perr.Type = llmerrors.ErrorTypeProvider
		default:
			perr.Type = llmerrors.ErrorTypeValidation
		}
		return perr
	}

	return fmt.Errorf("ollama: %w", err)
}

// asStatusError unwraps api.StatusError, which the client returns by value.
func asStatusError(err error, target *api.StatusError) bool {
	if se, ok := err.(api.StatusError); ok {
		*target = se
		return true
	}
	return false
}
