// Package providers adapts official and community LLM SDKs to the
// backend.Backend contract. Each adapter normalizes requests, responses,
// usage accounting, and error classification for its provider.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

// Canonical provider identifiers, matching configuration keys.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Register installs all bundled provider factories into the registry.
func Register(r *backend.Registry) {
	r.Register(ProviderOpenAI, NewOpenAI)
	r.Register(ProviderAnthropic, NewAnthropic)
	r.Register(ProviderOllama, NewOllama)
}

// DefaultRegistry returns a registry pre-populated with the bundled providers.
func DefaultRegistry() *backend.Registry {
	r := backend.NewRegistry()
	Register(r)
	return r
}

const (
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOpenAIEmbedModel = "text-embedding-3-small"
)

// openAIBackend implements backend.Backend over the go-openai client.
type openAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAI constructs an OpenAI backend. APIKey is required; BaseURL and
// Organization are optional overrides.
func NewOpenAI(cfg backend.Config) (backend.Backend, error) {
	if cfg.APIKey == "" {
		return nil, &llmerrors.ValidationError{Field: "api_key", Message: "api key is required"}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &openAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (b *openAIBackend) Provider() string { return ProviderOpenAI }

// Generate implements backend.Backend.
func (b *openAIBackend) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	req := b.chatRequest(prompt, opts)

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llmerrors.ProviderError{
			Provider: ProviderOpenAI,
			Message:  "no choices in response",
			Type:     llmerrors.ErrorTypeProvider,
		}
	}

	choice := resp.Choices[0]
	return &backend.GenerationResult{
		Text:  choice.Message.Content,
		Model: resp.Model,
		Usage: backend.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Embed implements backend.Backend.
func (b *openAIBackend) Embed(ctx context.Context, text string, opts *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	model := defaultOpenAIEmbedModel
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}

	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &llmerrors.ProviderError{
			Provider: ProviderOpenAI,
			Message:  "no embeddings in response",
			Type:     llmerrors.ErrorTypeProvider,
		}
	}

	vector := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float64(v)
	}

	return &backend.EmbeddingResult{
		Vector: vector,
		Model:  string(resp.Model),
		Usage:  backend.Usage{PromptTokens: resp.Usage.PromptTokens},
	}, nil
}

// Stream implements backend.Backend.
func (b *openAIBackend) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	req := b.chatRequest(prompt, opts)
	req.Stream = true

	stream, err := b.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	return &openAIStream{stream: stream}, nil
}

// chatRequest builds the common chat completion request for generate and
// stream calls.
func (b *openAIBackend) chatRequest(prompt string, opts *backend.GenerateOptions) openai.ChatCompletionRequest {
	model := b.model
	messages := []openai.ChatCompletionMessage{}

	req := openai.ChatCompletionRequest{}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.SystemPrompt != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: opts.SystemPrompt,
			})
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			req.Temperature = float32(opts.Temperature)
		}
		if len(opts.StopWords) > 0 {
			req.Stop = opts.StopWords
		}
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req.Model = model
	req.Messages = messages
	return req
}

// openAIStream adapts openai.ChatCompletionStream to backend.Stream.
type openAIStream struct {
	stream  *openai.ChatCompletionStream
	current *backend.StreamChunk
	err     error
	done    bool
}

func (s *openAIStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.done = true
		return false
	}
	if err != nil {
		s.err = convertOpenAIError(err)
		return false
	}

	chunk := &backend.StreamChunk{}
	if len(resp.Choices) > 0 {
		chunk.Text = resp.Choices[0].Delta.Content
		if resp.Choices[0].FinishReason != "" {
			chunk.FinishReason = string(resp.Choices[0].FinishReason)
			chunk.Done = true
			s.done = true
		}
	}
	s.current = chunk
	return true
}

func (s *openAIStream) Current() *backend.StreamChunk { return s.current }

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) Close() error {
	s.done = true
	return s.stream.Close()
}

// convertOpenAIError maps go-openai errors to the shared taxonomy.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}

	perr := &llmerrors.ProviderError{
		Provider:   ProviderOpenAI,
		StatusCode: apiErr.HTTPStatusCode,
		Message:    apiErr.Message,
	}
	if code, ok := apiErr.Code.(string); ok {
		perr.Code = code
	}

	switch {
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		perr.Type = llmerrors.ErrorTypeRateLimit
	case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
		perr.Type = llmerrors.ErrorTypeAuth
	case apiErr.HTTPStatusCode == http.StatusRequestTimeout:
		perr.Type = llmerrors.ErrorTypeTimeout
	case apiErr.HTTPStatusCode >= 500:
		perr.Type = llmerrors.ErrorTypeProvider
	default:
		perr.Type = llmerrors.ErrorTypeValidation
	}
	return perr
}
