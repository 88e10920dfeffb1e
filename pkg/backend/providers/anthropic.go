package providers

import (
	"context"
	"errors"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tessellate-ai/refine/pkg/backend"
	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// anthropicBackend implements backend.Backend over the Anthropic SDK.
// The Messages API has no embeddings endpoint, so Embed reports
// llmerrors.ErrEmbeddingsUnsupported.
type anthropicBackend struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic constructs an Anthropic backend. APIKey is required.
func NewAnthropic(cfg backend.Config) (backend.Backend, error) {
	if cfg.APIKey == "" {
		return nil, &llmerrors.ValidationError{Field: "api_key", Message: "api key is required"}
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	return &anthropicBackend{client: &client, model: model}, nil
}

func (b *anthropicBackend) Provider() string { return ProviderAnthropic }

// Generate implements backend.Backend.
func (b *anthropicBackend) Generate(ctx context.Context, prompt string, opts *backend.GenerateOptions) (*backend.GenerationResult, error) {
	params := b.messageParams(prompt, opts)

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertAnthropicError(err)
	}

	var text string
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text += block.Text
		}
	}

	in := int(message.Usage.InputTokens)
	out := int(message.Usage.OutputTokens)
	return &backend.GenerationResult{
		Text:  text,
		Model: string(message.Model),
		Usage: backend.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		FinishReason: string(message.StopReason),
	}, nil
}

// Embed implements backend.Backend.
func (b *anthropicBackend) Embed(_ context.Context, _ string, _ *backend.EmbedOptions) (*backend.EmbeddingResult, error) {
	return nil, llmerrors.ErrEmbeddingsUnsupported
}

// Stream implements backend.Backend.
func (b *anthropicBackend) Stream(ctx context.Context, prompt string, opts *backend.GenerateOptions) (backend.Stream, error) {
	params := b.messageParams(prompt, opts)
	return &anthropicStream{stream: b.client.Messages.NewStreaming(ctx, params)}, nil
}

// messageParams builds the common message params for generate and stream
// calls.
func (b *anthropicBackend) messageParams(prompt string, opts *backend.GenerateOptions) anthropic.MessageNewParams {
	model := b.model
	maxTokens := int64(defaultAnthropicMaxTokens)

	params := anthropic.MessageNewParams{}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxTokens > 0 {
			maxTokens = int64(opts.MaxTokens)
		}
		if opts.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
		}
		if opts.Temperature > 0 {
			params.Temperature = anthropic.Float(opts.Temperature)
		}
		if len(opts.StopWords) > 0 {
			params.StopSequences = opts.StopWords
		}
	}

	params.Model = anthropic.Model(model)
	params.MaxTokens = maxTokens
	params.Messages = []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	return params
}

// anthropicStream adapts the SDK's SSE stream to backend.Stream. Non-text
// events are skipped; the message_delta event carries the stop reason.
type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current *backend.StreamChunk
	err     error
	closed  bool
}

func (s *anthropicStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	for s.stream.Next() {
		event := s.stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				s.current = &backend.StreamChunk{Text: delta.Text}
				return true
			}
		case anthropic.MessageDeltaEvent:
			s.current = &backend.StreamChunk{
				FinishReason: string(evt.Delta.StopReason),
				Done:         true,
			}
			return true
		}
	}

	if err := s.stream.Err(); err != nil {
		s.err = convertAnthropicError(err)
	}
	return false
}

func (s *anthropicStream) Current() *backend.StreamChunk { return s.current }

func (s *anthropicStream) Err() error { return s.err }

func (s *anthropicStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}

// convertAnthropicError maps SDK errors to the shared taxonomy.
func convertAnthropicError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	perr := &llmerrors.ProviderError{
		Provider:   ProviderAnthropic,
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		perr.Type = llmerrors.ErrorTypeRateLimit
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		perr.Type = llmerrors.ErrorTypeAuth
	case apiErr.StatusCode >= 500: // includes Anthropic's 529 overloaded
		perr.Type = llmerrors.ErrorTypeProvider
	default:
		perr.Type = llmerrors.ErrorTypeValidation
	}
	return perr
}
