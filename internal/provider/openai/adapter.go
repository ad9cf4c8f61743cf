// Package openai provides an adapter for the OpenAI API using the official SDK.
// It implements the domain.Provider interface and handles conversion between
// domain types and SDK types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// Provider implements the domain.Provider interface for OpenAI
type Provider struct {
	client openai.Client
	name   string
}

// NewProvider creates a new OpenAI provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	// Retries only cover connection setup; a stream that already emitted text is never replayed.
	opts = append(opts, option.WithMaxRetries(config.MaxRetries))

	return &Provider{
		client: openai.NewClient(opts...),
		name:   "openai",
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// FormatRequest encodes the chat completion payload sent upstream.
func (p *Provider) FormatRequest(req *domain.CompletionRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	payload, err := json.Marshal(p.toSDKParams(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return payload, nil
}

// ParseChunk decodes one chat.completion.chunk object.
func (p *Provider) ParseChunk(raw []byte) (domain.StreamChunk, error) {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return domain.StreamChunk{}, fmt.Errorf("%w: %w", domain.ErrMalformedChunk, err)
	}
	return toDomainChunk(chunk), nil
}

// Stream sends a completion request and returns a stream of chunks.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI streaming API")

	// Convert domain request to SDK parameters
	params := p.toSDKParams(req)

	// Call OpenAI SDK streaming
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	// Convert SDK stream to domain chunks channel
	domainChunks := make(chan domain.StreamChunk)

	go func() {
		defer close(domainChunks)
		defer stream.Close()
		defer logger.Debug("OpenAI stream completed")

		send := func(chunk domain.StreamChunk) bool {
			select {
			case domainChunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Iterate over SDK stream
		for stream.Next() {
			chunk := toDomainChunk(stream.Current())
			if chunk.Delta == "" && !chunk.Done {
				continue
			}
			if !send(chunk) || chunk.Done {
				return
			}
		}

		// Check for stream errors
		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			send(domain.StreamChunk{
				Error: fmt.Errorf("%w: OpenAI stream error: %w", domain.ErrProviderError, err),
			})
			return
		}

		send(domain.StreamChunk{Done: true})
	}()

	return domainChunks, nil
}

func toDomainChunk(chunk openai.ChatCompletionChunk) domain.StreamChunk {
	if len(chunk.Choices) == 0 {
		return domain.StreamChunk{}
	}

	// Extract delta content from choices
	return domain.StreamChunk{
		Delta: chunk.Choices[0].Delta.Content,
		Done:  chunk.Choices[0].FinishReason != "",
	}
}

// toSDKParams converts domain request to SDK ChatCompletionNewParams
func (p *Provider) toSDKParams(req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	// Convert messages
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages[i] = openai.UserMessage(msg.Content)
		case "assistant":
			messages[i] = openai.AssistantMessage(msg.Content)
		case "system":
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			// Fallback to user message if role is unknown
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}
