// Package anthropic speaks the Messages API streaming format.
package anthropic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/ssehttp"
)

const (
	providerName     = "anthropic"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Config contains Anthropic provider configuration.
type Config struct {
	APIKey       string `env:"ANTHROPIC_API_KEY"`
	BaseURL      string `env:"ANTHROPIC_BASE_URL"      envDefault:"https://api.anthropic.com"`
	ModelPattern string `env:"ANTHROPIC_MODEL_PATTERN" envDefault:"^claude-"`
}

// Codec formats Messages API requests and parses its stream events.
type Codec struct{}

// NewProvider creates an Anthropic provider.
func NewProvider(cfg Config) (*ssehttp.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return ssehttp.NewProvider(ssehttp.Config{
		Name:    providerName,
		BaseURL: cfg.BaseURL,
		Path:    "/v1/messages",
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": apiVersion,
		},
	}, Codec{})
}

// FormatRequest moves system messages into the top-level system prompt.
func (Codec) FormatRequest(req *domain.CompletionRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := []byte(`{"messages":[]}`)
	var err error
	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		payload, err = sjson.SetBytes(payload, path, value)
	}

	set("model", req.Model)
	set("max_tokens", maxTokens)
	set("stream", true)
	if req.Temperature > 0 {
		set("temperature", req.Temperature)
	}

	system := make([]string, 0)
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			set("messages.-1", map[string]string{"role": "assistant", "content": msg.Content})
		default:
			set("messages.-1", map[string]string{"role": "user", "content": msg.Content})
		}
	}
	if len(system) > 0 {
		set("system", strings.Join(system, "\n\n"))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return payload, nil
}

// ParseChunk handles content_block_delta, message_stop, and error events.
func (Codec) ParseChunk(raw []byte) (domain.StreamChunk, error) {
	if !gjson.ValidBytes(raw) {
		return domain.StreamChunk{}, fmt.Errorf("%w: invalid json", domain.ErrMalformedChunk)
	}

	event := gjson.ParseBytes(raw)
	eventType := event.Get("type")
	if !eventType.Exists() {
		return domain.StreamChunk{}, fmt.Errorf("%w: missing event type", domain.ErrMalformedChunk)
	}

	switch eventType.String() {
	case "content_block_delta":
		if event.Get("delta.type").String() != "text_delta" {
			return domain.StreamChunk{}, nil
		}
		return domain.StreamChunk{Delta: event.Get("delta.text").String()}, nil
	case "message_stop":
		return domain.StreamChunk{Done: true}, nil
	case "error":
		return domain.StreamChunk{
			Error: fmt.Errorf("%w: %s: %s", domain.ErrProviderError,
				event.Get("error.type").String(), event.Get("error.message").String()),
		}, nil
	default:
		// message_start, content_block_start, content_block_stop, message_delta, ping.
		return domain.StreamChunk{}, nil
	}
}
