// Package openaicompat speaks the chat completions streaming format served by
// OpenAI-compatible gateways (vLLM, Ollama, OpenRouter and similar).
package openaicompat

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/ssehttp"
)

const providerName = "openai-compatible"

// Config contains OpenAI-compatible endpoint configuration.
type Config struct {
	BaseURL string `env:"OPENAI_COMPAT_BASE_URL"`
	APIKey  string `env:"OPENAI_COMPAT_API_KEY"`

	// ModelPattern defaults to matching every model. The provider is
	// registered last, so it only receives models no other entry claims.
	ModelPattern string `env:"OPENAI_COMPAT_MODEL_PATTERN" envDefault:"."`
}

// Codec formats chat completion requests and parses chunk objects.
type Codec struct{}

// NewProvider creates an OpenAI-compatible provider.
func NewProvider(cfg Config) (*ssehttp.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("OpenAI-compatible base URL is required")
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	return ssehttp.NewProvider(ssehttp.Config{
		Name:    providerName,
		BaseURL: cfg.BaseURL,
		Path:    "/chat/completions",
		Headers: headers,
	}, Codec{})
}

// FormatRequest renders a streaming chat completion body.
func (Codec) FormatRequest(req *domain.CompletionRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	payload := []byte(`{"stream":true,"messages":[]}`)
	var err error
	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		payload, err = sjson.SetBytes(payload, path, value)
	}

	set("model", req.Model)
	for _, msg := range req.Messages {
		set("messages.-1", map[string]string{"role": msg.Role, "content": msg.Content})
	}
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	}
	if req.Temperature > 0 {
		set("temperature", req.Temperature)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return payload, nil
}

// ParseChunk extracts choices[0].delta.content and the finish reason.
func (Codec) ParseChunk(raw []byte) (domain.StreamChunk, error) {
	if !gjson.ValidBytes(raw) {
		return domain.StreamChunk{}, fmt.Errorf("%w: invalid json", domain.ErrMalformedChunk)
	}

	chunk := gjson.ParseBytes(raw)
	if !chunk.IsObject() {
		return domain.StreamChunk{}, fmt.Errorf("%w: expected object", domain.ErrMalformedChunk)
	}

	if upstreamErr := chunk.Get("error"); upstreamErr.Exists() {
		msg := upstreamErr.Get("message").String()
		if msg == "" {
			msg = upstreamErr.String()
		}
		return domain.StreamChunk{Error: fmt.Errorf("%w: %s", domain.ErrProviderError, msg)}, nil
	}

	choice := chunk.Get("choices.0")
	if !choice.Exists() {
		return domain.StreamChunk{}, nil
	}

	finish := choice.Get("finish_reason")
	return domain.StreamChunk{
		Delta: choice.Get("delta.content").String(),
		Done:  finish.Exists() && finish.Type != gjson.Null && finish.String() != "",
	}, nil
}
