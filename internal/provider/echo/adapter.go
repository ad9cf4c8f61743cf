// Package echo provides a testing provider that echoes back input messages.
// It implements the domain.Provider interface without making external API calls,
// providing deterministic streams for testing and development purposes.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	providerName      = "echo"
	defaultChunkDelay = 10 * time.Millisecond

	// ModelPattern matches the model ids served by this provider.
	ModelPattern = `^echo`
)

// ErrInjectedFailure is the upstream failure simulated by FailAfter.
var ErrInjectedFailure = errors.New("echo: injected failure")

// Config tunes the simulated stream.
type Config struct {
	Enabled    bool          `env:"ECHO_ENABLED"     envDefault:"true"`
	ChunkDelay time.Duration `env:"ECHO_CHUNK_DELAY" envDefault:"10ms"`

	// FailAfter fails the stream after that many chunks when positive.
	FailAfter int `env:"ECHO_FAIL_AFTER" envDefault:"0"`
}

type wirePayload struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
}

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name       string
	chunkDelay time.Duration
	failAfter  int
}

// NewProvider creates a new echo provider.
// No credentials are required as this provider operates entirely in-memory.
func NewProvider(cfg Config) *Provider {
	delay := cfg.ChunkDelay
	if delay < 0 {
		delay = defaultChunkDelay
	}

	return &Provider{
		name:       providerName,
		chunkDelay: delay,
		failAfter:  cfg.FailAfter,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// FormatRequest encodes the conversation the provider echoes.
func (p *Provider) FormatRequest(req *domain.CompletionRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	return json.Marshal(wirePayload{Model: req.Model, Messages: req.Messages})
}

// ParseChunk treats each raw chunk as literal text.
func (p *Provider) ParseChunk(raw []byte) (domain.StreamChunk, error) {
	return domain.StreamChunk{Delta: string(raw)}, nil
}

// Stream echoes the last user message word by word.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	payload, err := p.FormatRequest(req)
	if err != nil {
		return nil, err
	}

	var decoded wirePayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode echo payload: %w", err)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("streaming echo request", observability.Int("messages", len(decoded.Messages)))

	words := strings.Fields(buildEchoContent(decoded.Messages))

	// Create output channel
	chunks := make(chan domain.StreamChunk)

	// Stream chunks in a goroutine
	go func() {
		defer close(chunks)

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Stream each word with a small delay
		for i, word := range words {
			if p.failAfter > 0 && i == p.failAfter {
				send(domain.StreamChunk{Error: ErrInjectedFailure})
				return
			}

			raw := word
			if i < len(words)-1 {
				raw += " " // Add space between words
			}

			chunk, parseErr := p.ParseChunk([]byte(raw))
			if parseErr != nil {
				send(domain.StreamChunk{Error: parseErr})
				return
			}
			if !send(chunk) {
				return
			}

			if p.chunkDelay > 0 {
				select {
				case <-time.After(p.chunkDelay):
				case <-ctx.Done():
					return
				}
			}
		}

		// Send final done chunk
		send(domain.StreamChunk{Done: true})
	}()

	return chunks, nil
}

// buildEchoContent returns the content of the last user message, or of the
// last message when no user message exists.
func buildEchoContent(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}
