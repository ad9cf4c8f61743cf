// Package ssehttp streams chat completions from providers that speak
// server-sent events over plain HTTP. Wire formats are supplied by a Codec.
package ssehttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	maxLineBytes  = 1 << 20
	maxErrorBytes = 4 << 10
	donePayload   = "[DONE]"
)

// Codec translates between domain requests and one provider's wire format.
type Codec interface {
	// FormatRequest renders the streaming request body.
	FormatRequest(req *domain.CompletionRequest) ([]byte, error)

	// ParseChunk parses one SSE data payload. A chunk with neither text nor
	// Done set carries no content and is skipped.
	ParseChunk(raw []byte) (domain.StreamChunk, error)
}

// Config describes the upstream endpoint.
type Config struct {
	Name    string
	BaseURL string
	Path    string
	Headers map[string]string
	Client  *http.Client
}

// Provider implements domain.Provider over HTTP SSE.
type Provider struct {
	Codec

	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewProvider creates an SSE provider.
func NewProvider(cfg Config, codec Codec) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name cannot be empty")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Name)
	}
	if codec == nil {
		return nil, errors.New("codec cannot be nil")
	}

	client := cfg.Client
	if client == nil {
		// No client timeout: the stream deadline comes from the caller's context.
		client = &http.Client{}
	}

	return &Provider{
		Codec:   codec,
		name:    cfg.Name,
		url:     strings.TrimRight(cfg.BaseURL, "/") + cfg.Path,
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Stream opens the upstream SSE response and parses it chunk by chunk.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	body, err := p.FormatRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to format request: %w", err)
	}

	//nolint:bodyclose // Response body is closed in the reader goroutine
	resp, err := p.open(ctx, body)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.StreamChunk)
	go p.read(ctx, resp, chunks)

	return chunks, nil
}

func (p *Provider) open(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %w", domain.ErrProviderError, p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d: %s",
			domain.ErrProviderError, p.name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}

// read parses data lines until a Done chunk, an error, or end of body.
func (p *Provider) read(ctx context.Context, resp *http.Response, chunks chan<- domain.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	logger := observability.FromContext(ctx)

	send := func(chunk domain.StreamChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == donePayload {
			send(domain.StreamChunk{Done: true})
			return
		}

		chunk, err := p.ParseChunk([]byte(data))
		if err != nil {
			logger.Warn("failed to parse stream chunk", observability.Error(err))
			send(domain.StreamChunk{Error: err})
			return
		}
		if chunk.Delta == "" && !chunk.Done && chunk.Error == nil {
			continue
		}
		if !send(chunk) || chunk.Done || chunk.Error != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		send(domain.StreamChunk{Error: fmt.Errorf("%w: reading %s stream: %w", domain.ErrProviderError, p.name, err)})
		return
	}

	logger.Debug("upstream stream ended without terminal event")
}
