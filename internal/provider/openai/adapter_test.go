package openai_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openai"
)

func chunkJSON(content, finish string) string {
	return fmt.Sprintf(
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o",`+
			`"choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`,
		content, finishValue(finish),
	)
}

func finishValue(finish string) string {
	if finish == "" {
		return "null"
	}
	return fmt.Sprintf("%q", finish)
}

func TestNewProvider_Success(t *testing.T) {
	config := openai.Config{
		APIKey:     "test-api-key",
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    60,
		MaxRetries: 3,
	}

	provider, err := openai.NewProvider(config)

	require.NoError(t, err)
	require.NotNil(t, provider)
	require.Equal(t, "openai", provider.Name())
}

func TestNewProvider_MissingAPIKey(t *testing.T) {
	provider, err := openai.NewProvider(openai.Config{BaseURL: "https://api.openai.com/v1"})

	require.Error(t, err)
	require.Nil(t, provider)
	require.Contains(t, err.Error(), "OpenAI API key is required")
}

func TestProvider_FormatRequest(t *testing.T) {
	provider, err := openai.NewProvider(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)

	payload, err := provider.FormatRequest(&domain.CompletionRequest{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", gjson.GetBytes(payload, "model").String())
	require.Equal(t, "system", gjson.GetBytes(payload, "messages.0.role").String())
	require.Equal(t, "user", gjson.GetBytes(payload, "messages.1.role").String())
	require.Equal(t, "hi", gjson.GetBytes(payload, "messages.1.content").String())
	require.Equal(t, int64(64), gjson.GetBytes(payload, "max_tokens").Int())
}

func TestProvider_ParseChunk(t *testing.T) {
	provider, err := openai.NewProvider(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		raw       string
		delta     string
		done      bool
		malformed bool
	}{
		{name: "content delta", raw: chunkJSON("Hel", ""), delta: "Hel"},
		{name: "finish reason ends stream", raw: chunkJSON("", "stop"), done: true},
		{name: "no choices", raw: `{"id":"x","object":"chat.completion.chunk","choices":[]}`},
		{name: "invalid json", raw: `{"choices":`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := provider.ParseChunk([]byte(tt.raw))
			if tt.malformed {
				require.ErrorIs(t, err, domain.ErrMalformedChunk)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.delta, chunk.Delta)
			require.Equal(t, tt.done, chunk.Done)
		})
	}
}

func TestProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range []string{chunkJSON("Hello", ""), chunkJSON(" world", ""), chunkJSON("", "stop")} {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	provider, err := openai.NewProvider(openai.Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	chunks, err := provider.Stream(context.Background(), &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	var done bool
	for chunk := range chunks {
		require.NoError(t, chunk.Error)
		text.WriteString(chunk.Delta)
		done = done || chunk.Done
	}

	require.True(t, done)
	require.Equal(t, "Hello world", text.String())
}

func TestProvider_Stream_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	provider, err := openai.NewProvider(openai.Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	chunks, err := provider.Stream(context.Background(), &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var last domain.StreamChunk
	for chunk := range chunks {
		last = chunk
	}
	require.ErrorIs(t, last.Error, domain.ErrProviderError)
}

func TestProvider_Stream_NilRequest(t *testing.T) {
	provider, err := openai.NewProvider(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)

	chunks, err := provider.Stream(context.Background(), nil)

	require.Error(t, err)
	require.Nil(t, chunks)
	require.Contains(t, err.Error(), "request cannot be nil")
}
