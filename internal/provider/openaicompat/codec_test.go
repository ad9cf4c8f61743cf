package openaicompat_test

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
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openaicompat"
)

func TestCodec_FormatRequest(t *testing.T) {
	payload, err := openaicompat.Codec{}.FormatRequest(&domain.CompletionRequest{
		Model: "meta-llama/llama-3-70b",
		Messages: []domain.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: `say "hi"`},
		},
		MaxTokens: 128,
	})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(payload)
	require.True(t, parsed.Get("stream").Bool())
	require.Equal(t, "meta-llama/llama-3-70b", parsed.Get("model").String())
	require.Equal(t, int64(2), parsed.Get("messages.#").Int())
	require.Equal(t, "system", parsed.Get("messages.0.role").String())
	require.Equal(t, `say "hi"`, parsed.Get("messages.1.content").String())
	require.Equal(t, int64(128), parsed.Get("max_tokens").Int())
	require.False(t, parsed.Get("temperature").Exists())
}

func TestCodec_ParseChunk(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		delta       string
		done        bool
		providerErr bool
		malformed   bool
	}{
		{name: "content delta", raw: `{"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`, delta: "Hi"},
		{name: "role only delta", raw: `{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`},
		{name: "finish reason", raw: `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`, done: true},
		{name: "usage only chunk", raw: `{"choices":[],"usage":{"total_tokens":9}}`},
		{name: "error object", raw: `{"error":{"message":"rate limited"}}`, providerErr: true},
		{name: "array payload", raw: `[1,2]`, malformed: true},
		{name: "invalid json", raw: `{"choices":[`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := openaicompat.Codec{}.ParseChunk([]byte(tt.raw))
			if tt.malformed {
				require.ErrorIs(t, err, domain.ErrMalformedChunk)
				return
			}
			require.NoError(t, err)
			if tt.providerErr {
				require.ErrorIs(t, chunk.Error, domain.ErrProviderError)
				return
			}
			require.Equal(t, tt.delta, chunk.Delta)
			require.Equal(t, tt.done, chunk.Done)
		})
	}
}

func TestProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	provider, err := openaicompat.NewProvider(openaicompat.Config{BaseURL: srv.URL + "/v1", APIKey: "k"})
	require.NoError(t, err)

	chunks, err := provider.Stream(context.Background(), &domain.CompletionRequest{
		Model:    "qwen/qwen-2",
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
	require.Equal(t, "Hello", text.String())
}

func TestNewProvider_MissingBaseURL(t *testing.T) {
	_, err := openaicompat.NewProvider(openaicompat.Config{})
	require.Error(t, err)
}
