package ssehttp_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/ssehttp"
)

// lineCodec treats each payload as plain text; "STOP" ends the stream and "BAD" is malformed.
type lineCodec struct{}

func (lineCodec) FormatRequest(req *domain.CompletionRequest) ([]byte, error) {
	return []byte(`{"model":"` + req.Model + `"}`), nil
}

func (lineCodec) ParseChunk(raw []byte) (domain.StreamChunk, error) {
	switch string(raw) {
	case "STOP":
		return domain.StreamChunk{Done: true}, nil
	case "BAD":
		return domain.StreamChunk{}, domain.ErrMalformedChunk
	case "SKIP":
		return domain.StreamChunk{}, nil
	default:
		return domain.StreamChunk{Delta: string(raw)}, nil
	}
}

func serve(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/stream", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Key"))
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprint(w, frame)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, baseURL string) *ssehttp.Provider {
	t.Helper()
	provider, err := ssehttp.NewProvider(ssehttp.Config{
		Name:    "test",
		BaseURL: baseURL + "/",
		Path:    "/v1/stream",
		Headers: map[string]string{"X-Key": "secret"},
	}, lineCodec{})
	require.NoError(t, err)
	return provider
}

func collect(t *testing.T, chunks <-chan domain.StreamChunk) []domain.StreamChunk {
	t.Helper()
	var out []domain.StreamChunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

var request = &domain.CompletionRequest{Model: "m", Messages: []domain.Message{{Role: "user", Content: "hi"}}}

func TestProvider_Stream(t *testing.T) {
	t.Run("parses data lines until done", func(t *testing.T) {
		srv := serve(t,
			": keep-alive\n\n",
			"event: delta\ndata: Hello\n\n",
			"data: SKIP\n\n",
			"data:  world\n\n",
			"data: STOP\n\n",
			"data: ignored\n\n",
		)
		chunks, err := newProvider(t, srv.URL).Stream(context.Background(), request)
		require.NoError(t, err)

		got := collect(t, chunks)
		require.Len(t, got, 3)
		require.Equal(t, "Hello", got[0].Delta)
		require.Equal(t, "world", got[1].Delta)
		require.True(t, got[2].Done)
	})

	t.Run("done sentinel ends the stream", func(t *testing.T) {
		srv := serve(t, "data: a\n\n", "data: [DONE]\n\n")
		chunks, err := newProvider(t, srv.URL).Stream(context.Background(), request)
		require.NoError(t, err)

		got := collect(t, chunks)
		require.Len(t, got, 2)
		require.True(t, got[1].Done)
	})

	t.Run("malformed chunk surfaces as error", func(t *testing.T) {
		srv := serve(t, "data: a\n\n", "data: BAD\n\n", "data: b\n\n")
		chunks, err := newProvider(t, srv.URL).Stream(context.Background(), request)
		require.NoError(t, err)

		got := collect(t, chunks)
		require.Len(t, got, 2)
		require.ErrorIs(t, got[1].Error, domain.ErrMalformedChunk)
	})

	t.Run("non-200 status is a provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := newProvider(t, srv.URL).Stream(context.Background(), request)
		require.ErrorIs(t, err, domain.ErrProviderError)
		require.Contains(t, err.Error(), "429")
		require.Contains(t, err.Error(), "overloaded")
	})

	t.Run("cancellation closes the channel", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: a\n\n")
			w.(http.Flusher).Flush()
			<-release
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		chunks, err := newProvider(t, srv.URL).Stream(ctx, request)
		require.NoError(t, err)

		first := <-chunks
		require.Equal(t, "a", first.Delta)
		cancel()

		for chunk := range chunks {
			if chunk.Error != nil {
				require.True(t, errors.Is(chunk.Error, domain.ErrProviderError) || strings.Contains(chunk.Error.Error(), "canceled"))
			}
		}
	})
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := ssehttp.NewProvider(ssehttp.Config{BaseURL: "http://x"}, lineCodec{})
	require.Error(t, err)

	_, err = ssehttp.NewProvider(ssehttp.Config{Name: "x"}, lineCodec{})
	require.Error(t, err)

	_, err = ssehttp.NewProvider(ssehttp.Config{Name: "x", BaseURL: "http://x"}, nil)
	require.Error(t, err)
}
