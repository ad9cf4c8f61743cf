package http_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	chathttp "github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
)

// finishedSession runs one chat to completion and returns its id.
func finishedSession(t *testing.T, f *serverFixture) string {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/v1/chat/stream", "u1", "", helloChat(""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readSSE(t, resp.Body)
	return resp.Header.Get(chathttp.SessionHeader)
}

func requireReplay(t *testing.T, sessionID string, events []domain.StreamEvent) {
	t.Helper()

	types := make([]domain.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	require.Equal(t, []domain.EventType{
		domain.EventObserver,
		domain.EventHistoryStart,
		domain.EventChunk,
		domain.EventChunk,
		domain.EventComplete,
		domain.EventHistoryEnd,
	}, types)

	require.Equal(t, sessionID, events[0].SessionID)
	require.NotEmpty(t, events[0].ObserverID)
	require.Equal(t, 3, events[1].Count)
	require.Equal(t, "hello ", events[2].Text)
	require.Equal(t, sessionID, events[4].SessionID)
}

func TestHandleObserve(t *testing.T) {
	t.Run("replays a finished session in its grace window", func(t *testing.T) {
		f := newServerFixture(t, fixtureOptions{})
		sessionID := finishedSession(t, f)

		resp := f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "ops-1", "admin", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		requireReplay(t, sessionID, readSSE(t, resp.Body))
	})

	t.Run("follows a session reopened in its grace window", func(t *testing.T) {
		f := newServerFixture(t, fixtureOptions{})
		sessionID := finishedSession(t, f)

		pub := f.manager.Open(sessionID)
		resp := f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "ops-1", "admin", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		pub.Publish(domain.StreamEvent{Type: domain.EventChunk, Text: "again", Tokens: 2, TotalTokens: 2})
		pub.Publish(domain.StreamEvent{Type: domain.EventComplete, Tokens: 2})
		pub.Close()

		events := readSSE(t, resp.Body)
		types := make([]domain.EventType, 0, len(events))
		for _, event := range events {
			types = append(types, event.Type)
		}
		require.Equal(t, []domain.EventType{
			domain.EventObserver,
			domain.EventHistoryStart,
			domain.EventChunk,
			domain.EventChunk,
			domain.EventComplete,
			domain.EventHistoryEnd,
			domain.EventChunk,
			domain.EventComplete,
		}, types)
		require.Equal(t, "live", events[0].Status)
		require.Equal(t, "live", events[5].Status)
		require.Equal(t, "again", events[6].Text)
	})

	t.Run("two observers see the same frames", func(t *testing.T) {
		f := newServerFixture(t, fixtureOptions{})
		sessionID := finishedSession(t, f)

		first := readSSE(t, f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "ops-1", "admin", nil).Body)
		second := readSSE(t, f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "ops-2", "supervisor", nil).Body)

		require.NotEqual(t, first[0].ObserverID, second[0].ObserverID)
		require.Equal(t, first[1:], second[1:])
	})

	t.Run("unknown session lists the observable ones", func(t *testing.T) {
		f := newServerFixture(t, fixtureOptions{})
		sessionID := finishedSession(t, f)

		resp := f.do(t, http.MethodGet, "/v1/observe/missing", "ops-1", "admin", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body errorResponse
		decodeBody(t, resp, &body)
		require.Equal(t, "session_not_active", body.Code)
		require.Equal(t, []string{sessionID}, body.Active)
	})

	t.Run("requires a privileged role", func(t *testing.T) {
		f := newServerFixture(t, fixtureOptions{})
		sessionID := finishedSession(t, f)

		resp := f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "u1", "user", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/v1/observe/"+sessionID, "", "admin", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHandleListObservable(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})
	sessionID := finishedSession(t, f)

	resp := f.do(t, http.MethodGet, "/v1/observe", "ops-1", "ADMIN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sessions []struct {
			SessionID string `json:"sessionId"`
			Live      bool   `json:"live"`
		} `json:"sessions"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Sessions, 1)
	require.Equal(t, sessionID, body.Sessions[0].SessionID)
}

func TestHandleObserveWebSocket(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})
	sessionID := finishedSession(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/observe/" + sessionID + "/ws"

	t.Run("streams the replay and closes normally", func(t *testing.T) {
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{
				middleware.UserHeader: {"ops-1"},
				middleware.RoleHeader: {"admin"},
			},
		})
		require.NoError(t, err)
		defer conn.CloseNow()

		var events []domain.StreamEvent
		for {
			var event domain.StreamEvent
			if err := wsjson.Read(ctx, conn, &event); err != nil {
				require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
				break
			}
			events = append(events, event)
		}

		requireReplay(t, sessionID, events)
	})

	t.Run("rejects unprivileged callers before upgrading", func(t *testing.T) {
		_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{middleware.UserHeader: {"u1"}},
		})
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
