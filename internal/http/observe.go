package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/broadcast"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const observerBuffer = 16

type observedSession struct {
	SessionID string `json:"sessionId"`
	Live      bool   `json:"live"`
}

// HandleListObservable lists the sessions that can currently be observed.
func (h *Handler) HandleListObservable(w http.ResponseWriter, r *http.Request) {
	ids := h.observers.Observable()
	sessions := make([]observedSession, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, observedSession{SessionID: id, Live: h.observers.IsLive(id)})
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"sessions": sessions})
}

// observation is one attached observer whose events are handed to the
// request goroutine.
type observation struct {
	sessionID string
	status    string
	sub       *broadcast.Subscription
	events    chan domain.StreamEvent
}

func (h *Handler) attach(ctx context.Context, sessionID string) (*observation, error) {
	obs := &observation{
		sessionID: sessionID,
		events:    make(chan domain.StreamEvent, observerBuffer),
	}

	// A slow client blocks its callback until the mailbox overflows and the
	// observer is evicted.
	sub, err := h.observers.AddObserver(sessionID, func(event domain.StreamEvent) {
		select {
		case obs.events <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	obs.sub = sub
	obs.status = broadcast.StatusGrace
	if h.observers.IsLive(sessionID) {
		obs.status = broadcast.StatusLive
	}
	return obs, nil
}

// pump emits the observer frame, the replayed history and the live events
// until the stream has finished, the observer is dropped or ctx ends.
func (o *observation) pump(ctx context.Context, emit func(domain.StreamEvent) error) error {
	defer o.sub.Unsubscribe()

	if err := emit(domain.StreamEvent{
		Type:       domain.EventObserver,
		SessionID:  o.sessionID,
		ObserverID: o.sub.ID,
		Status:     o.status,
	}); err != nil {
		return err
	}

	// finished tracks whether the newest data frame is terminal. A terminal
	// frame replayed while the session is live again belongs to an earlier
	// stream and does not count.
	replayed := false
	finished := false
	handle := func(event domain.StreamEvent) (bool, error) {
		if err := emit(event); err != nil {
			return true, err
		}
		switch {
		case event.Type == domain.EventHistoryStart:
		case event.Type == domain.EventHistoryEnd:
			replayed = true
			if event.Status == broadcast.StatusLive {
				finished = false
			}
		default:
			finished = event.Terminal()
		}
		return replayed && finished, nil
	}

	for {
		select {
		case event := <-o.events:
			if stop, err := handle(event); stop || err != nil {
				return err
			}
		case <-o.sub.Done():
			// Every callback has returned; flush what they queued.
			for {
				select {
				case event := <-o.events:
					if stop, err := handle(event); stop || err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleObserve streams a session to a privileged observer over SSE.
func (h *Handler) HandleObserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")
	ctx = observability.WithSessionID(ctx, sessionID)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	obs, err := h.attach(obsCtx, sessionID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	logger := observability.FromContext(ctx).With(observability.String("observer_id", obs.sub.ID))
	logger.Info("observer attached", observability.String("status", obs.status))

	sse.open()
	if err := obs.pump(obsCtx, sse.send); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("observer stream ended", observability.Error(err))
		return
	}
	logger.Info("observer detached")
}

// HandleObserveWebSocket streams a session to a privileged observer over a websocket.
func (h *Handler) HandleObserveWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")
	ctx = observability.WithSessionID(ctx, sessionID)

	// Attach before upgrading so unknown sessions get a plain HTTP error.
	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	obs, err := h.attach(obsCtx, sessionID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		obs.sub.Unsubscribe()
		observability.FromContext(ctx).Warn("websocket upgrade failed", observability.Error(err))
		return
	}
	defer conn.CloseNow()

	logger := observability.FromContext(ctx).With(observability.String("observer_id", obs.sub.ID))
	logger.Info("websocket observer attached", observability.String("status", obs.status))

	// Observers only listen; CloseRead cancels once the peer goes away.
	readCtx := conn.CloseRead(obsCtx)
	err = obs.pump(readCtx, func(event domain.StreamEvent) error {
		return wsjson.Write(readCtx, conn, event)
	})
	if err != nil {
		logger.Info("websocket observer ended", observability.Error(err))
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "stream finished")
	logger.Info("websocket observer detached")
}
