package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// SessionHeader returns the id of the session opened by a chat stream.
const SessionHeader = "X-Session-Id"

type chatRequest struct {
	SessionID   string            `json:"sessionId,omitempty"`
	Model       string            `json:"model"`
	Messages    []domain.Message  `json:"messages"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *chatRequest) validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return badRequest(errors.New("model is required"))
	}
	if len(c.Messages) == 0 {
		return badRequest(errors.New("messages cannot be empty"))
	}
	for _, msg := range c.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return badRequest(errors.New("message role must be system, user or assistant"))
		}
	}
	if c.MaxTokens < 0 {
		return badRequest(errors.New("maxTokens cannot be negative"))
	}
	return nil
}

// HandleChatStream opens a metered session and relays its frames as SSE.
// Disconnecting detaches the client only; the upstream call still finishes
// and is reconciled.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	var body chatRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := body.validate(); err != nil {
		writeError(ctx, w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx = observability.WithSessionID(ctx, sessionID)
	ctx = observability.WithModel(ctx, body.Model)

	logger := observability.FromContext(ctx)
	logger.Info("chat stream requested",
		observability.Int("messages", len(body.Messages)),
		observability.Int("max_tokens", body.MaxTokens),
	)

	stream, err := h.pipeline.Start(ctx, domain.StartParams{
		UserID:    userID,
		SessionID: sessionID,
		Request: &domain.CompletionRequest{
			Model:       body.Model,
			Messages:    body.Messages,
			Temperature: body.Temperature,
			MaxTokens:   body.MaxTokens,
			Metadata:    body.Metadata,
		},
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.Header().Set(SessionHeader, stream.SessionID)
	sse.open()

	events := stream.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sse.send(event); err != nil {
				logger.Warn("client write failed, detaching", observability.Error(err))
				stream.Detach()
				return
			}
			if event.Terminal() {
				logger.Info("chat stream finished", observability.String("type", string(event.Type)))
				return
			}
		case <-ctx.Done():
			logger.Info("client disconnected, stream continues in background")
			stream.Detach()
			return
		}
	}
}
