package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// HandleInitialize pre-allocates credits for a streaming session.
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.InitializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	userID, err := h.actingFor(ctx, req.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req.UserID = userID

	res, err := h.sessions.Initialize(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

// HandleFinalize reconciles a finished streaming session.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.FinalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.SessionID == "" {
		writeError(ctx, w, badRequest(errors.New("sessionId is required")))
		return
	}

	res, err := h.sessions.Finalize(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

// HandleAbort reconciles an interrupted streaming session.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AbortRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.SessionID == "" {
		writeError(ctx, w, badRequest(errors.New("sessionId is required")))
		return
	}

	res, err := h.sessions.Abort(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

// HandleRecordUsage records a billed operation for the caller.
func (h *Handler) HandleRecordUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var event domain.UsageEvent
	if err := decodeJSON(w, r, &event); err != nil {
		writeError(ctx, w, err)
		return
	}
	userID, err := h.actingFor(ctx, event.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	event.UserID = userID
	if event.Service == "" || event.Operation == "" {
		writeError(ctx, w, badRequest(errors.New("service and operation are required")))
		return
	}
	if event.Credits < 0 {
		writeError(ctx, w, badRequest(errors.New("credits cannot be negative")))
		return
	}

	if err := h.sessions.RecordUsage(ctx, &event); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actingFor resolves the account a request bills. Callers bill themselves
// unless their role is privileged.
func (h *Handler) actingFor(ctx context.Context, userID string) (string, error) {
	caller := middleware.UserID(ctx)
	if userID == "" || userID == caller {
		return caller, nil
	}
	if !middleware.HasRole(ctx, h.privileged) {
		observability.FromContext(ctx).Warn("request names another user",
			observability.String("target_user_id", userID),
			observability.String("role", middleware.Role(ctx)),
		)
		return "", forbidden(errors.New("userId must match the caller"))
	}
	return userID, nil
}

// HandleBalance reports the caller's spendable credits.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"userId":  userID,
		"balance": domain.RoundCredits(balance),
	})
}

type allocateRequest struct {
	UserID     string  `json:"userId"`
	Credits    float64 `json:"credits"`
	ExpiryDays int     `json:"expiryDays,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// HandleAllocate grants credits to a user. Privileged callers only.
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req allocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.UserID == "" {
		writeError(ctx, w, badRequest(errors.New("userId is required")))
		return
	}
	if req.Credits <= 0 {
		writeError(ctx, w, badRequest(errors.New("credits must be positive")))
		return
	}

	allocation, err := h.ledger.Allocate(ctx, domain.AllocationRequest{
		UserID:      req.UserID,
		Credits:     req.Credits,
		AllocatedBy: middleware.UserID(ctx),
		ExpiryDays:  req.ExpiryDays,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, allocation)
}
