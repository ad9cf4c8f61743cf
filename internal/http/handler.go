package http

import (
	"context"
	"net/http"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/broadcast"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

const maxBodyBytes = 1 << 20

// StreamStarter starts metered chat streams.
type StreamStarter interface {
	Start(ctx context.Context, params domain.StartParams) (*domain.Stream, error)
}

// CreditLedger is the slice of the ledger exposed over HTTP.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (float64, error)
	Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.CreditAllocation, error)
}

// Handler handles HTTP requests.
type Handler struct {
	pipeline  StreamStarter
	sessions  domain.SessionService
	ledger    CreditLedger
	observers *broadcast.Manager
	// privileged roles may act on behalf of other users.
	privileged []string
}

// NewHandler creates a new HTTP handler (DI constructor). ledger may be nil
// when accounting is delegated to a remote service; the credit routes are
// then not served.
func NewHandler(
	pipeline StreamStarter,
	sessions domain.SessionService,
	ledger CreditLedger,
	observers *broadcast.Manager,
	privileged []string,
) *Handler {
	return &Handler{
		pipeline:   pipeline,
		sessions:   sessions,
		ledger:     ledger,
		observers:  observers,
		privileged: privileged,
	}
}

// ServesAccounting reports whether the accounting boundary is backed by a local ledger.
func (h *Handler) ServesAccounting() bool {
	return h.ledger != nil
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"observable": len(h.observers.Observable()),
	})
}
