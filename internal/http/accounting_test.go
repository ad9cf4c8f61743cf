package http_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/accounting"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/mocks"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

func TestAccountingRoutes_Scenario(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})

	resp := f.do(t, http.MethodPost, "/streaming-sessions/initialize", "u1", "", domain.InitializeRequest{
		SessionID: "s-1", ModelID: "echo-1", EstimatedTokens: 4000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var init domain.InitializeResult
	decodeBody(t, resp, &init)
	require.InDelta(t, 4.0, init.AllocatedCredits, 1e-9)
	require.Equal(t, domain.SessionActive, init.Status)
	require.InDelta(t, 6.0, f.balance(t, "u1"), 1e-9)

	resp = f.do(t, http.MethodPost, "/streaming-sessions/finalize", "u1", "", domain.FinalizeRequest{
		SessionID: "s-1", ActualTokens: 1000, Success: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fin domain.FinalizeResult
	decodeBody(t, resp, &fin)
	require.InDelta(t, 1.0, fin.ActualCredits, 1e-9)
	require.InDelta(t, 3.0, fin.Refund, 1e-9)
	require.InDelta(t, 9.0, f.balance(t, "u1"), 1e-9)

	resp = f.do(t, http.MethodPost, "/streaming-sessions/abort", "u1", "", domain.AbortRequest{
		SessionID: "s-1", TokensGenerated: 10,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "invalid_session_state", body.Code)
	require.InDelta(t, 9.0, f.balance(t, "u1"), 1e-9)
}

func TestAccountingRoutes_Abort(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})

	resp := f.do(t, http.MethodPost, "/streaming-sessions/initialize", "u1", "", domain.InitializeRequest{
		UserID: "u1", SessionID: "s-2", ModelID: "echo-1", EstimatedTokens: 4000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/streaming-sessions/abort", "u1", "", domain.AbortRequest{
		SessionID: "s-2", TokensGenerated: 500,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res domain.AbortResult
	decodeBody(t, resp, &res)
	require.InDelta(t, 0.5, res.PartialCredits, 1e-9)
	require.InDelta(t, 3.5, res.Refund, 1e-9)
	require.InDelta(t, 9.5, f.balance(t, "u1"), 1e-9)
}

func TestAccountingRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient credits", domain.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"session exists", domain.ErrSessionExists, http.StatusConflict, "session_exists"},
		{"unknown session", domain.ErrSessionNotFound, http.StatusBadRequest, "session_not_found"},
		{"wrapped invalid state", fmt.Errorf("finalize: %w", domain.ErrInvalidSessionState), http.StatusBadRequest, "invalid_session_state"},
		{"ledger outage", errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := mocks.NewMockSessionService(t)
			sessions.EXPECT().
				Initialize(mock.Anything, domain.InitializeRequest{UserID: "u9", SessionID: "s-1", ModelID: "m"}).
				Return(nil, tt.err)

			f := newServerFixture(t, fixtureOptions{sessions: sessions})
			resp := f.do(t, http.MethodPost, "/streaming-sessions/initialize", "u9", "", domain.InitializeRequest{
				SessionID: "s-1", ModelID: "m",
			})
			require.Equal(t, tt.status, resp.StatusCode)

			var body errorResponse
			decodeBody(t, resp, &body)
			require.Equal(t, tt.code, body.Code)
			if tt.status == http.StatusInternalServerError {
				require.NotContains(t, body.Error, "connection refused")
			}
		})
	}
}

func TestAccountingRoutes_RecordUsage(t *testing.T) {
	sessions := mocks.NewMockSessionService(t)
	sessions.EXPECT().
		RecordUsage(mock.Anything, mock.MatchedBy(func(event *domain.UsageEvent) bool {
			return event.UserID == "u1" && event.Operation == "embedding" && event.Credits == 0.2
		})).
		Return(nil)

	f := newServerFixture(t, fixtureOptions{sessions: sessions})

	resp := f.do(t, http.MethodPost, "/usage/record", "u1", "", domain.UsageEvent{
		Service: "chat", Operation: "embedding", Credits: 0.2,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/usage/record", "u1", "", domain.UsageEvent{Service: "chat"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccountingRoutes_BodyUserMustMatchCaller(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})

	t.Run("initialize for another user is forbidden", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/streaming-sessions/initialize", "u2", "user", domain.InitializeRequest{
			UserID: "u1", SessionID: "s-other", ModelID: "echo-1", EstimatedTokens: 4000,
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		var body errorResponse
		decodeBody(t, resp, &body)
		require.Equal(t, "forbidden", body.Code)
		require.InDelta(t, 10.0, f.balance(t, "u1"), 1e-9)
	})

	t.Run("usage for another user is forbidden", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/usage/record", "u2", "", domain.UsageEvent{
			UserID: "u1", Service: "chat", Operation: "embedding", Credits: 0.2,
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("privileged caller acts for another user", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/streaming-sessions/initialize", "ops-1", "Supervisor", domain.InitializeRequest{
			UserID: "u1", SessionID: "s-ops", ModelID: "echo-1", EstimatedTokens: 4000,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.InDelta(t, 6.0, f.balance(t, "u1"), 1e-9)

		resp = f.do(t, http.MethodPost, "/usage/record", "ops-1", "admin", domain.UsageEvent{
			UserID: "u1", Service: "chat", Operation: "embedding", Credits: 0.2,
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestCreditRoutes(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})

	t.Run("balance of the caller", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/credits/balance", "u1", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			UserID  string  `json:"userId"`
			Balance float64 `json:"balance"`
		}
		decodeBody(t, resp, &body)
		require.Equal(t, "u1", body.UserID)
		require.InDelta(t, 10.0, body.Balance, 1e-9)
	})

	t.Run("privileged allocation", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/credits/allocate", "ops-1", "admin", map[string]any{
			"userId": "u2", "credits": 5, "expiryDays": 7, "notes": "trial",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var allocation domain.CreditAllocation
		decodeBody(t, resp, &allocation)
		require.Equal(t, "u2", allocation.UserID)
		require.Equal(t, "ops-1", allocation.AllocatedBy)
		require.InDelta(t, 5.0, allocation.RemainingCredits, 1e-9)
		require.InDelta(t, 5.0, f.balance(t, "u2"), 1e-9)
	})

	t.Run("allocation needs a privileged role", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/credits/allocate", "u1", "user", map[string]any{
			"userId": "u1", "credits": 100,
		})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.InDelta(t, 10.0, f.balance(t, "u1"), 1e-9)
	})

	t.Run("allocation rejects non-positive credits", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/credits/allocate", "ops-1", "admin", map[string]any{
			"userId": "u2", "credits": 0,
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAccountingRoutes_NotServedWithoutLedger(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{remote: true})

	resp := f.do(t, http.MethodGet, "/credits/balance", "u1", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The remote client and the served boundary agree on the wire format.
func TestAccountingClient_AgainstServer(t *testing.T) {
	f := newServerFixture(t, fixtureOptions{})
	ctx := context.Background()

	client, err := accounting.NewClient(accounting.Options{BaseURL: f.srv.URL})
	require.NoError(t, err)

	init, err := client.Initialize(ctx, domain.InitializeRequest{
		UserID: "u1", SessionID: "remote-1", ModelID: "echo-1", EstimatedTokens: 4000,
	})
	require.NoError(t, err)
	require.InDelta(t, 4.0, init.AllocatedCredits, 1e-9)

	_, err = client.Initialize(ctx, domain.InitializeRequest{
		UserID: "u1", SessionID: "remote-2", ModelID: "echo-1", EstimatedTokens: 1_000_000,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)

	// Reconciliation calls carry the caller from the context.
	ctx = observability.WithUserID(ctx, "u1")
	res, err := client.Abort(ctx, domain.AbortRequest{SessionID: "remote-1", TokensGenerated: 500})
	require.NoError(t, err)
	require.InDelta(t, 3.5, res.Refund, 1e-9)

	_, err = client.Finalize(ctx, domain.FinalizeRequest{SessionID: "remote-1", ActualTokens: 1, Success: true})
	require.ErrorIs(t, err, domain.ErrInvalidSessionState)
	require.InDelta(t, 9.5, f.balance(t, "u1"), 1e-9)
}
