package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := middleware.Chain(tag("outer"), tag("inner"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestIdentity(t *testing.T) {
	var userID, role string
	handler := middleware.Identity()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		userID = middleware.UserID(r.Context())
		role = middleware.Role(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.UserHeader, " u1 ")
	req.Header.Set(middleware.RoleHeader, "Supervisor")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "u1", userID)
	require.Equal(t, "supervisor", role)
}

func TestRequirePrivileged(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	guarded := middleware.Identity()(middleware.RequirePrivileged([]string{" Admin ", ""})(ok))

	tests := []struct {
		name   string
		userID string
		role   string
		status int
	}{
		{"admin", "ops-1", "admin", http.StatusNoContent},
		{"role matching ignores case", "ops-1", "ADMIN", http.StatusNoContent},
		{"plain user", "u1", "user", http.StatusForbidden},
		{"no role", "u1", "", http.StatusForbidden},
		{"anonymous admin", "", "admin", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != "" {
				req.Header.Set(middleware.UserHeader, tt.userID)
			}
			if tt.role != "" {
				req.Header.Set(middleware.RoleHeader, tt.role)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHasRole(t *testing.T) {
	var got []bool
	handler := middleware.Identity()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = append(got, middleware.HasRole(r.Context(), []string{" Admin ", ""}))
	}))

	for _, role := range []string{"ADMIN", "user", ""} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			req.Header.Set(middleware.RoleHeader, role)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, []bool{true, false, false}, got)
}

func TestTrace_InjectsIDs(t *testing.T) {
	var traceID, requestID string
	handler := middleware.Trace()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		traceID = observability.GetTraceID(r.Context())
		requestID = observability.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, traceID)
	require.NotEmpty(t, requestID)
	require.Equal(t, traceID, rec.Header().Get("X-Trace-Id"))
	require.Equal(t, requestID, rec.Header().Get("X-Request-Id"))
}

func TestMetrics_PassesFlushThrough(t *testing.T) {
	handler := middleware.Metrics()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, isFlusher := w.(http.Flusher)
		require.True(t, isFlusher)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.False(t, rec.Flushed)
}
