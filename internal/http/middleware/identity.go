package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	// UserHeader carries the authenticated user id set by the upstream auth proxy.
	UserHeader = "X-User-Id"

	// RoleHeader carries the caller's role.
	RoleHeader = "X-User-Role"
)

type roleKey struct{}

// Identity copies the caller identity headers into the request context.
func Identity() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := strings.TrimSpace(r.Header.Get(UserHeader)); userID != "" {
				ctx = observability.WithUserID(ctx, userID)
			}
			if role := strings.TrimSpace(r.Header.Get(RoleHeader)); role != "" {
				ctx = context.WithValue(ctx, roleKey{}, strings.ToLower(role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the caller's user id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	return observability.GetUserID(ctx)
}

// Role returns the caller's lower-cased role.
func Role(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey{}).(string); ok {
		return role
	}
	return ""
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			deny(w, http.StatusUnauthorized, "user identity required", "unauthorized")
			return
		}
		next(w, r)
	}
}

// HasRole reports whether the caller's role is listed in roles.
func HasRole(ctx context.Context, roles []string) bool {
	return slices.Contains(normalizeRoles(roles), Role(ctx))
}

func normalizeRoles(roles []string) []string {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			allowed = append(allowed, role)
		}
	}
	return allowed
}

// RequirePrivileged admits only callers whose role is listed in roles.
func RequirePrivileged(roles []string) func(http.HandlerFunc) http.HandlerFunc {
	allowed := normalizeRoles(roles)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return RequireUser(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(allowed, Role(r.Context())) {
				observability.FromContext(r.Context()).Warn("privileged route denied",
					observability.String("role", Role(r.Context())),
					observability.String("path", r.URL.Path),
				)
				deny(w, http.StatusForbidden, "privileged role required", "forbidden")
				return
			}
			next(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
