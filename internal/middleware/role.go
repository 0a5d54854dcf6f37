package middleware

import (
	"context"
	"net/http"
	"strings"

	"pg-tablerows/internal/logging"
	"pg-tablerows/internal/observability"
)

type roleContextKey struct{}

// WithRole attaches the role queries should run as.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey{}, role)
}

// RoleFromContext returns the role attached by RoleMiddleware.
func RoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleContextKey{}).(string)
	return role, ok && role != ""
}

// RoleConfig configures role selection from a request header.
type RoleConfig struct {
	Header  string
	Allowed []string
	Metrics *observability.AccessMetrics
}

// RoleMiddleware reads the requested role from the configured header.
// Requests without the header run as the connecting user; requests naming a
// role outside the allowlist are rejected with 403.
func RoleMiddleware(cfg RoleConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.Allowed))
	for _, role := range cfg.Allowed {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.TrimSpace(r.Header.Get(cfg.Header))
			if role == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, ok := allowed[role]
			cfg.Metrics.RecordRoleRequest(r.Context(), role, ok)
			if !ok {
				logging.FromContext(r.Context()).Warn("role not allowed", "role", role)
				WriteError(w, http.StatusForbidden, "role not allowed: "+role)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), role)))
		})
	}
}
