package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleMiddleware(t *testing.T) {
	mw := RoleMiddleware(RoleConfig{Header: "X-Database-Role", Allowed: []string{"analyst", "auditor"}})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantRole   string
		wantSet    bool
	}{
		{"no header runs as connecting user", "", http.StatusOK, "", false},
		{"allowed role", "analyst", http.StatusOK, "analyst", true},
		{"whitespace trimmed", "  auditor ", http.StatusOK, "auditor", true},
		{"unknown role rejected", "postgres", http.StatusForbidden, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRole string
			var gotSet, called bool
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotRole, gotSet = RoleFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/rows", nil)
			if tt.header != "" {
				req.Header.Set("X-Database-Role", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			assert.Equal(t, tt.wantRole, gotRole)
			assert.Equal(t, tt.wantSet, gotSet)
			if tt.wantStatus == http.StatusForbidden {
				assert.Contains(t, rr.Body.String(), "role not allowed")
			}
		})
	}
}

func TestRoleFromContext_EmptyRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := RoleFromContext(WithRole(req.Context(), ""))
	assert.False(t, ok)
}
