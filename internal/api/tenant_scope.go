package api

import (
	"net/http"
	"strings"

	"github.com/ongoingai/promptops/internal/auth"
)

// requestTenant returns the tenant of the authenticated caller. Handlers
// never read tenant scope from the path, query or body.
func requestTenant(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return "", false
	}
	tenantID := strings.TrimSpace(identity.TenantID)
	return tenantID, tenantID != ""
}

// scopedTenant writes 401 and reports false when the request carries no
// tenant.
func scopedTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := requestTenant(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid api key")
		return "", false
	}
	return tenantID, true
}
