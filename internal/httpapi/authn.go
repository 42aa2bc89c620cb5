package httpapi

import (
	"net/http"
	"strings"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/identity"
)

// publicPaths are reachable without a bearer token. Everything else under the
// router requires an authenticated principal.
var publicPaths = map[string]struct{}{
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
	"/v1/info":       {},
	"/v1/auth/token": {},
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := identity.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := identity.ContextWithPrincipal(r.Context(), claims.Subject, claims.Email, claims.GlobalRole)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// requireAdmin gates the operations reserved for the top platform tier.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if identity.IsGlobalAdmin(r.Context()) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "requires global admin")
	return false
}

// requireStaff admits platform operators: global admins and staff. Business
// modules call the management surface through staff service identities.
func (a *API) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	switch identity.GlobalRoleFromContext(r.Context()) {
	case authz.GlobalRoleAdmin, authz.GlobalRoleStaff:
		return true
	}
	writeError(w, r, http.StatusForbidden, "requires platform operator")
	return false
}

// requireSystem admits global admins and principals holding the named
// platform grant, so scoped operator accounts can manage tenants without the
// full admin tier.
func (a *API) requireSystem(w http.ResponseWriter, r *http.Request, key string) bool {
	if identity.IsGlobalAdmin(r.Context()) {
		return true
	}
	principalID, ok := identity.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing principal")
		return false
	}
	granted, err := a.authz.HasSystemGrant(r.Context(), principalID, key)
	if err != nil {
		handleAuthzError(w, r, err)
		return false
	}
	if !granted {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return false
	}
	return true
}

// requireSelfOrStaff admits the principal acting on its own record, plus
// platform operators acting on anyone.
func (a *API) requireSelfOrStaff(w http.ResponseWriter, r *http.Request, principalID string) bool {
	if self, ok := identity.PrincipalIDFromContext(r.Context()); ok && self == principalID {
		return true
	}
	switch identity.GlobalRoleFromContext(r.Context()) {
	case authz.GlobalRoleAdmin, authz.GlobalRoleStaff:
		return true
	}
	writeError(w, r, http.StatusForbidden, "insufficient privileges")
	return false
}
