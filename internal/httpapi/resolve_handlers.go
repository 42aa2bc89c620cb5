package httpapi

import (
	"net/http"
	"strings"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/identity"
)

type resolveRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
	TenantID    string `json:"tenant_id"`
	Module      string `json:"module"`
	Permission  string `json:"permission"`
}

// resolve answers one permission check. A deny is a successful response with
// allowed=false; callers only see an HTTP error for malformed requests or
// store failures. The principal defaults to the caller; checking someone else
// is reserved for platform operators, which is how business modules ask on
// behalf of their users.
func (a *API) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	self, _ := identity.PrincipalIDFromContext(r.Context())
	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		principalID = self
	}
	if principalID != self && !a.requireStaff(w, r) {
		return
	}

	decision, err := a.resolver.Resolve(r.Context(), authz.CheckRequest{
		PrincipalID: principalID,
		TenantID:    req.TenantID,
		Module:      req.Module,
		Key:         req.Permission,
	})
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": a.authz.Permissions(),
	})
}

type capabilityResolveRequest struct {
	ConversationID string `json:"conversation_id"`
	PrincipalID    string `json:"principal_id,omitempty"`
}

// resolveCapabilities computes the conversation ability map. Same principal
// rules as resolve: self by default, anyone for platform operators.
func (a *API) resolveCapabilities(w http.ResponseWriter, r *http.Request) {
	var req capabilityResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	self, _ := identity.PrincipalIDFromContext(r.Context())
	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		principalID = self
	}
	if principalID != self && !a.requireStaff(w, r) {
		return
	}

	res, err := a.caps.Resolve(r.Context(), req.ConversationID, principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
