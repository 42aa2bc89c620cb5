package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealerdesk.io/internal/authz"
)

type createPrincipalRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	GlobalRole string `json:"global_role,omitempty"`
}

// createPrincipal registers an account record. Only global admins may mint
// principals above the member tier.
func (a *API) createPrincipal(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	var req createPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.GlobalRole != "" && req.GlobalRole != authz.GlobalRoleMember && !a.requireAdmin(w, r) {
		return
	}
	p, err := a.authz.CreatePrincipal(r.Context(), req.Email, req.Name, req.GlobalRole)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "principal.created", "principal", p.ID, map[string]string{"global_role": p.GlobalRole})
	w.Header().Set("Location", "/v1/principals/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPrincipal(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	if !a.requireSelfOrStaff(w, r, principalID) {
		return
	}
	p, err := a.authz.Principal(r.Context(), principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type setGlobalRoleRequest struct {
	GlobalRole string `json:"global_role"`
}

// setGlobalRole switches the platform tier. Admin only; a fresh token is
// needed before the caller's own sessions observe the change.
func (a *API) setGlobalRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	principalID := chi.URLParam(r, "principalID")
	var req setGlobalRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.authz.SetGlobalRole(r.Context(), principalID, req.GlobalRole)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "principal.global_role_changed", "principal", principalID, map[string]string{
		"global_role": req.GlobalRole,
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) principalMemberships(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	if !a.requireSelfOrStaff(w, r, principalID) {
		return
	}
	memberships, err := a.authz.PrincipalMemberships(r.Context(), principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": memberships})
}

// principalTenants lists the tenants where the principal currently holds an
// unexpired active membership, the view tenant pickers are built from.
func (a *API) principalTenants(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	if !a.requireSelfOrStaff(w, r, principalID) {
		return
	}
	tenants, err := a.authz.ActiveTenants(r.Context(), principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// --- system grants ---

type grantSystemRequest struct {
	Key string `json:"key"`
}

func (a *API) grantSystem(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	principalID := chi.URLParam(r, "principalID")
	var req grantSystemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.authz.GrantSystem(r.Context(), principalID, req.Key)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "system_grant.created", "principal", principalID, map[string]string{"key": req.Key})
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) revokeSystem(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	principalID := chi.URLParam(r, "principalID")
	key := chi.URLParam(r, "key")
	if err := a.authz.RevokeSystem(r.Context(), principalID, key); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "system_grant.revoked", "principal", principalID, map[string]string{"key": key})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) listSystemGrants(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	principalID := chi.URLParam(r, "principalID")
	keys, err := a.authz.SystemGrantsFor(r.Context(), principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": keys})
}
