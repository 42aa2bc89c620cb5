package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/identity"
)

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// acceptInvitation redeems an invitation token for the calling principal. The
// invited email must match the email verified in the caller's session; the
// service enforces single acceptance even under concurrent redeems.
func (a *API) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principalID, ok := identity.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing principal")
		return
	}
	email, _ := identity.EmailFromContext(r.Context())

	inv, err := a.authz.Accept(r.Context(), req.Token, principalID, email)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "invitation.accepted", "invitation", inv.ID, map[string]string{
		"tenant_id": inv.TenantID,
		"role_id":   inv.RoleID,
	})
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) getInvitation(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermInvitationsManage) {
		return
	}
	inv, err := a.authz.Invitation(r.Context(), chi.URLParam(r, "invitationID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// revokeInvitation cancels a pending invitation. Revoking an already revoked
// one is a no-op; an accepted one cannot be revoked.
func (a *API) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermInvitationsManage) {
		return
	}
	invitationID := chi.URLParam(r, "invitationID")
	inv, err := a.authz.Revoke(r.Context(), invitationID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "invitation.revoked", "invitation", invitationID, map[string]string{
		"tenant_id": inv.TenantID,
	})
	writeJSON(w, http.StatusOK, inv)
}
