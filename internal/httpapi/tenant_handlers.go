package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/identity"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenant, err := a.authz.CreateTenant(r.Context(), req.Name)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "tenant.created", "tenant", tenant.ID, map[string]string{"name": tenant.Name})
	w.Header().Set("Location", "/v1/tenants/"+tenant.ID)
	writeJSON(w, http.StatusCreated, tenant)
}

func (a *API) listTenants(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenants, err := a.authz.Tenants(r.Context())
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// getTenant is readable by the tenant's own members in addition to platform
// operators, so member-facing screens can show where they are.
func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if self, ok := identity.PrincipalIDFromContext(r.Context()); ok {
		if active, err := a.authz.IsActiveMember(r.Context(), tenantID, self); err == nil && active {
			tenant, err := a.authz.Tenant(r.Context(), tenantID)
			if err != nil {
				handleAuthzError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tenant)
			return
		}
	}
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenant, err := a.authz.Tenant(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (a *API) deactivateTenant(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	if err := a.authz.DeactivateTenant(r.Context(), tenantID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "tenant.deactivated", "tenant", tenantID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// --- membership ---

type addMemberRequest struct {
	PrincipalID string     `json:"principal_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	membership, err := a.authz.AddMember(r.Context(), tenantID, req.PrincipalID, req.ExpiresAt)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "membership.added", "tenant", tenantID, map[string]string{"principal_id": req.PrincipalID})
	writeJSON(w, http.StatusCreated, membership)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	members, err := a.authz.TenantMembers(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) deactivateMember(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermTenantsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	principalID := chi.URLParam(r, "principalID")
	if err := a.authz.DeactivateMember(r.Context(), tenantID, principalID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "membership.deactivated", "tenant", tenantID, map[string]string{"principal_id": principalID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

func (a *API) memberRoles(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	principalID := chi.URLParam(r, "principalID")
	if self, ok := identity.PrincipalIDFromContext(r.Context()); !ok || self != principalID {
		if !a.requireSystem(w, r, authz.PermRolesManage) {
			return
		}
	}
	roles, err := a.authz.MemberRoles(r.Context(), tenantID, principalID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// --- invitations ---

type createInvitationRequest struct {
	Email    string `json:"email"`
	RoleID   string `json:"role_id"`
	TTLHours int    `json:"ttl_hours,omitempty"`
}

// createInvitation returns the raw token exactly once, in this response. Only
// its hash is stored, so there is no way to read it back later.
func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermInvitationsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	invitedBy, _ := identity.PrincipalIDFromContext(r.Context())
	inv, rawToken, err := a.authz.InviteMember(r.Context(), tenantID, req.Email, req.RoleID, invitedBy, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "invitation.created", "invitation", inv.ID, map[string]string{
		"tenant_id": tenantID,
		"role_id":   req.RoleID,
	})
	w.Header().Set("Location", "/v1/invitations/"+inv.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"invitation": inv,
		"token":      rawToken,
	})
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermInvitationsManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	invitations, err := a.authz.TenantInvitations(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

// --- reconciliation ---

func (a *API) reconciliationReport(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	repairs, err := a.authz.ReconciliationReport(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenantID,
		"consistent": len(repairs) == 0,
		"repairs":    repairs,
	})
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	repairs, err := a.authz.Reconcile(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "catalog.reconciled", "tenant", tenantID, map[string]string{
		"repairs": strconv.Itoa(len(repairs)),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"repaired":  repairs,
	})
}
