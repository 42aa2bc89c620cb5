package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dealerdesk.io/internal/authz"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.authz.CreateRole(r.Context(), tenantID, req.Name, req.DisplayName)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "role.created", "role", role.ID, map[string]string{
		"tenant_id": tenantID,
		"name":      role.Name,
	})
	w.Header().Set("Location", "/v1/tenants/"+tenantID+"/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	roles, err := a.authz.TenantRoles(r.Context(), tenantID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	role, err := a.authz.Role(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.authz.UpdateRole(r.Context(), tenantID, roleID, authz.RoleUpdate{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Active:      req.Active,
	})
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "role.updated", "role", roleID, map[string]string{"tenant_id": tenantID})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	if err := a.authz.DeleteRole(r.Context(), tenantID, roleID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "role.deleted", "role", roleID, map[string]string{"tenant_id": tenantID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// --- grants ---

type replaceGrantsRequest struct {
	Permissions []string `json:"permissions"`
}

// replaceRoleGrants swaps the role's whole permission set in one call. The
// service keeps module access in step, enabling any module the new set
// touches.
func (a *API) replaceRoleGrants(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	var req replaceGrantsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.authz.ReplaceGrants(r.Context(), tenantID, roleID, req.Permissions); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "role.grants_replaced", "role", roleID, map[string]string{
		"tenant_id": tenantID,
		"count":     strconv.Itoa(len(req.Permissions)),
	})
	keys, err := a.authz.RoleGrants(r.Context(), tenantID, roleID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": keys})
}

func (a *API) roleGrants(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	keys, err := a.authz.RoleGrants(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": keys})
}

// --- module access ---

type setModuleAccessRequest struct {
	Module  string `json:"module"`
	Enabled bool   `json:"enabled"`
}

func (a *API) setModuleAccess(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")
	var req setModuleAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access, err := a.authz.SetModuleAccess(r.Context(), tenantID, roleID, req.Module, req.Enabled)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "role.module_toggled", "role", roleID, map[string]string{
		"tenant_id": tenantID,
		"module":    req.Module,
		"enabled":   strconv.FormatBool(req.Enabled),
	})
	writeJSON(w, http.StatusOK, access)
}

func (a *API) roleModules(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	modules, err := a.authz.RoleModules(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

// --- assignments ---

type assignRoleRequest struct {
	PrincipalID string `json:"principal_id"`
	RoleID      string `json:"role_id"`
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.authz.AssignRole(r.Context(), tenantID, req.PrincipalID, req.RoleID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "assignment.created", "tenant", tenantID, map[string]string{
		"principal_id": req.PrincipalID,
		"role_id":      req.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) unassignRole(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermRolesManage) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	principalID := chi.URLParam(r, "principalID")
	roleID := chi.URLParam(r, "roleID")
	if err := a.authz.UnassignRole(r.Context(), tenantID, principalID, roleID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "assignment.removed", "tenant", tenantID, map[string]string{
		"principal_id": principalID,
		"role_id":      roleID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "unassigned"})
}
