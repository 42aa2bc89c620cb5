package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dealerdesk.io/internal/capability"
)

type createConversationRequest struct {
	Topic string `json:"topic"`
}

func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := a.caps.CreateConversation(r.Context(), tenantID, req.Topic)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "conversation.created", "conversation", conv.ID, map[string]string{"tenant_id": tenantID})
	w.Header().Set("Location", "/v1/conversations/"+conv.ID)
	writeJSON(w, http.StatusCreated, conv)
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	conversations, err := a.caps.TenantConversations(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	conv, err := a.caps.Conversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) conversationMembers(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	members, err := a.caps.Members(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type setConversationMemberRequest struct {
	Role  string `json:"role,omitempty"`
	Level string `json:"level"`
}

func (a *API) setConversationMember(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	principalID := chi.URLParam(r, "principalID")
	var req setConversationMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, err := a.caps.SetMember(r.Context(), conversationID, principalID, req.Role, req.Level)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "conversation.member_set", "conversation", conversationID, map[string]string{
		"principal_id": principalID,
		"level":        req.Level,
	})
	writeJSON(w, http.StatusOK, member)
}

type setOverrideRequest struct {
	Override *capability.Map `json:"override"`
}

// setMemberOverride installs or clears the explicit ability map. A null
// override in the body drops the member back to template or level defaults.
func (a *API) setMemberOverride(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	principalID := chi.URLParam(r, "principalID")
	var req setOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, err := a.caps.SetOverride(r.Context(), conversationID, principalID, req.Override)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "conversation.override_set", "conversation", conversationID, map[string]string{
		"principal_id": principalID,
		"cleared":      strconv.FormatBool(req.Override == nil),
	})
	writeJSON(w, http.StatusOK, member)
}

func (a *API) removeConversationMember(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	principalID := chi.URLParam(r, "principalID")
	if err := a.caps.RemoveMember(r.Context(), conversationID, principalID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "conversation.member_removed", "conversation", conversationID, map[string]string{
		"principal_id": principalID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

// --- templates ---

type setTemplateRequest struct {
	Abilities capability.Map `json:"abilities"`
}

func (a *API) setTemplate(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	role := chi.URLParam(r, "role")
	var req setTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tpl, err := a.caps.SetTemplate(r.Context(), tenantID, role, req.Abilities)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "capability_template.set", "tenant", tenantID, map[string]string{"role": role})
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	templates, err := a.caps.Templates(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !a.requireStaff(w, r) {
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	role := chi.URLParam(r, "role")
	if err := a.caps.DeleteTemplate(r.Context(), tenantID, role); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r, "capability_template.deleted", "tenant", tenantID, map[string]string{"role": role})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
