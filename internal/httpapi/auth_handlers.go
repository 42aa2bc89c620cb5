package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/identity"
)

type tokenRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Email       string `json:"email,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// mintToken issues a bearer token for a stored principal, looked up by id or
// email. Credential verification belongs to the identity provider fronting
// this service; the endpoint exists for development and service bootstrap.
func (a *API) mintToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		p   authz.Principal
		err error
	)
	switch {
	case strings.TrimSpace(req.PrincipalID) != "":
		p, err = a.authz.Principal(r.Context(), req.PrincipalID)
	case strings.TrimSpace(req.Email) != "":
		p, err = a.authz.PrincipalByEmail(r.Context(), req.Email)
	default:
		writeError(w, r, http.StatusBadRequest, "principal_id or email is required")
		return
	}
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}

	token, err := identity.GenerateToken(p.ID, p.Email, p.GlobalRole, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(a.tokenTTL),
	})
}
