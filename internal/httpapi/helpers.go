package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/audit"
	"dealerdesk.io/internal/authz"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":      msg,
		"request_id": audit.RequestIDFromContext(r.Context()),
	})
}

// decodeJSON decodes the request body into dst, rejecting unknown fields and
// trailing content so malformed admin calls fail loudly.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// handleAuthzError maps service errors onto HTTP statuses. Resolution denials
// never pass through here; a deny is a successful response with allowed=false.
func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrInvitationExpired):
		writeError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, authz.ErrInvitationRevoked),
		errors.Is(err, authz.ErrInvitationAlreadyAccepted),
		errors.Is(err, authz.ErrInvitationEmailMismatch):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrRoleNotFound), errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(r *http.Request, event, subjectKind, subjectID string, fields map[string]string) {
	if err := audit.LogEvent(r.Context(), event, subjectKind, subjectID, fields); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("audit sink")
	}
}
