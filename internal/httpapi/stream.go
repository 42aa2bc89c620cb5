package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dealerdesk.io/internal/authz"
)

// streamEvents pushes catalog and membership change notifications as
// server-sent events until the client disconnects. Reserved for operators
// and audit viewers; an optional tenant_id query narrows the stream to one
// tenant.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !a.requireSystem(w, r, authz.PermAuditView) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	tenantFilter := r.URL.Query().Get("tenant_id")

	// Lift the server write deadline for this connection; the stream stays
	// open for as long as the client is subscribed.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": stream started\n\n")
	flusher.Flush()

	for evt := range a.bus.Subscribe(r.Context()) {
		if tenantFilter != "" && evt.TenantID != tenantFilter {
			continue
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
