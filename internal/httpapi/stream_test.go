package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/events"
)

func TestEventStreamDeliversMutations(t *testing.T) {
	ta := newTestAPI(t)
	_, admin := ta.seedPrincipal(t, "ops@dealerdesk.example", authz.GlobalRoleAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ta.srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := ta.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	preamble, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if !strings.HasPrefix(preamble, ": stream started") {
		t.Fatalf("preamble = %q", preamble)
	}

	// The subscription is live once the preamble arrived; a mutation now must
	// show up as a frame.
	if _, err := ta.svc.CreateTenant(context.Background(), "Streamed Garage"); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	var evt events.Event
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		break
	}
	if evt.Kind != events.KindTenantCreated {
		t.Fatalf("event kind = %s, want %s", evt.Kind, events.KindTenantCreated)
	}
}

func TestEventStreamRequiresAuditPrivilege(t *testing.T) {
	ta := newTestAPI(t)
	_, member := ta.seedPrincipal(t, "member@moto.example", "")

	resp := ta.request(t, http.MethodGet, "/v1/events", member, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}
