package httpapi

import (
	"net/http"
	"testing"
)

func TestRateLimitExceeded(t *testing.T) {
	ta := newTestAPI(t)
	ta.api.ratePerSec = 1
	ta.api.rateBurst = 1

	resp := ta.request(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ta.request(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.request(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id not set")
	}
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, ta.srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-Id", "req-42")
	resp, err = ta.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if got := resp.Header.Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("X-Request-Id = %q, want req-42", got)
	}
	resp.Body.Close()
}

func TestSecurityHeadersApplied(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.request(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)

	resp := ta.request(t, http.MethodDelete, "/healthz", "", nil)
	wantStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}
