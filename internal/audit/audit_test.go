package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/identity"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = original }()

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithPrincipal(ctx, "p-42", "ops@dealerdesk.example", "admin")

	err := LogEvent(ctx, "role.grants.replace", "role", "r-7", map[string]string{"tenant_id": "t-5"})
	if err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "role.grants.replace" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "p-42" {
		t.Fatalf("unexpected actor: %v", entry["actor_id"])
	}
	if entry["subject_id"] != "r-7" {
		t.Fatalf("unexpected subject: %v", entry["subject_id"])
	}
	if entry["tenant_id"] != "t-5" {
		t.Fatalf("unexpected field: %v", entry["tenant_id"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", "", "", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

type captureSink struct {
	entries []Entry
}

func (c *captureSink) Record(_ context.Context, entry Entry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestSinkReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = original }()

	capture := &captureSink{}
	SetSink(capture)
	defer SetSink(nil)

	ctx := WithRequestID(context.Background(), "req-9")
	if err := LogEvent(ctx, "tenant.create", "tenant", "t-1", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if len(capture.entries) != 1 {
		t.Fatalf("expected 1 sink entry, got %d", len(capture.entries))
	}
	got := capture.entries[0]
	if got.Event != "tenant.create" || got.SubjectID != "t-1" || got.RequestID != "req-9" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}
