// Package audit emits the administrative action trail: one structured log
// line per mutation, plus an optional persistent sink when the service runs
// against Postgres.
package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dealerdesk.io/internal/identity"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one recorded administrative action.
type Entry struct {
	At          time.Time         `json:"at"`
	RequestID   string            `json:"request_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	Event       string            `json:"event"`
	SubjectKind string            `json:"subject_kind,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Sink persists entries beyond the log stream. Sink failures are reported to
// the caller but never block the log line, which is always written first.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

var (
	sinkMu sync.RWMutex
	sink   Sink
)

// SetSink installs the persistent sink. Pass nil to disable.
func SetSink(s Sink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = s
}

// LogEvent writes an audit entry enriched with request and principal context.
func LogEvent(ctx context.Context, event, subjectKind, subjectID string, fields map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	entry := Entry{
		At:          time.Now().UTC(),
		RequestID:   RequestIDFromContext(ctx),
		Event:       event,
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Fields:      fields,
	}
	if actorID, ok := identity.PrincipalIDFromContext(ctx); ok {
		entry.ActorID = actorID
	}

	evt := log.Info().Str("type", "audit").Str("event", event)
	if entry.RequestID != "" {
		evt = evt.Str("request_id", entry.RequestID)
	}
	if entry.ActorID != "" {
		evt = evt.Str("actor_id", entry.ActorID)
	}
	if subjectKind != "" {
		evt = evt.Str("subject_kind", subjectKind)
	}
	if subjectID != "" {
		evt = evt.Str("subject_id", subjectID)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		evt = evt.Str(k, fields[k])
	}
	evt.Msg("audit")

	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s != nil {
		return s.Record(ctx, entry)
	}
	return nil
}
