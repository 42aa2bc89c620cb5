// Package pg implements the persistence interfaces on PostgreSQL through
// database/sql and the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dealerdesk.io/internal/audit"
	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/capability"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var (
	_ authz.Store      = (*Store)(nil)
	_ capability.Store = (*Store)(nil)
	_ audit.Sink       = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Tests use it with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Record appends one audit entry. The log line was already written by the
// caller; a failure here surfaces without suppressing that line.
func (s *Store) Record(ctx context.Context, entry audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	fieldsJSON := []byte("{}")
	if len(entry.Fields) > 0 {
		bytes, err := json.Marshal(entry.Fields)
		if err != nil {
			return fmt.Errorf("marshal audit fields: %w", err)
		}
		fieldsJSON = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (at, request_id, actor_id, event, subject_kind, subject_id, fields)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.At, nullIfEmpty(entry.RequestID), nullIfEmpty(entry.ActorID), entry.Event,
		nullIfEmpty(entry.SubjectKind), nullIfEmpty(entry.SubjectID), fieldsJSON)
	return err
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
