package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"dealerdesk.io/internal/authz"
)

func newMock(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, mock
}

func TestIsActiveMember(t *testing.T) {
	svc, mock := newMock(t)

	mock.ExpectQuery("select exists").WithArgs("p1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := svc.IsActiveMember(context.Background(), "p1", "t1")
	if err != nil || !ok {
		t.Fatalf("IsActiveMember: ok=%v err=%v", ok, err)
	}

	mock.ExpectQuery("select exists").WithArgs("p1", "t2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	ok, err = svc.IsActiveMember(context.Background(), "p1", "t2")
	if err != nil || ok {
		t.Fatalf("expected no membership, ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsPlatformAdmin(t *testing.T) {
	svc, mock := newMock(t)

	mock.ExpectQuery("select exists").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := svc.IsPlatformAdmin(context.Background(), "p1")
	if err != nil || !ok {
		t.Fatalf("IsPlatformAdmin: ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSharesTenant(t *testing.T) {
	svc, mock := newMock(t)

	mock.ExpectQuery("select exists").WithArgs("p1", "p2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	ok, err := svc.SharesTenant(context.Background(), "p1", "p2")
	if err != nil || ok {
		t.Fatalf("SharesTenant: ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConversationTenant(t *testing.T) {
	svc, mock := newMock(t)

	mock.ExpectQuery("select tenant_id from conversations").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("t1"))
	tenantID, err := svc.ConversationTenant(context.Background(), "c1")
	if err != nil || tenantID != "t1" {
		t.Fatalf("ConversationTenant: %q err=%v", tenantID, err)
	}

	mock.ExpectQuery("select tenant_id from conversations").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
	_, err = svc.ConversationTenant(context.Background(), "missing")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIsConversationParticipant(t *testing.T) {
	svc, mock := newMock(t)

	mock.ExpectQuery("select exists").WithArgs("c1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := svc.IsConversationParticipant(context.Background(), "c1", "p1")
	if err != nil || !ok {
		t.Fatalf("IsConversationParticipant: ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
