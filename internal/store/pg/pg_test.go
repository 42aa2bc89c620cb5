package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"dealerdesk.io/internal/authz"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestCreateTenantMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("insert into tenants").
		WithArgs(sqlmock.AnyArg(), "Alpha Motors").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateTenant(context.Background(), "Alpha Motors")
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTenantByIDNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select id, name, active").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}))

	_, err := store.TenantByID(context.Background(), "missing")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertMembershipMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("insert into memberships").
		WithArgs(sqlmock.AnyArg(), "t1", "ghost", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.UpsertMembership(context.Background(), "t1", "ghost", nil)
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplaceGrantsTransaction(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from custom_roles").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_grants").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_grants").
		WithArgs("r1", "inventory.view").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_grants").
		WithArgs("r1", "inventory.adjust").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_module_access").
		WithArgs("r1", "inventory").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ReplaceGrants(context.Background(), "r1",
		[]string{"inventory.view", "inventory.adjust"},
		[]string{"inventory"})
	if err != nil {
		t.Fatalf("ReplaceGrants: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplaceGrantsUnknownPermission(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from custom_roles").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_grants").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into role_grants").
		WithArgs("r1", "bogus.key").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.ReplaceGrants(context.Background(), "r1", []string{"bogus.key"}, nil)
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptInvitationClaimsOnce(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	hash := authz.HashInvitationToken("raw-token")

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant_id, email, role_id").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "role_id", "token_hash", "status",
			"invited_by", "expires_at", "accepted_at", "accepted_by", "created_at",
		}).AddRow("inv1", "t1", "dana@alpha.test", "r1", hash, authz.InvitationPending,
			nil, now.Add(time.Hour), nil, nil, now))
	mock.ExpectQuery("select active from custom_roles").
		WithArgs("t1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"active"}).AddRow(true))
	mock.ExpectExec("update invitations").
		WithArgs("inv1", authz.InvitationAccepted, now, "p1", authz.InvitationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into memberships").
		WithArgs(sqlmock.AnyArg(), "t1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_assignments").
		WithArgs(sqlmock.AnyArg(), "t1", "p1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inv, err := store.AcceptInvitation(context.Background(), authz.AcceptInvitationParams{
		TokenHash:   hash,
		PrincipalID: "p1",
		Email:       "dana@alpha.test",
		Now:         now,
	})
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if inv.Status != authz.InvitationAccepted || inv.AcceptedBy != "p1" {
		t.Fatalf("unexpected invitation state: %+v", inv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptInvitationLostRace(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	hash := authz.HashInvitationToken("raw-token")

	// The claim update matches zero rows when another transaction already
	// wrote accepted_at between our read and our write.
	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant_id, email, role_id").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "role_id", "token_hash", "status",
			"invited_by", "expires_at", "accepted_at", "accepted_by", "created_at",
		}).AddRow("inv1", "t1", "dana@alpha.test", "r1", hash, authz.InvitationPending,
			nil, now.Add(time.Hour), nil, nil, now))
	mock.ExpectQuery("select active from custom_roles").
		WithArgs("t1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"active"}).AddRow(true))
	mock.ExpectExec("update invitations").
		WithArgs("inv1", authz.InvitationAccepted, now, "p1", authz.InvitationPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.AcceptInvitation(context.Background(), authz.AcceptInvitationParams{
		TokenHash:   hash,
		PrincipalID: "p1",
		Email:       "dana@alpha.test",
		Now:         now,
	})
	if !errors.Is(err, authz.ErrInvitationAlreadyAccepted) {
		t.Fatalf("expected ErrInvitationAlreadyAccepted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptInvitationExpired(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	hash := authz.HashInvitationToken("raw-token")

	mock.ExpectBegin()
	mock.ExpectQuery("select id, tenant_id, email, role_id").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "role_id", "token_hash", "status",
			"invited_by", "expires_at", "accepted_at", "accepted_by", "created_at",
		}).AddRow("inv1", "t1", "dana@alpha.test", "r1", hash, authz.InvitationPending,
			nil, now.Add(-time.Minute), nil, nil, now.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := store.AcceptInvitation(context.Background(), authz.AcceptInvitationParams{
		TokenHash:   hash,
		PrincipalID: "p1",
		Email:       "dana@alpha.test",
		Now:         now,
	})
	if !errors.Is(err, authz.ErrInvitationExpired) {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshotAssemblesRoleState(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select id, email, coalesce").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "global_role", "created_at", "updated_at"}).
			AddRow("p1", "dana@alpha.test", "Dana", authz.GlobalRoleMember, now, now))
	mock.ExpectQuery("select id, name, active").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}).
			AddRow("t1", "Alpha Motors", true, now, now))
	mock.ExpectQuery("select id, tenant_id, principal_id").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "active", "expires_at", "joined_at", "updated_at"}).
			AddRow("m1", "t1", "p1", true, nil, now, now))
	mock.ExpectQuery("select r.id, r.tenant_id").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "display_name", "active", "created_at", "updated_at"}).
			AddRow("r1", "t1", "sales-agent", "Sales Agent", true, now, now))
	mock.ExpectQuery("select module, enabled").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"module", "enabled"}).AddRow("inventory", true))
	mock.ExpectQuery("select permission_key").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"permission_key"}).AddRow("inventory.view"))
	mock.ExpectRollback()

	snap, err := store.Snapshot(context.Background(), "p1", "t1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Principal.ID != "p1" || snap.Tenant.ID != "t1" || snap.Membership.ID != "m1" {
		t.Fatalf("unexpected snapshot identities: %+v", snap)
	}
	if len(snap.Roles) != 1 {
		t.Fatalf("expected one role state, got %d", len(snap.Roles))
	}
	state := snap.Roles[0]
	if !state.Enabled("inventory") {
		t.Fatalf("expected inventory gate open: %+v", state.Modules)
	}
	if len(state.Grants) != 1 || state.Grants[0] != "inventory.view" {
		t.Fatalf("unexpected grants: %v", state.Grants)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshotMissingRowsStayZero(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, email, coalesce").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "global_role", "created_at", "updated_at"}))
	mock.ExpectQuery("select id, name, active").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}))
	mock.ExpectQuery("select id, tenant_id, principal_id").
		WithArgs("t1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "active", "expires_at", "joined_at", "updated_at"}))
	mock.ExpectQuery("select r.id, r.tenant_id").
		WithArgs("t1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "display_name", "active", "created_at", "updated_at"}))
	mock.ExpectRollback()

	snap, err := store.Snapshot(context.Background(), "ghost", "t1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Principal.ID != "" || snap.Tenant.ID != "" || snap.Membership.ID != "" || len(snap.Roles) != 0 {
		t.Fatalf("expected zero-value snapshot, got %+v", snap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeInvitationIdempotent(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec("update invitations").
		WithArgs("inv1", authz.InvitationRevoked, authz.InvitationPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select id, tenant_id, email, role_id").
		WithArgs("inv1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "role_id", "token_hash", "status",
			"invited_by", "expires_at", "accepted_at", "accepted_by", "created_at",
		}).AddRow("inv1", "t1", "dana@alpha.test", "r1", "hash", authz.InvitationRevoked,
			nil, now.Add(time.Hour), nil, nil, now))

	inv, err := store.RevokeInvitation(context.Background(), "inv1")
	if err != nil {
		t.Fatalf("RevokeInvitation: %v", err)
	}
	if inv.Status != authz.InvitationRevoked {
		t.Fatalf("expected revoked status, got %s", inv.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
