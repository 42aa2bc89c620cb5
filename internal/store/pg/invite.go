package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/ids"
)

const invitationColumns = `id, tenant_id, email, role_id, token_hash, status, invited_by, expires_at, accepted_at, accepted_by, created_at`

func (s *Store) CreateInvitation(ctx context.Context, inv authz.Invitation) (authz.Invitation, error) {
	if s.db == nil {
		return authz.Invitation{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into invitations (id, tenant_id, email, role_id, token_hash, status, invited_by, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+invitationColumns+`
	`, inv.ID, inv.TenantID, inv.Email, inv.RoleID, inv.TokenHash, inv.Status, nullIfEmpty(inv.InvitedBy), inv.ExpiresAt)
	created, err := scanInvitation(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.Invitation{}, authz.ErrConflict
			case pgErrForeignKeyViolation:
				return authz.Invitation{}, authz.ErrNotFound
			}
		}
		return authz.Invitation{}, err
	}
	return created, nil
}

func (s *Store) InvitationByID(ctx context.Context, id string) (authz.Invitation, error) {
	if s.db == nil {
		return authz.Invitation{}, errors.New("database connection unavailable")
	}
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `
		select `+invitationColumns+`
		from invitations
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Invitation{}, authz.ErrNotFound
	}
	return inv, err
}

func (s *Store) TenantInvitations(ctx context.Context, tenantID string) ([]authz.Invitation, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+invitationColumns+`
		from invitations
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Invitation
	for rows.Next() {
		inv, err := scanInvitationRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AcceptInvitation runs the full acceptance inside one transaction. The
// invitation row is locked up front; the update claiming accepted_at carries
// its own status and null guards, so a second acceptance that slipped past
// the lock window still affects zero rows and fails.
func (s *Store) AcceptInvitation(ctx context.Context, p authz.AcceptInvitationParams) (authz.Invitation, error) {
	if s.db == nil {
		return authz.Invitation{}, errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Invitation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := scanInvitation(tx.QueryRowContext(ctx, `
		select `+invitationColumns+`
		from invitations
		where token_hash = $1
		for update
	`, p.TokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Invitation{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Invitation{}, err
	}

	switch inv.Status {
	case authz.InvitationRevoked:
		return authz.Invitation{}, authz.ErrInvitationRevoked
	case authz.InvitationAccepted:
		return authz.Invitation{}, authz.ErrInvitationAlreadyAccepted
	}
	if inv.AcceptedAt != nil {
		return authz.Invitation{}, authz.ErrInvitationAlreadyAccepted
	}
	if inv.Expired(p.Now) {
		return authz.Invitation{}, authz.ErrInvitationExpired
	}
	if !strings.EqualFold(inv.Email, p.Email) {
		return authz.Invitation{}, authz.ErrInvitationEmailMismatch
	}

	var roleActive bool
	err = tx.QueryRowContext(ctx, `
		select active from custom_roles
		where tenant_id = $1 and id = $2
	`, inv.TenantID, inv.RoleID).Scan(&roleActive)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !roleActive) {
		return authz.Invitation{}, fmt.Errorf("%w: invited role no longer available", authz.ErrRoleNotFound)
	}
	if err != nil {
		return authz.Invitation{}, err
	}

	res, err := tx.ExecContext(ctx, `
		update invitations
		set status = $2, accepted_at = $3, accepted_by = $4
		where id = $1 and status = $5 and accepted_at is null
	`, inv.ID, authz.InvitationAccepted, p.Now, p.PrincipalID, authz.InvitationPending)
	if err != nil {
		return authz.Invitation{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return authz.Invitation{}, err
	}
	if aff == 0 {
		return authz.Invitation{}, authz.ErrInvitationAlreadyAccepted
	}

	if _, err := tx.ExecContext(ctx, `
		insert into memberships (id, tenant_id, principal_id, active, expires_at)
		values ($1, $2, $3, true, null)
		on conflict (tenant_id, principal_id) do update
		set active = true, expires_at = null, updated_at = now()
	`, ids.New(), inv.TenantID, p.PrincipalID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Invitation{}, authz.ErrNotFound
		}
		return authz.Invitation{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into role_assignments (id, tenant_id, principal_id, role_id, active)
		values ($1, $2, $3, $4, true)
		on conflict (tenant_id, principal_id, role_id) do update
		set active = true, updated_at = now()
	`, ids.New(), inv.TenantID, p.PrincipalID, inv.RoleID); err != nil {
		return authz.Invitation{}, err
	}

	if err := tx.Commit(); err != nil {
		return authz.Invitation{}, err
	}

	accepted := p.Now
	inv.Status = authz.InvitationAccepted
	inv.AcceptedAt = &accepted
	inv.AcceptedBy = p.PrincipalID
	return inv, nil
}

// RevokeInvitation is conditional on pending status; when the guard matches
// nothing, a follow-up read distinguishes the terminal states.
func (s *Store) RevokeInvitation(ctx context.Context, id string) (authz.Invitation, error) {
	if s.db == nil {
		return authz.Invitation{}, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update invitations set status = $2
		where id = $1 and status = $3
	`, id, authz.InvitationRevoked, authz.InvitationPending)
	if err != nil {
		return authz.Invitation{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return authz.Invitation{}, err
	}

	inv, err := s.InvitationByID(ctx, id)
	if err != nil {
		return authz.Invitation{}, err
	}
	if aff == 0 {
		switch inv.Status {
		case authz.InvitationAccepted:
			return authz.Invitation{}, authz.ErrInvitationAlreadyAccepted
		case authz.InvitationRevoked:
			return inv, nil
		}
	}
	return inv, nil
}

func scanInvitation(row *sql.Row) (authz.Invitation, error) {
	var (
		inv        authz.Invitation
		invitedBy  sql.NullString
		acceptedAt sql.NullTime
		acceptedBy sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.RoleID, &inv.TokenHash, &inv.Status,
		&invitedBy, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &inv.CreatedAt)
	if err != nil {
		return authz.Invitation{}, err
	}
	if invitedBy.Valid {
		inv.InvitedBy = invitedBy.String
	}
	inv.AcceptedAt = timePtr(acceptedAt)
	if acceptedBy.Valid {
		inv.AcceptedBy = acceptedBy.String
	}
	return inv, nil
}

func scanInvitationRows(rows *sql.Rows) (authz.Invitation, error) {
	var (
		inv        authz.Invitation
		invitedBy  sql.NullString
		acceptedAt sql.NullTime
		acceptedBy sql.NullString
	)
	err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.RoleID, &inv.TokenHash, &inv.Status,
		&invitedBy, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &inv.CreatedAt)
	if err != nil {
		return authz.Invitation{}, err
	}
	if invitedBy.Valid {
		inv.InvitedBy = invitedBy.String
	}
	inv.AcceptedAt = timePtr(acceptedAt)
	if acceptedBy.Valid {
		inv.AcceptedBy = acceptedBy.String
	}
	return inv, nil
}
