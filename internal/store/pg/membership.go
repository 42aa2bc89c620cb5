package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/ids"
)

func (s *Store) CreateTenant(ctx context.Context, name string) (authz.Tenant, error) {
	if s.db == nil {
		return authz.Tenant{}, errors.New("database connection unavailable")
	}
	var tenant authz.Tenant
	row := s.db.QueryRowContext(ctx, `
		insert into tenants (id, name)
		values ($1, $2)
		returning id, name, active, created_at, updated_at
	`, ids.New(), name)
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Active, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Tenant{}, authz.ErrConflict
		}
		return authz.Tenant{}, err
	}
	return tenant, nil
}

func (s *Store) Tenants(ctx context.Context) ([]authz.Tenant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, active, created_at, updated_at
		from tenants
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Tenant
	for rows.Next() {
		var tenant authz.Tenant
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.Active, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) TenantByID(ctx context.Context, id string) (authz.Tenant, error) {
	if s.db == nil {
		return authz.Tenant{}, errors.New("database connection unavailable")
	}
	var tenant authz.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, name, active, created_at, updated_at
		from tenants
		where id = $1
	`, id).Scan(&tenant.ID, &tenant.Name, &tenant.Active, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Tenant{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Tenant{}, err
	}
	return tenant, nil
}

func (s *Store) DeactivateTenant(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update tenants set active = false, updated_at = now()
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePrincipal(ctx context.Context, email, name, globalRole string) (authz.Principal, error) {
	if s.db == nil {
		return authz.Principal{}, errors.New("database connection unavailable")
	}
	var (
		principal authz.Principal
		fullName  sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into principals (id, email, name, global_role)
		values ($1, $2, $3, $4)
		returning id, email, name, global_role, created_at, updated_at
	`, ids.New(), email, nullIfEmpty(name), globalRole)
	if err := row.Scan(&principal.ID, &principal.Email, &fullName, &principal.GlobalRole, &principal.CreatedAt, &principal.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Principal{}, authz.ErrConflict
		}
		return authz.Principal{}, err
	}
	if fullName.Valid {
		principal.Name = fullName.String
	}
	return principal, nil
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (authz.Principal, error) {
	if s.db == nil {
		return authz.Principal{}, errors.New("database connection unavailable")
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		select id, email, name, global_role, created_at, updated_at
		from principals
		where id = $1
	`, id))
}

func (s *Store) PrincipalByEmail(ctx context.Context, email string) (authz.Principal, error) {
	if s.db == nil {
		return authz.Principal{}, errors.New("database connection unavailable")
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		select id, email, name, global_role, created_at, updated_at
		from principals
		where lower(email) = lower($1)
	`, email))
}

func (s *Store) SetGlobalRole(ctx context.Context, principalID, globalRole string) (authz.Principal, error) {
	if s.db == nil {
		return authz.Principal{}, errors.New("database connection unavailable")
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		update principals set global_role = $2, updated_at = now()
		where id = $1
		returning id, email, name, global_role, created_at, updated_at
	`, principalID, globalRole))
}

func (s *Store) scanPrincipal(row *sql.Row) (authz.Principal, error) {
	var (
		principal authz.Principal
		name      sql.NullString
	)
	err := row.Scan(&principal.ID, &principal.Email, &name, &principal.GlobalRole, &principal.CreatedAt, &principal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Principal{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Principal{}, err
	}
	if name.Valid {
		principal.Name = name.String
	}
	return principal, nil
}

func (s *Store) UpsertMembership(ctx context.Context, tenantID, principalID string, expiresAt *time.Time) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into memberships (id, tenant_id, principal_id, active, expires_at)
		values ($1, $2, $3, true, $4)
		on conflict (tenant_id, principal_id) do update
		set active = true, expires_at = excluded.expires_at, updated_at = now()
		returning id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
	`, ids.New(), tenantID, principalID, nullTime(expiresAt))
	membership, err := scanMembership(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Membership{}, authz.ErrNotFound
		}
		return authz.Membership{}, err
	}
	return membership, nil
}

func (s *Store) MembershipFor(ctx context.Context, tenantID, principalID string) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errors.New("database connection unavailable")
	}
	membership, err := scanMembership(s.db.QueryRowContext(ctx, `
		select id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
		from memberships
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Membership{}, authz.ErrNotFound
	}
	return membership, err
}

func (s *Store) TenantMemberships(ctx context.Context, tenantID string) ([]authz.Membership, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.listMemberships(ctx, `
		select id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
		from memberships
		where tenant_id = $1
		order by principal_id
	`, tenantID)
}

func (s *Store) PrincipalMemberships(ctx context.Context, principalID string) ([]authz.Membership, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.listMemberships(ctx, `
		select id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
		from memberships
		where principal_id = $1
		order by tenant_id
	`, principalID)
}

func (s *Store) listMemberships(ctx context.Context, query, arg string) ([]authz.Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Membership
	for rows.Next() {
		var (
			membership authz.Membership
			expires    sql.NullTime
		)
		if err := rows.Scan(&membership.ID, &membership.TenantID, &membership.PrincipalID, &membership.Active, &expires, &membership.JoinedAt, &membership.UpdatedAt); err != nil {
			return nil, err
		}
		membership.ExpiresAt = timePtr(expires)
		result = append(result, membership)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeactivateMembership(ctx context.Context, tenantID, principalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update memberships set active = false, updated_at = now()
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func scanMembership(row *sql.Row) (authz.Membership, error) {
	var (
		membership authz.Membership
		expires    sql.NullTime
	)
	err := row.Scan(&membership.ID, &membership.TenantID, &membership.PrincipalID, &membership.Active, &expires, &membership.JoinedAt, &membership.UpdatedAt)
	if err != nil {
		return authz.Membership{}, err
	}
	membership.ExpiresAt = timePtr(expires)
	return membership, nil
}
