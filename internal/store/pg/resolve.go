package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dealerdesk.io/internal/authz"
)

// querier is satisfied by *sql.DB and *sql.Tx; the role-state reads run
// against whichever view the caller holds.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Snapshot reads everything one resolution needs inside one repeatable-read
// transaction, so the decision never sees a half-applied grant change.
// Absent rows stay zero values; the resolver fails closed on them.
func (s *Store) Snapshot(ctx context.Context, principalID, tenantID string) (authz.Snapshot, error) {
	if s.db == nil {
		return authz.Snapshot{}, errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return authz.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	snap := authz.Snapshot{TakenAt: time.Now().UTC()}

	err = tx.QueryRowContext(ctx, `
		select id, email, coalesce(name, ''), global_role, created_at, updated_at
		from principals
		where id = $1
	`, principalID).Scan(&snap.Principal.ID, &snap.Principal.Email, &snap.Principal.Name,
		&snap.Principal.GlobalRole, &snap.Principal.CreatedAt, &snap.Principal.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.Snapshot{}, err
	}

	err = tx.QueryRowContext(ctx, `
		select id, name, active, created_at, updated_at
		from tenants
		where id = $1
	`, tenantID).Scan(&snap.Tenant.ID, &snap.Tenant.Name, &snap.Tenant.Active,
		&snap.Tenant.CreatedAt, &snap.Tenant.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.Snapshot{}, err
	}

	var expires sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
		from memberships
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&snap.Membership.ID, &snap.Membership.TenantID, &snap.Membership.PrincipalID,
		&snap.Membership.Active, &expires, &snap.Membership.JoinedAt, &snap.Membership.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.Snapshot{}, err
	}
	snap.Membership.ExpiresAt = timePtr(expires)

	roles, err := assignedRoles(ctx, tx, principalID, tenantID)
	if err != nil {
		return authz.Snapshot{}, err
	}
	for _, role := range roles {
		state, err := roleState(ctx, tx, role)
		if err != nil {
			return authz.Snapshot{}, err
		}
		snap.Roles = append(snap.Roles, state)
	}
	return snap, nil
}

// TenantCatalog reads the role-side state of a tenant, the cacheable portion
// of a snapshot, under the same repeatable-read guarantee.
func (s *Store) TenantCatalog(ctx context.Context, tenantID string) (authz.Catalog, error) {
	if s.db == nil {
		return authz.Catalog{}, errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return authz.Catalog{}, err
	}
	defer func() { _ = tx.Rollback() }()

	catalog := authz.Catalog{TenantID: tenantID, Roles: make(map[string]authz.RoleState), TakenAt: time.Now().UTC()}

	rows, err := tx.QueryContext(ctx, `
		select id, tenant_id, name, coalesce(display_name, ''), active, created_at, updated_at
		from custom_roles
		where tenant_id = $1 and active
		order by id
	`, tenantID)
	if err != nil {
		return authz.Catalog{}, err
	}
	defer rows.Close()

	var roles []authz.CustomRole
	for rows.Next() {
		var role authz.CustomRole
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &role.DisplayName, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return authz.Catalog{}, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return authz.Catalog{}, err
	}

	for _, role := range roles {
		state, err := roleState(ctx, tx, role)
		if err != nil {
			return authz.Catalog{}, err
		}
		catalog.Roles[role.ID] = state
	}
	return catalog, nil
}

// PrincipalState reads the live, never-cached portion of a snapshot.
func (s *Store) PrincipalState(ctx context.Context, principalID, tenantID string) (authz.PrincipalState, error) {
	if s.db == nil {
		return authz.PrincipalState{}, errors.New("database connection unavailable")
	}

	var state authz.PrincipalState

	err := s.db.QueryRowContext(ctx, `
		select id, email, coalesce(name, ''), global_role, created_at, updated_at
		from principals
		where id = $1
	`, principalID).Scan(&state.Principal.ID, &state.Principal.Email, &state.Principal.Name,
		&state.Principal.GlobalRole, &state.Principal.CreatedAt, &state.Principal.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.PrincipalState{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		select id, name, active, created_at, updated_at
		from tenants
		where id = $1
	`, tenantID).Scan(&state.Tenant.ID, &state.Tenant.Name, &state.Tenant.Active,
		&state.Tenant.CreatedAt, &state.Tenant.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.PrincipalState{}, err
	}

	var expires sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		select id, tenant_id, principal_id, active, expires_at, joined_at, updated_at
		from memberships
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&state.Membership.ID, &state.Membership.TenantID, &state.Membership.PrincipalID,
		&state.Membership.Active, &expires, &state.Membership.JoinedAt, &state.Membership.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return authz.PrincipalState{}, err
	}
	state.Membership.ExpiresAt = timePtr(expires)

	rows, err := s.db.QueryContext(ctx, `
		select role_id
		from role_assignments
		where tenant_id = $1 and principal_id = $2 and active
		order by role_id
	`, tenantID, principalID)
	if err != nil {
		return authz.PrincipalState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return authz.PrincipalState{}, err
		}
		state.AssignedRoleIDs = append(state.AssignedRoleIDs, roleID)
	}
	if err := rows.Err(); err != nil {
		return authz.PrincipalState{}, err
	}
	return state, nil
}

func assignedRoles(ctx context.Context, q querier, principalID, tenantID string) ([]authz.CustomRole, error) {
	rows, err := q.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name, coalesce(r.display_name, ''), r.active, r.created_at, r.updated_at
		from role_assignments a
		join custom_roles r on r.id = a.role_id
		where a.tenant_id = $1 and a.principal_id = $2 and a.active and r.active
		order by r.id
	`, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.CustomRole
	for rows.Next() {
		var role authz.CustomRole
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &role.DisplayName, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func roleState(ctx context.Context, q querier, role authz.CustomRole) (authz.RoleState, error) {
	state := authz.RoleState{Role: role, Modules: make(map[string]bool)}

	rows, err := q.QueryContext(ctx, `
		select module, enabled
		from role_module_access
		where role_id = $1
	`, role.ID)
	if err != nil {
		return authz.RoleState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			module  string
			enabled bool
		)
		if err := rows.Scan(&module, &enabled); err != nil {
			return authz.RoleState{}, err
		}
		state.Modules[module] = enabled
	}
	if err := rows.Err(); err != nil {
		return authz.RoleState{}, err
	}

	grants, err := q.QueryContext(ctx, `
		select permission_key
		from role_grants
		where role_id = $1
		order by permission_key
	`, role.ID)
	if err != nil {
		return authz.RoleState{}, err
	}
	defer grants.Close()
	for grants.Next() {
		var key string
		if err := grants.Scan(&key); err != nil {
			return authz.RoleState{}, err
		}
		state.Grants = append(state.Grants, key)
	}
	if err := grants.Err(); err != nil {
		return authz.RoleState{}, err
	}
	return state, nil
}
