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

func (s *Store) CreateRole(ctx context.Context, tenantID, name, displayName string) (authz.CustomRole, error) {
	if s.db == nil {
		return authz.CustomRole{}, errors.New("database connection unavailable")
	}
	var (
		role    authz.CustomRole
		display sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into custom_roles (id, tenant_id, name, display_name)
		values ($1, $2, $3, $4)
		returning id, tenant_id, name, display_name, active, created_at, updated_at
	`, ids.New(), tenantID, name, nullIfEmpty(displayName))
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &display, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.CustomRole{}, authz.ErrConflict
			case pgErrForeignKeyViolation:
				return authz.CustomRole{}, authz.ErrNotFound
			}
		}
		return authz.CustomRole{}, err
	}
	if display.Valid {
		role.DisplayName = display.String
	}
	return role, nil
}

func (s *Store) RoleByID(ctx context.Context, tenantID, roleID string) (authz.CustomRole, error) {
	if s.db == nil {
		return authz.CustomRole{}, errors.New("database connection unavailable")
	}
	var (
		role    authz.CustomRole
		display sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, display_name, active, created_at, updated_at
		from custom_roles
		where tenant_id = $1 and id = $2
	`, tenantID, roleID).Scan(&role.ID, &role.TenantID, &role.Name, &display, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.CustomRole{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.CustomRole{}, err
	}
	if display.Valid {
		role.DisplayName = display.String
	}
	return role, nil
}

func (s *Store) TenantRoles(ctx context.Context, tenantID string) ([]authz.CustomRole, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, name, display_name, active, created_at, updated_at
		from custom_roles
		where tenant_id = $1
		order by name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.CustomRole
	for rows.Next() {
		var (
			role    authz.CustomRole
			display sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &display, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if display.Valid {
			role.DisplayName = display.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) UpdateRole(ctx context.Context, tenantID, roleID string, upd authz.RoleUpdate) (authz.CustomRole, error) {
	if s.db == nil {
		return authz.CustomRole{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.DisplayName != nil {
		if *upd.DisplayName == "" {
			sets = append(sets, "display_name = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
			args = append(args, *upd.DisplayName)
			idx++
		}
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update custom_roles set %s where tenant_id = $%d and id = $%d`, strings.Join(sets, ", "), idx, idx+1)
		args = append(args, tenantID, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return authz.CustomRole{}, authz.ErrConflict
			}
			return authz.CustomRole{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return authz.CustomRole{}, err
		}
		if aff == 0 {
			return authz.CustomRole{}, authz.ErrNotFound
		}
	}
	return s.RoleByID(ctx, tenantID, roleID)
}

// DeleteRole relies on cascading foreign keys to take grants, module access
// and assignments down with the role in one statement.
func (s *Store) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from custom_roles
		where tenant_id = $1 and id = $2
	`, tenantID, roleID)
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

func (s *Store) SetModuleAccess(ctx context.Context, roleID, module string, enabled bool) (authz.ModuleAccess, error) {
	if s.db == nil {
		return authz.ModuleAccess{}, errors.New("database connection unavailable")
	}
	var access authz.ModuleAccess
	row := s.db.QueryRowContext(ctx, `
		insert into role_module_access (role_id, module, enabled)
		values ($1, $2, $3)
		on conflict (role_id, module) do update
		set enabled = excluded.enabled, updated_at = now()
		returning role_id, module, enabled, updated_at
	`, roleID, module, enabled)
	if err := row.Scan(&access.RoleID, &access.Module, &access.Enabled, &access.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.ModuleAccess{}, authz.ErrNotFound
		}
		return authz.ModuleAccess{}, err
	}
	return access, nil
}

func (s *Store) RoleModuleAccess(ctx context.Context, roleID string) ([]authz.ModuleAccess, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select role_id, module, enabled, updated_at
		from role_module_access
		where role_id = $1
		order by module
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.ModuleAccess
	for rows.Next() {
		var access authz.ModuleAccess
		if err := rows.Scan(&access.RoleID, &access.Module, &access.Enabled, &access.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, access)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceGrants swaps the grant set and opens the module gates implied by it
// inside one transaction. The role row is locked first so concurrent writers
// serialize instead of interleaving deletes and inserts.
func (s *Store) ReplaceGrants(ctx context.Context, roleID string, keys, enableModules []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from custom_roles where id = $1 for update`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_grants where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `
			insert into role_grants (role_id, permission_key)
			values ($1, $2)
		`, roleID, key); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s not registered", authz.ErrNotFound, key)
			}
			return err
		}
	}
	for _, module := range enableModules {
		if _, err := tx.ExecContext(ctx, `
			insert into role_module_access (role_id, module, enabled)
			values ($1, $2, true)
			on conflict (role_id, module) do update
			set enabled = true, updated_at = now()
		`, roleID, module); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RoleGrants(ctx context.Context, roleID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select permission_key
		from role_grants
		where role_id = $1
		order by permission_key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) UpsertAssignment(ctx context.Context, tenantID, principalID, roleID string) (authz.RoleAssignment, error) {
	if s.db == nil {
		return authz.RoleAssignment{}, errors.New("database connection unavailable")
	}
	var assignment authz.RoleAssignment
	row := s.db.QueryRowContext(ctx, `
		insert into role_assignments (id, tenant_id, principal_id, role_id, active)
		values ($1, $2, $3, $4, true)
		on conflict (tenant_id, principal_id, role_id) do update
		set active = true, updated_at = now()
		returning id, tenant_id, principal_id, role_id, active, assigned_at, updated_at
	`, ids.New(), tenantID, principalID, roleID)
	if err := row.Scan(&assignment.ID, &assignment.TenantID, &assignment.PrincipalID, &assignment.RoleID, &assignment.Active, &assignment.AssignedAt, &assignment.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.RoleAssignment{}, authz.ErrNotFound
		}
		return authz.RoleAssignment{}, err
	}
	return assignment, nil
}

func (s *Store) DeactivateAssignment(ctx context.Context, tenantID, principalID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update role_assignments set active = false, updated_at = now()
		where tenant_id = $1 and principal_id = $2 and role_id = $3
	`, tenantID, principalID, roleID)
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

func (s *Store) MemberAssignments(ctx context.Context, tenantID, principalID string) ([]authz.RoleAssignment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, principal_id, role_id, active, assigned_at, updated_at
		from role_assignments
		where tenant_id = $1 and principal_id = $2
		order by role_id
	`, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.RoleAssignment
	for rows.Next() {
		var assignment authz.RoleAssignment
		if err := rows.Scan(&assignment.ID, &assignment.TenantID, &assignment.PrincipalID, &assignment.RoleID, &assignment.Active, &assignment.AssignedAt, &assignment.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSystemGrant is idempotent: granting an existing key returns the
// original row, matching the service contract.
func (s *Store) CreateSystemGrant(ctx context.Context, principalID, key string) (authz.SystemGrant, error) {
	if s.db == nil {
		return authz.SystemGrant{}, errors.New("database connection unavailable")
	}
	var grant authz.SystemGrant
	row := s.db.QueryRowContext(ctx, `
		insert into system_grants (principal_id, permission_key)
		values ($1, $2)
		on conflict (principal_id, permission_key) do update
		set permission_key = excluded.permission_key
		returning principal_id, permission_key, created_at
	`, principalID, key)
	if err := row.Scan(&grant.PrincipalID, &grant.Key, &grant.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.SystemGrant{}, authz.ErrNotFound
		}
		return authz.SystemGrant{}, err
	}
	return grant, nil
}

func (s *Store) DeleteSystemGrant(ctx context.Context, principalID, key string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from system_grants
		where principal_id = $1 and permission_key = $2
	`, principalID, key)
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

func (s *Store) SystemGrants(ctx context.Context, principalID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select permission_key
		from system_grants
		where principal_id = $1
		order by permission_key
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
