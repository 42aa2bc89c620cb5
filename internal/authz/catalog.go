package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dealerdesk.io/internal/events"
)

func (s *Service) CreateRole(ctx context.Context, tenantID, name, displayName string) (CustomRole, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return CustomRole{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return CustomRole{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	tenant, err := s.store.TenantByID(ctx, tenantID)
	if err != nil {
		return CustomRole{}, err
	}
	if !tenant.Active {
		return CustomRole{}, fmt.Errorf("%w: tenant is deactivated", ErrConflict)
	}
	role, err := s.store.CreateRole(ctx, tenantID, name, displayName)
	if err != nil {
		return CustomRole{}, err
	}
	s.publish(events.Event{Kind: events.KindRoleCreated, TenantID: tenantID, RoleID: role.ID})
	return role, nil
}

func (s *Service) Role(ctx context.Context, tenantID, roleID string) (CustomRole, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return CustomRole{}, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	return s.store.RoleByID(ctx, tenantID, roleID)
}

func (s *Service) TenantRoles(ctx context.Context, tenantID string) ([]CustomRole, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.TenantRoles(ctx, tenantID)
}

func (s *Service) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (CustomRole, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return CustomRole{}, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return CustomRole{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.DisplayName != nil {
		display := strings.TrimSpace(*upd.DisplayName)
		upd.DisplayName = &display
	}
	role, err := s.store.UpdateRole(ctx, tenantID, roleID, upd)
	if err != nil {
		return CustomRole{}, err
	}
	s.publish(events.Event{Kind: events.KindRoleUpdated, TenantID: tenantID, RoleID: roleID})
	return role, nil
}

// DeleteRole removes the role with its grants, module access and assignments.
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.DeleteRole(ctx, tenantID, roleID); err != nil {
		return err
	}
	s.publish(events.Event{Kind: events.KindRoleDeleted, TenantID: tenantID, RoleID: roleID})
	return nil
}

func (s *Service) SetModuleAccess(ctx context.Context, tenantID, roleID, module string, enabled bool) (ModuleAccess, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	module = strings.TrimSpace(strings.ToLower(module))
	if tenantID == "" || roleID == "" {
		return ModuleAccess{}, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if !ValidModule(module) {
		return ModuleAccess{}, fmt.Errorf("%w: unknown module %s", ErrInvalidInput, module)
	}
	if _, err := s.store.RoleByID(ctx, tenantID, roleID); err != nil {
		return ModuleAccess{}, err
	}
	access, err := s.store.SetModuleAccess(ctx, roleID, module, enabled)
	if err != nil {
		return ModuleAccess{}, err
	}
	s.publish(events.Event{Kind: events.KindModuleToggled, TenantID: tenantID, RoleID: roleID, Module: module})
	return access, nil
}

func (s *Service) RoleModules(ctx context.Context, tenantID, roleID string) ([]ModuleAccess, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.RoleByID(ctx, tenantID, roleID); err != nil {
		return nil, err
	}
	return s.store.RoleModuleAccess(ctx, roleID)
}

// ReplaceGrants swaps the role's granted keys. Module access for every module
// implied by the new keys is enabled in the same atomic unit, which is the
// reconciliation rule applied at mutation time.
func (s *Service) ReplaceGrants(ctx context.Context, tenantID, roleID string, keys []string) error {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.RoleByID(ctx, tenantID, roleID); err != nil {
		return err
	}
	keys = dedupeStrings(keys)
	moduleSet := make(map[string]struct{})
	for _, key := range keys {
		perm, ok := PermissionByKey(key)
		if !ok {
			return fmt.Errorf("%w: permission %s not found", ErrNotFound, key)
		}
		if perm.Module == "" {
			return fmt.Errorf("%w: system permission %s cannot be granted to a role", ErrInvalidInput, key)
		}
		moduleSet[perm.Module] = struct{}{}
	}
	modules := make([]string, 0, len(moduleSet))
	for module := range moduleSet {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	if err := s.store.ReplaceGrants(ctx, roleID, keys, modules); err != nil {
		return err
	}
	s.publish(events.Event{Kind: events.KindGrantsChanged, TenantID: tenantID, RoleID: roleID})
	return nil
}

func (s *Service) RoleGrants(ctx context.Context, tenantID, roleID string) ([]string, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.RoleByID(ctx, tenantID, roleID); err != nil {
		return nil, err
	}
	return s.store.RoleGrants(ctx, roleID)
}

// AssignRole attaches a role to an existing member. The membership row must
// already exist; resolution would deny a roleless non-member anyway, but
// assignments without membership are almost always admin mistakes.
func (s *Service) AssignRole(ctx context.Context, tenantID, principalID, roleID string) (RoleAssignment, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || principalID == "" || roleID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: tenant_id, principal_id and role_id are required", ErrInvalidInput)
	}
	role, err := s.store.RoleByID(ctx, tenantID, roleID)
	if err != nil {
		return RoleAssignment{}, err
	}
	if !role.Active {
		return RoleAssignment{}, fmt.Errorf("%w: role %s is deactivated", ErrConflict, role.Name)
	}
	if _, err := s.store.MembershipFor(ctx, tenantID, principalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RoleAssignment{}, fmt.Errorf("%w: principal has no membership in tenant", ErrNotAMember)
		}
		return RoleAssignment{}, err
	}
	assignment, err := s.store.UpsertAssignment(ctx, tenantID, principalID, roleID)
	if err != nil {
		return RoleAssignment{}, err
	}
	s.publish(events.Event{Kind: events.KindAssignmentChanged, TenantID: tenantID, PrincipalID: principalID, RoleID: roleID})
	return assignment, nil
}

func (s *Service) UnassignRole(ctx context.Context, tenantID, principalID, roleID string) error {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || principalID == "" || roleID == "" {
		return fmt.Errorf("%w: tenant_id, principal_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.DeactivateAssignment(ctx, tenantID, principalID, roleID); err != nil {
		return err
	}
	s.publish(events.Event{Kind: events.KindAssignmentChanged, TenantID: tenantID, PrincipalID: principalID, RoleID: roleID})
	return nil
}

// MemberRoles lists the active roles behind the member's active assignments.
// Dangling role references contribute nothing.
func (s *Service) MemberRoles(ctx context.Context, tenantID, principalID string) ([]CustomRole, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return nil, fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	assignments, err := s.store.MemberAssignments(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	var roles []CustomRole
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		role, err := s.store.RoleByID(ctx, tenantID, a.RoleID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if role.Active {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// GrantSystem attaches a system-level key directly to a principal. Granting
// an already-granted key succeeds without change.
func (s *Service) GrantSystem(ctx context.Context, principalID, key string) (SystemGrant, error) {
	principalID = strings.TrimSpace(principalID)
	key = strings.TrimSpace(key)
	if principalID == "" || key == "" {
		return SystemGrant{}, fmt.Errorf("%w: principal_id and permission key are required", ErrInvalidInput)
	}
	perm, ok := PermissionByKey(key)
	if !ok {
		return SystemGrant{}, fmt.Errorf("%w: permission %s not found", ErrNotFound, key)
	}
	if perm.Module != "" {
		return SystemGrant{}, fmt.Errorf("%w: %s is not a system permission", ErrInvalidInput, key)
	}
	if _, err := s.store.PrincipalByID(ctx, principalID); err != nil {
		return SystemGrant{}, err
	}
	return s.store.CreateSystemGrant(ctx, principalID, key)
}

func (s *Service) RevokeSystem(ctx context.Context, principalID, key string) error {
	principalID = strings.TrimSpace(principalID)
	key = strings.TrimSpace(key)
	if principalID == "" || key == "" {
		return fmt.Errorf("%w: principal_id and permission key are required", ErrInvalidInput)
	}
	return s.store.DeleteSystemGrant(ctx, principalID, key)
}

func (s *Service) SystemGrantsFor(ctx context.Context, principalID string) ([]string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	return s.store.SystemGrants(ctx, principalID)
}

// HasSystemGrant reports whether the principal holds the system-level key.
func (s *Service) HasSystemGrant(ctx context.Context, principalID, key string) (bool, error) {
	keys, err := s.SystemGrantsFor(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}
