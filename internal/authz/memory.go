package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealerdesk.io/internal/ids"
)

// Memory is an in-process Store used by development mode and tests. A single
// mutex makes every mutation an atomic unit, mirroring the transactional
// behavior of the Postgres store.
type Memory struct {
	mu               sync.RWMutex
	tenants          map[string]Tenant
	principals       map[string]Principal
	memberships      map[string]Membership     // tenantID/principalID
	roles            map[string]CustomRole     // roleID
	moduleAccess     map[string]map[string]ModuleAccess
	grants           map[string]map[string]RoleGrant
	assignments      map[string]RoleAssignment // tenantID/principalID/roleID
	systemGrants     map[string]map[string]SystemGrant
	invitations      map[string]Invitation // invitationID
	invitationTokens map[string]string     // tokenHash -> invitationID
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		tenants:          make(map[string]Tenant),
		principals:       make(map[string]Principal),
		memberships:      make(map[string]Membership),
		roles:            make(map[string]CustomRole),
		moduleAccess:     make(map[string]map[string]ModuleAccess),
		grants:           make(map[string]map[string]RoleGrant),
		assignments:      make(map[string]RoleAssignment),
		systemGrants:     make(map[string]map[string]SystemGrant),
		invitations:      make(map[string]Invitation),
		invitationTokens: make(map[string]string),
	}
}

func memberKey(tenantID, principalID string) string {
	return tenantID + "/" + principalID
}

func assignmentKey(tenantID, principalID, roleID string) string {
	return tenantID + "/" + principalID + "/" + roleID
}

func (m *Memory) CreateTenant(_ context.Context, name string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.Name, name) {
			return Tenant{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	tenant := Tenant{ID: ids.New(), Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	m.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (m *Memory) Tenants(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) TenantByID(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

func (m *Memory) DeactivateTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	tenant.Active = false
	tenant.UpdatedAt = time.Now().UTC()
	m.tenants[id] = tenant
	return nil
}

func (m *Memory) CreatePrincipal(_ context.Context, email, name, globalRole string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if strings.EqualFold(p.Email, email) {
			return Principal{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	principal := Principal{ID: ids.New(), Email: email, Name: name, GlobalRole: globalRole, CreatedAt: now, UpdatedAt: now}
	m.principals[principal.ID] = principal
	return principal, nil
}

func (m *Memory) PrincipalByID(_ context.Context, id string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	principal, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return principal, nil
}

func (m *Memory) PrincipalByEmail(_ context.Context, email string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *Memory) SetGlobalRole(_ context.Context, principalID, globalRole string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal, ok := m.principals[principalID]
	if !ok {
		return Principal{}, ErrNotFound
	}
	principal.GlobalRole = globalRole
	principal.UpdatedAt = time.Now().UTC()
	m.principals[principalID] = principal
	return principal, nil
}

func (m *Memory) UpsertMembership(_ context.Context, tenantID, principalID string, expiresAt *time.Time) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertMembershipLocked(tenantID, principalID, expiresAt, time.Now().UTC()), nil
}

func (m *Memory) upsertMembershipLocked(tenantID, principalID string, expiresAt *time.Time, now time.Time) Membership {
	key := memberKey(tenantID, principalID)
	membership, ok := m.memberships[key]
	if !ok {
		membership = Membership{
			ID:          ids.New(),
			TenantID:    tenantID,
			PrincipalID: principalID,
			JoinedAt:    now,
		}
	}
	membership.Active = true
	membership.ExpiresAt = expiresAt
	membership.UpdatedAt = now
	m.memberships[key] = membership
	return membership
}

func (m *Memory) MembershipFor(_ context.Context, tenantID, principalID string) (Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	membership, ok := m.memberships[memberKey(tenantID, principalID)]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return membership, nil
}

func (m *Memory) TenantMemberships(_ context.Context, tenantID string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Membership
	for _, mem := range m.memberships {
		if mem.TenantID == tenantID {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PrincipalID < result[j].PrincipalID })
	return result, nil
}

func (m *Memory) PrincipalMemberships(_ context.Context, principalID string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Membership
	for _, mem := range m.memberships {
		if mem.PrincipalID == principalID {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

func (m *Memory) DeactivateMembership(_ context.Context, tenantID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(tenantID, principalID)
	membership, ok := m.memberships[key]
	if !ok {
		return ErrNotFound
	}
	membership.Active = false
	membership.UpdatedAt = time.Now().UTC()
	m.memberships[key] = membership
	return nil
}

func (m *Memory) CreateRole(_ context.Context, tenantID, name, displayName string) (CustomRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return CustomRole{}, ErrNotFound
	}
	for _, r := range m.roles {
		if r.TenantID == tenantID && strings.EqualFold(r.Name, name) {
			return CustomRole{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	role := CustomRole{ID: ids.New(), TenantID: tenantID, Name: name, DisplayName: displayName, Active: true, CreatedAt: now, UpdatedAt: now}
	m.roles[role.ID] = role
	return role, nil
}

func (m *Memory) RoleByID(_ context.Context, tenantID, roleID string) (CustomRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return CustomRole{}, ErrNotFound
	}
	return role, nil
}

func (m *Memory) TenantRoles(_ context.Context, tenantID string) ([]CustomRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []CustomRole
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) UpdateRole(_ context.Context, tenantID, roleID string, upd RoleUpdate) (CustomRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return CustomRole{}, ErrNotFound
	}
	if upd.Name != nil {
		for _, r := range m.roles {
			if r.ID != roleID && r.TenantID == tenantID && strings.EqualFold(r.Name, *upd.Name) {
				return CustomRole{}, ErrConflict
			}
		}
		role.Name = *upd.Name
	}
	if upd.DisplayName != nil {
		role.DisplayName = *upd.DisplayName
	}
	if upd.Active != nil {
		role.Active = *upd.Active
	}
	role.UpdatedAt = time.Now().UTC()
	m.roles[roleID] = role
	return role, nil
}

func (m *Memory) DeleteRole(_ context.Context, tenantID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.roles, roleID)
	delete(m.moduleAccess, roleID)
	delete(m.grants, roleID)
	for key, a := range m.assignments {
		if a.RoleID == roleID {
			delete(m.assignments, key)
		}
	}
	return nil
}

func (m *Memory) SetModuleAccess(_ context.Context, roleID, module string, enabled bool) (ModuleAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ModuleAccess{}, ErrNotFound
	}
	return m.setModuleAccessLocked(roleID, module, enabled), nil
}

func (m *Memory) setModuleAccessLocked(roleID, module string, enabled bool) ModuleAccess {
	if m.moduleAccess[roleID] == nil {
		m.moduleAccess[roleID] = make(map[string]ModuleAccess)
	}
	access := ModuleAccess{RoleID: roleID, Module: module, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	m.moduleAccess[roleID][module] = access
	return access
}

func (m *Memory) RoleModuleAccess(_ context.Context, roleID string) ([]ModuleAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ModuleAccess
	for _, a := range m.moduleAccess[roleID] {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Module < result[j].Module })
	return result, nil
}

func (m *Memory) ReplaceGrants(_ context.Context, roleID string, keys, enableModules []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	next := make(map[string]RoleGrant, len(keys))
	for _, key := range keys {
		next[key] = RoleGrant{RoleID: roleID, Key: key, CreatedAt: now}
	}
	m.grants[roleID] = next
	for _, module := range enableModules {
		m.setModuleAccessLocked(roleID, module, true)
	}
	return nil
}

func (m *Memory) RoleGrants(_ context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roleGrantsLocked(roleID), nil
}

func (m *Memory) roleGrantsLocked(roleID string) []string {
	grants := m.grants[roleID]
	if len(grants) == 0 {
		return nil
	}
	keys := make([]string, 0, len(grants))
	for key := range grants {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) UpsertAssignment(_ context.Context, tenantID, principalID, roleID string) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertAssignmentLocked(tenantID, principalID, roleID, time.Now().UTC()), nil
}

func (m *Memory) upsertAssignmentLocked(tenantID, principalID, roleID string, now time.Time) RoleAssignment {
	key := assignmentKey(tenantID, principalID, roleID)
	assignment, ok := m.assignments[key]
	if !ok {
		assignment = RoleAssignment{
			ID:          ids.New(),
			TenantID:    tenantID,
			PrincipalID: principalID,
			RoleID:      roleID,
			AssignedAt:  now,
		}
	}
	assignment.Active = true
	assignment.UpdatedAt = now
	m.assignments[key] = assignment
	return assignment
}

func (m *Memory) DeactivateAssignment(_ context.Context, tenantID, principalID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(tenantID, principalID, roleID)
	assignment, ok := m.assignments[key]
	if !ok {
		return ErrNotFound
	}
	assignment.Active = false
	assignment.UpdatedAt = time.Now().UTC()
	m.assignments[key] = assignment
	return nil
}

func (m *Memory) MemberAssignments(_ context.Context, tenantID, principalID string) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []RoleAssignment
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoleID < result[j].RoleID })
	return result, nil
}

func (m *Memory) CreateSystemGrant(_ context.Context, principalID, key string) (SystemGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[principalID]; !ok {
		return SystemGrant{}, ErrNotFound
	}
	if existing, ok := m.systemGrants[principalID][key]; ok {
		return existing, nil
	}
	if m.systemGrants[principalID] == nil {
		m.systemGrants[principalID] = make(map[string]SystemGrant)
	}
	grant := SystemGrant{PrincipalID: principalID, Key: key, CreatedAt: time.Now().UTC()}
	m.systemGrants[principalID][key] = grant
	return grant, nil
}

func (m *Memory) DeleteSystemGrant(_ context.Context, principalID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.systemGrants[principalID][key]; !ok {
		return ErrNotFound
	}
	delete(m.systemGrants[principalID], key)
	return nil
}

func (m *Memory) SystemGrants(_ context.Context, principalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grants := m.systemGrants[principalID]
	if len(grants) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(grants))
	for key := range grants {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) CreateInvitation(_ context.Context, inv Invitation) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invitationTokens[inv.TokenHash]; ok {
		return Invitation{}, ErrConflict
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	m.invitations[inv.ID] = inv
	m.invitationTokens[inv.TokenHash] = inv.ID
	return inv, nil
}

func (m *Memory) InvitationByID(_ context.Context, id string) (Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (m *Memory) TenantInvitations(_ context.Context, tenantID string) ([]Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Invitation
	for _, inv := range m.invitations {
		if inv.TenantID == tenantID {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) AcceptInvitation(_ context.Context, p AcceptInvitationParams) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.invitationTokens[p.TokenHash]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	inv := m.invitations[id]

	switch inv.Status {
	case InvitationRevoked:
		return Invitation{}, ErrInvitationRevoked
	case InvitationAccepted:
		return Invitation{}, ErrInvitationAlreadyAccepted
	}
	// The single-write invariant: accepted_at is claimed at most once.
	if inv.AcceptedAt != nil {
		return Invitation{}, ErrInvitationAlreadyAccepted
	}
	if inv.Expired(p.Now) {
		return Invitation{}, ErrInvitationExpired
	}
	if !strings.EqualFold(inv.Email, p.Email) {
		return Invitation{}, ErrInvitationEmailMismatch
	}
	role, ok := m.roles[inv.RoleID]
	if !ok || role.TenantID != inv.TenantID || !role.Active {
		return Invitation{}, fmt.Errorf("%w: invited role no longer available", ErrRoleNotFound)
	}

	accepted := p.Now
	inv.Status = InvitationAccepted
	inv.AcceptedAt = &accepted
	inv.AcceptedBy = p.PrincipalID
	m.invitations[id] = inv

	m.upsertMembershipLocked(inv.TenantID, p.PrincipalID, nil, p.Now)
	m.upsertAssignmentLocked(inv.TenantID, p.PrincipalID, inv.RoleID, p.Now)
	return inv, nil
}

func (m *Memory) RevokeInvitation(_ context.Context, id string) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	switch inv.Status {
	case InvitationAccepted:
		return Invitation{}, ErrInvitationAlreadyAccepted
	case InvitationRevoked:
		return inv, nil
	}
	inv.Status = InvitationRevoked
	m.invitations[id] = inv
	return inv, nil
}

func (m *Memory) Snapshot(_ context.Context, principalID, tenantID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{TakenAt: time.Now().UTC()}
	snap.Principal = m.principals[principalID]
	snap.Tenant = m.tenants[tenantID]
	snap.Membership = m.memberships[memberKey(tenantID, principalID)]

	for _, a := range m.assignments {
		if a.TenantID != tenantID || a.PrincipalID != principalID || !a.Active {
			continue
		}
		role, ok := m.roles[a.RoleID]
		if !ok || role.TenantID != tenantID || !role.Active {
			continue
		}
		snap.Roles = append(snap.Roles, m.roleStateLocked(role))
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].Role.ID < snap.Roles[j].Role.ID })
	return snap, nil
}

func (m *Memory) TenantCatalog(_ context.Context, tenantID string) (Catalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	catalog := Catalog{TenantID: tenantID, Roles: make(map[string]RoleState), TakenAt: time.Now().UTC()}
	for _, role := range m.roles {
		if role.TenantID != tenantID || !role.Active {
			continue
		}
		catalog.Roles[role.ID] = m.roleStateLocked(role)
	}
	return catalog, nil
}

func (m *Memory) PrincipalState(_ context.Context, principalID, tenantID string) (PrincipalState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := PrincipalState{
		Principal:  m.principals[principalID],
		Tenant:     m.tenants[tenantID],
		Membership: m.memberships[memberKey(tenantID, principalID)],
	}
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.PrincipalID == principalID && a.Active {
			state.AssignedRoleIDs = append(state.AssignedRoleIDs, a.RoleID)
		}
	}
	sort.Strings(state.AssignedRoleIDs)
	return state, nil
}

func (m *Memory) roleStateLocked(role CustomRole) RoleState {
	state := RoleState{Role: role, Modules: make(map[string]bool)}
	for module, access := range m.moduleAccess[role.ID] {
		state.Modules[module] = access.Enabled
	}
	state.Grants = m.roleGrantsLocked(role.ID)
	return state
}
