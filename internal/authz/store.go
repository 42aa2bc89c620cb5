package authz

import (
	"context"
	"time"
)

type TenantStore interface {
	CreateTenant(ctx context.Context, name string) (Tenant, error)
	Tenants(ctx context.Context) ([]Tenant, error)
	TenantByID(ctx context.Context, id string) (Tenant, error)
	DeactivateTenant(ctx context.Context, id string) error
}

type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, email, name, globalRole string) (Principal, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	SetGlobalRole(ctx context.Context, principalID, globalRole string) (Principal, error)
}

type MembershipStore interface {
	// UpsertMembership creates the (tenant, principal) row or reactivates an
	// existing one. There is never more than one row per pair.
	UpsertMembership(ctx context.Context, tenantID, principalID string, expiresAt *time.Time) (Membership, error)
	MembershipFor(ctx context.Context, tenantID, principalID string) (Membership, error)
	TenantMemberships(ctx context.Context, tenantID string) ([]Membership, error)
	PrincipalMemberships(ctx context.Context, principalID string) ([]Membership, error)
	DeactivateMembership(ctx context.Context, tenantID, principalID string) error
}

type RoleStore interface {
	CreateRole(ctx context.Context, tenantID, name, displayName string) (CustomRole, error)
	RoleByID(ctx context.Context, tenantID, roleID string) (CustomRole, error)
	TenantRoles(ctx context.Context, tenantID string) ([]CustomRole, error)
	UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (CustomRole, error)
	// DeleteRole removes the role together with its grants, module access and
	// assignments in one atomic unit.
	DeleteRole(ctx context.Context, tenantID, roleID string) error

	SetModuleAccess(ctx context.Context, roleID, module string, enabled bool) (ModuleAccess, error)
	RoleModuleAccess(ctx context.Context, roleID string) ([]ModuleAccess, error)

	// ReplaceGrants swaps the role's grant set and enables module access for
	// every module in enableModules within the same atomic unit, so no reader
	// can observe granted keys without their module gate.
	ReplaceGrants(ctx context.Context, roleID string, keys, enableModules []string) error
	RoleGrants(ctx context.Context, roleID string) ([]string, error)
}

type RoleUpdate struct {
	Name        *string
	DisplayName *string
	Active      *bool
}

type AssignmentStore interface {
	// UpsertAssignment creates the assignment or reactivates a deactivated one.
	UpsertAssignment(ctx context.Context, tenantID, principalID, roleID string) (RoleAssignment, error)
	DeactivateAssignment(ctx context.Context, tenantID, principalID, roleID string) error
	MemberAssignments(ctx context.Context, tenantID, principalID string) ([]RoleAssignment, error)
}

type SystemGrantStore interface {
	CreateSystemGrant(ctx context.Context, principalID, key string) (SystemGrant, error)
	DeleteSystemGrant(ctx context.Context, principalID, key string) error
	SystemGrants(ctx context.Context, principalID string) ([]string, error)
}

type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error)
	InvitationByID(ctx context.Context, id string) (Invitation, error)
	TenantInvitations(ctx context.Context, tenantID string) ([]Invitation, error)
	// AcceptInvitation performs the whole acceptance as one atomic unit:
	// precondition checks, membership upsert, assignment upsert and the
	// single-write claim of accepted_at. Concurrent calls for the same token
	// yield exactly one success.
	AcceptInvitation(ctx context.Context, p AcceptInvitationParams) (Invitation, error)
	RevokeInvitation(ctx context.Context, id string) (Invitation, error)
}

type AcceptInvitationParams struct {
	TokenHash   string
	PrincipalID string
	// Email is the accepting principal's verified address, supplied by the
	// identity provider, not read from our principal row.
	Email string
	Now   time.Time
}

// RoleState is one role with its module gates and granted keys.
type RoleState struct {
	Role CustomRole
	// Modules holds one entry per module-access row; a module with no entry
	// has no row at all.
	Modules map[string]bool
	Grants  []string
}

// Enabled reports the module gate for this role. Absent rows fail closed.
func (r RoleState) Enabled(module string) bool {
	return r.Modules[module]
}

// Snapshot is everything one resolution reads, taken in a single consistent
// view of the store. Absent rows are zero values, not errors.
type Snapshot struct {
	Principal  Principal
	Tenant     Tenant
	Membership Membership
	Roles      []RoleState
	TakenAt    time.Time
}

// Catalog is the role-side state of one tenant, keyed by role id. It is the
// cacheable portion of a snapshot.
type Catalog struct {
	TenantID string
	Roles    map[string]RoleState
	TakenAt  time.Time
}

// PrincipalState is the live portion of a snapshot: who the caller is and
// which active assignments they hold. It is never cached.
type PrincipalState struct {
	Principal       Principal
	Tenant          Tenant
	Membership      Membership
	AssignedRoleIDs []string
}

type ResolveStore interface {
	Snapshot(ctx context.Context, principalID, tenantID string) (Snapshot, error)
	TenantCatalog(ctx context.Context, tenantID string) (Catalog, error)
	PrincipalState(ctx context.Context, principalID, tenantID string) (PrincipalState, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	TenantStore
	PrincipalStore
	MembershipStore
	RoleStore
	AssignmentStore
	SystemGrantStore
	InvitationStore
	ResolveStore
}
