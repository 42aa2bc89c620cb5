package authz

import "time"

const (
	GlobalRoleAdmin  = "admin"
	GlobalRoleStaff  = "staff"
	GlobalRoleMember = "member"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Principal is an already-authenticated platform account. Credentials live
// with the identity provider; this service only consumes the verified id.
type Principal struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	GlobalRole string    `json:"global_role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Membership ties a principal to a tenant. At most one row exists per
// (tenant, principal) pair; removal flips Active instead of deleting so the
// assignment history stays auditable.
type Membership struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	PrincipalID string     `json:"principal_id"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ActiveAt evaluates expiry at read time; nothing sweeps expired rows.
func (m Membership) ActiveAt(now time.Time) bool {
	if !m.Active {
		return false
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return false
	}
	return true
}

type CustomRole struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is one catalog entry. Module is empty for system-level keys,
// which are granted to principals directly and never to tenant roles.
type Permission struct {
	Key    string `json:"key"`
	Module string `json:"module,omitempty"`
	Label  string `json:"label"`
}

type ModuleAccess struct {
	RoleID    string    `json:"role_id"`
	Module    string    `json:"module"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RoleGrant struct {
	RoleID    string    `json:"role_id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

type RoleAssignment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	RoleID      string    `json:"role_id"`
	Active      bool      `json:"active"`
	AssignedAt  time.Time `json:"assigned_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SystemGrant struct {
	PrincipalID string    `json:"principal_id"`
	Key         string    `json:"key"`
	CreatedAt   time.Time `json:"created_at"`
}

type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	RoleID     string     `json:"role_id"`
	TokenHash  string     `json:"-"`
	Status     string     `json:"status"`
	InvitedBy  string     `json:"invited_by,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired is computed at read time, same as membership expiry.
func (i Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}
