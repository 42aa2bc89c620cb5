package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealerdesk.io/internal/events"
)

func (s *Service) CreateTenant(ctx context.Context, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	tenant, err := s.store.CreateTenant(ctx, name)
	if err != nil {
		return Tenant{}, err
	}
	s.publish(events.Event{Kind: events.KindTenantCreated, TenantID: tenant.ID})
	return tenant, nil
}

func (s *Service) Tenants(ctx context.Context) ([]Tenant, error) {
	return s.store.Tenants(ctx)
}

func (s *Service) Tenant(ctx context.Context, id string) (Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Tenant{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.TenantByID(ctx, id)
}

func (s *Service) DeactivateTenant(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if err := s.store.DeactivateTenant(ctx, id); err != nil {
		return err
	}
	s.publish(events.Event{Kind: events.KindTenantDeactivated, TenantID: id})
	return nil
}

func (s *Service) CreatePrincipal(ctx context.Context, email, name, globalRole string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Principal{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	globalRole = strings.TrimSpace(strings.ToLower(globalRole))
	if globalRole == "" {
		globalRole = GlobalRoleMember
	}
	if !ValidGlobalRole(globalRole) {
		return Principal{}, fmt.Errorf("%w: unsupported global role %s", ErrInvalidInput, globalRole)
	}
	return s.store.CreatePrincipal(ctx, email, name, globalRole)
}

func (s *Service) Principal(ctx context.Context, id string) (Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	return s.store.PrincipalByID(ctx, id)
}

func (s *Service) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return Principal{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.store.PrincipalByEmail(ctx, email)
}

func (s *Service) SetGlobalRole(ctx context.Context, principalID, globalRole string) (Principal, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Principal{}, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	globalRole = strings.TrimSpace(strings.ToLower(globalRole))
	if !ValidGlobalRole(globalRole) {
		return Principal{}, fmt.Errorf("%w: unsupported global role %s", ErrInvalidInput, globalRole)
	}
	return s.store.SetGlobalRole(ctx, principalID, globalRole)
}

// AddMember creates or reactivates a membership by direct admin action.
func (s *Service) AddMember(ctx context.Context, tenantID, principalID string, expiresAt *time.Time) (Membership, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return Membership{}, fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return Membership{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	tenant, err := s.store.TenantByID(ctx, tenantID)
	if err != nil {
		return Membership{}, err
	}
	if !tenant.Active {
		return Membership{}, fmt.Errorf("%w: tenant is deactivated", ErrConflict)
	}
	if _, err := s.store.PrincipalByID(ctx, principalID); err != nil {
		return Membership{}, err
	}
	membership, err := s.store.UpsertMembership(ctx, tenantID, principalID, expiresAt)
	if err != nil {
		return Membership{}, err
	}
	s.publish(events.Event{Kind: events.KindMembershipChanged, TenantID: tenantID, PrincipalID: principalID})
	return membership, nil
}

func (s *Service) TenantMembers(ctx context.Context, tenantID string) ([]Membership, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.TenantMemberships(ctx, tenantID)
}

func (s *Service) PrincipalMemberships(ctx context.Context, principalID string) ([]Membership, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	return s.store.PrincipalMemberships(ctx, principalID)
}

func (s *Service) DeactivateMember(ctx context.Context, tenantID, principalID string) error {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	if err := s.store.DeactivateMembership(ctx, tenantID, principalID); err != nil {
		return err
	}
	s.publish(events.Event{Kind: events.KindMembershipChanged, TenantID: tenantID, PrincipalID: principalID})
	return nil
}

// IsActiveMember evaluates membership with expiry computed at call time.
func (s *Service) IsActiveMember(ctx context.Context, tenantID, principalID string) (bool, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return false, fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	membership, err := s.store.MembershipFor(ctx, tenantID, principalID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return membership.ActiveAt(s.now()), nil
}

// ActiveTenants lists the tenants the principal can currently act in.
// Dangling tenant references and deactivated tenants are skipped.
func (s *Service) ActiveTenants(ctx context.Context, principalID string) ([]Tenant, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	memberships, err := s.store.PrincipalMemberships(ctx, principalID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var tenants []Tenant
	for _, m := range memberships {
		if !m.ActiveAt(now) {
			continue
		}
		tenant, err := s.store.TenantByID(ctx, m.TenantID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if tenant.Active {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}
