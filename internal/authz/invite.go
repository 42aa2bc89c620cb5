package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealerdesk.io/internal/events"
	"dealerdesk.io/internal/ids"
)

const (
	defaultInvitationTTL = 7 * 24 * time.Hour
	maxInvitationTTL     = 30 * 24 * time.Hour
)

// HashInvitationToken maps a raw token to its stored form. Only the hash is
// persisted; the raw token leaves the service exactly once, at creation.
func HashInvitationToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// InviteMember creates a pending invitation and returns it together with the
// raw token for delivery to the invitee.
func (s *Service) InviteMember(ctx context.Context, tenantID, email, roleID, invitedBy string, ttl time.Duration) (Invitation, string, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	invitedBy = strings.TrimSpace(invitedBy)
	email = strings.TrimSpace(strings.ToLower(email))
	if tenantID == "" || roleID == "" {
		return Invitation{}, "", fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Invitation{}, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = defaultInvitationTTL
	}
	if ttl > maxInvitationTTL {
		return Invitation{}, "", fmt.Errorf("%w: invitation ttl exceeds %s", ErrInvalidInput, maxInvitationTTL)
	}

	tenant, err := s.store.TenantByID(ctx, tenantID)
	if err != nil {
		return Invitation{}, "", err
	}
	if !tenant.Active {
		return Invitation{}, "", fmt.Errorf("%w: tenant is deactivated", ErrConflict)
	}
	role, err := s.store.RoleByID(ctx, tenantID, roleID)
	if err != nil {
		return Invitation{}, "", err
	}
	if !role.Active {
		return Invitation{}, "", fmt.Errorf("%w: role %s is deactivated", ErrConflict, role.Name)
	}

	raw := uuid.NewString()
	inv := Invitation{
		ID:        ids.New(),
		TenantID:  tenantID,
		Email:     email,
		RoleID:    roleID,
		TokenHash: HashInvitationToken(raw),
		Status:    InvitationPending,
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(ttl),
	}
	created, err := s.store.CreateInvitation(ctx, inv)
	if err != nil {
		return Invitation{}, "", err
	}
	s.publish(events.Event{Kind: events.KindInvitationCreated, TenantID: tenantID, RoleID: roleID})
	return created, raw, nil
}

// Accept converts a pending invitation into an active membership plus role
// assignment. The whole step happens inside one store transaction; the
// accepted_at single-write check makes concurrent acceptance exactly-once.
func (s *Service) Accept(ctx context.Context, rawToken, principalID, verifiedEmail string) (Invitation, error) {
	rawToken = strings.TrimSpace(rawToken)
	principalID = strings.TrimSpace(principalID)
	verifiedEmail = strings.TrimSpace(strings.ToLower(verifiedEmail))
	if rawToken == "" {
		return Invitation{}, fmt.Errorf("%w: invitation token is required", ErrInvalidInput)
	}
	if principalID == "" {
		return Invitation{}, fmt.Errorf("%w: principal_id is required", ErrInvalidInput)
	}
	if verifiedEmail == "" {
		return Invitation{}, fmt.Errorf("%w: verified email is required", ErrInvalidInput)
	}

	inv, err := s.store.AcceptInvitation(ctx, AcceptInvitationParams{
		TokenHash:   HashInvitationToken(rawToken),
		PrincipalID: principalID,
		Email:       verifiedEmail,
		Now:         s.now(),
	})
	if err != nil {
		return Invitation{}, err
	}

	s.publish(events.Event{Kind: events.KindInvitationAccepted, TenantID: inv.TenantID, PrincipalID: principalID, RoleID: inv.RoleID})
	s.publish(events.Event{Kind: events.KindMembershipChanged, TenantID: inv.TenantID, PrincipalID: principalID})
	s.publish(events.Event{Kind: events.KindAssignmentChanged, TenantID: inv.TenantID, PrincipalID: principalID, RoleID: inv.RoleID})
	return inv, nil
}

// Revoke moves a pending invitation to its terminal revoked state. Revoking
// an already-revoked invitation succeeds without change.
func (s *Service) Revoke(ctx context.Context, invitationID string) (Invitation, error) {
	invitationID = strings.TrimSpace(invitationID)
	if invitationID == "" {
		return Invitation{}, fmt.Errorf("%w: invitation_id is required", ErrInvalidInput)
	}
	inv, err := s.store.RevokeInvitation(ctx, invitationID)
	if err != nil {
		return Invitation{}, err
	}
	s.publish(events.Event{Kind: events.KindInvitationRevoked, TenantID: inv.TenantID, RoleID: inv.RoleID})
	return inv, nil
}

func (s *Service) Invitation(ctx context.Context, id string) (Invitation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Invitation{}, fmt.Errorf("%w: invitation_id is required", ErrInvalidInput)
	}
	return s.store.InvitationByID(ctx, id)
}

func (s *Service) TenantInvitations(ctx context.Context, tenantID string) ([]Invitation, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.store.TenantInvitations(ctx, tenantID)
}
