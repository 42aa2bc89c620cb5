// Package facts answers the narrow authorization questions row-level policies
// ask while filtering a table. Each lookup takes scalar ids, reads the base
// tables directly and returns a scalar fact. None of them call into permission
// resolution or select from a view the policies protect, so a policy on
// memberships can ask about memberships without re-entering itself.
package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dealerdesk.io/internal/authz"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("facts: db is required")
	}
	return &Service{db: db}, nil
}

// IsActiveMember reports whether the principal holds a live membership in the
// tenant. Expiry is evaluated against the database clock at read time.
func (s *Service) IsActiveMember(ctx context.Context, principalID, tenantID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1
			from memberships m
			join tenants t on t.id = m.tenant_id
			where m.principal_id = $1
			  and m.tenant_id = $2
			  and m.active
			  and t.active
			  and (m.expires_at is null or m.expires_at > now())
		)
	`, principalID, tenantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("facts: active member: %w", err)
	}
	return ok, nil
}

// IsPlatformAdmin reports whether the principal carries the top-level global
// role.
func (s *Service) IsPlatformAdmin(ctx context.Context, principalID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from principals where id = $1 and global_role = 'admin'
		)
	`, principalID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("facts: platform admin: %w", err)
	}
	return ok, nil
}

// SharesTenant reports whether two principals hold live memberships in at
// least one common tenant.
func (s *Service) SharesTenant(ctx context.Context, firstID, secondID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1
			from memberships a
			join memberships b on b.tenant_id = a.tenant_id
			where a.principal_id = $1
			  and b.principal_id = $2
			  and a.active and b.active
			  and (a.expires_at is null or a.expires_at > now())
			  and (b.expires_at is null or b.expires_at > now())
		)
	`, firstID, secondID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("facts: shares tenant: %w", err)
	}
	return ok, nil
}

// ConversationTenant returns the owning tenant of a conversation.
func (s *Service) ConversationTenant(ctx context.Context, conversationID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx, `
		select tenant_id from conversations where id = $1
	`, conversationID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: conversation %s", authz.ErrNotFound, conversationID)
	}
	if err != nil {
		return "", fmt.Errorf("facts: conversation tenant: %w", err)
	}
	return tenantID, nil
}

// IsConversationParticipant reports whether the principal is an active member
// of the conversation with any level above none.
func (s *Service) IsConversationParticipant(ctx context.Context, conversationID, principalID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1
			from conversation_members
			where conversation_id = $1
			  and principal_id = $2
			  and active
			  and level <> 'none'
		)
	`, conversationID, principalID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("facts: conversation participant: %w", err)
	}
	return ok, nil
}
