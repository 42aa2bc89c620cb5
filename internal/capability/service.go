package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealerdesk.io/internal/authz"
)

// Gate is the role-level permission check consulted before any ability map is
// produced. *authz.Resolver satisfies it.
type Gate interface {
	Resolve(ctx context.Context, req authz.CheckRequest) (authz.Decision, error)
}

type Service struct {
	store Store
	gate  Gate
	now   func() time.Time
}

func NewService(store Store, gate Gate) (*Service, error) {
	if store == nil {
		return nil, errors.New("capability: store is required")
	}
	if gate == nil {
		return nil, errors.New("capability: gate is required")
	}
	return &Service{store: store, gate: gate, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Service) CreateConversation(ctx context.Context, tenantID, topic string) (Conversation, error) {
	tenantID = strings.TrimSpace(tenantID)
	topic = strings.TrimSpace(topic)
	if tenantID == "" {
		return Conversation{}, fmt.Errorf("%w: tenant_id is required", authz.ErrInvalidInput)
	}
	if topic == "" {
		return Conversation{}, fmt.Errorf("%w: topic is required", authz.ErrInvalidInput)
	}
	return s.store.CreateConversation(ctx, tenantID, topic)
}

func (s *Service) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, fmt.Errorf("%w: conversation_id is required", authz.ErrInvalidInput)
	}
	return s.store.ConversationByID(ctx, conversationID)
}

func (s *Service) TenantConversations(ctx context.Context, tenantID string) ([]Conversation, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", authz.ErrInvalidInput)
	}
	return s.store.TenantConversations(ctx, tenantID)
}

// SetMember adds or updates a conversation member. An existing pair keeps its
// row; level and role are replaced and the member is reactivated.
func (s *Service) SetMember(ctx context.Context, conversationID, principalID, role, level string) (Member, error) {
	conversationID = strings.TrimSpace(conversationID)
	principalID = strings.TrimSpace(principalID)
	role = strings.TrimSpace(role)
	level = strings.TrimSpace(strings.ToLower(level))
	if conversationID == "" || principalID == "" {
		return Member{}, fmt.Errorf("%w: conversation_id and principal_id are required", authz.ErrInvalidInput)
	}
	if !ValidLevel(level) {
		return Member{}, fmt.Errorf("%w: unknown level %s", authz.ErrInvalidInput, level)
	}
	if _, err := s.store.ConversationByID(ctx, conversationID); err != nil {
		return Member{}, err
	}
	return s.store.UpsertMember(ctx, conversationID, principalID, role, level)
}

// SetOverride installs an explicit ability map on a member. A nil override
// clears it, dropping the member back to the template or defaults tier.
func (s *Service) SetOverride(ctx context.Context, conversationID, principalID string, override *Map) (Member, error) {
	conversationID = strings.TrimSpace(conversationID)
	principalID = strings.TrimSpace(principalID)
	if conversationID == "" || principalID == "" {
		return Member{}, fmt.Errorf("%w: conversation_id and principal_id are required", authz.ErrInvalidInput)
	}
	return s.store.SetMemberOverride(ctx, conversationID, principalID, override)
}

func (s *Service) RemoveMember(ctx context.Context, conversationID, principalID string) error {
	conversationID = strings.TrimSpace(conversationID)
	principalID = strings.TrimSpace(principalID)
	if conversationID == "" || principalID == "" {
		return fmt.Errorf("%w: conversation_id and principal_id are required", authz.ErrInvalidInput)
	}
	_, err := s.store.DeactivateMember(ctx, conversationID, principalID)
	return err
}

func (s *Service) Members(ctx context.Context, conversationID string) ([]Member, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", authz.ErrInvalidInput)
	}
	return s.store.ConversationMembers(ctx, conversationID)
}

func (s *Service) SetTemplate(ctx context.Context, tenantID, role string, abilities Map) (Template, error) {
	tenantID = strings.TrimSpace(tenantID)
	role = strings.TrimSpace(role)
	if tenantID == "" || role == "" {
		return Template{}, fmt.Errorf("%w: tenant_id and role are required", authz.ErrInvalidInput)
	}
	return s.store.UpsertTemplate(ctx, tenantID, role, abilities)
}

func (s *Service) Templates(ctx context.Context, tenantID string) ([]Template, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", authz.ErrInvalidInput)
	}
	return s.store.TenantTemplates(ctx, tenantID)
}

func (s *Service) DeleteTemplate(ctx context.Context, tenantID, role string) error {
	tenantID = strings.TrimSpace(tenantID)
	role = strings.TrimSpace(role)
	if tenantID == "" || role == "" {
		return fmt.Errorf("%w: tenant_id and role are required", authz.ErrInvalidInput)
	}
	return s.store.DeleteTemplate(ctx, tenantID, role)
}

// Resolve computes the ability map for one principal in one conversation.
//
// The role-level gate runs first: a principal the chat module denies gets the
// all-false map, whatever the member row says. After the gate, exactly one
// tier wins outright. Override beats template beats level defaults, and the
// winning tier's map is taken verbatim; fields absent from an override do not
// fall through to lower tiers. Level none, an inactive member row or no row
// at all resolves to all-false before any tier is consulted.
func (s *Service) Resolve(ctx context.Context, conversationID, principalID string) (Resolution, error) {
	conversationID = strings.TrimSpace(conversationID)
	principalID = strings.TrimSpace(principalID)
	if conversationID == "" || principalID == "" {
		return Resolution{}, fmt.Errorf("%w: conversation_id and principal_id are required", authz.ErrInvalidInput)
	}

	conv, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		ConversationID: conv.ID,
		PrincipalID:    principalID,
		TenantID:       conv.TenantID,
		Level:          LevelNone,
		CheckedAt:      s.now(),
	}

	decision, err := s.gate.Resolve(ctx, authz.CheckRequest{
		PrincipalID: principalID,
		TenantID:    conv.TenantID,
		Module:      authz.ModuleChat,
		Key:         authz.PermChatView,
	})
	if err != nil {
		res.Source = SourceLookupFailed
		return res, fmt.Errorf("capability gate: %w", err)
	}
	if !decision.Allowed {
		res.Source = SourceRoleDenied
		return res, nil
	}

	member, err := s.store.MemberFor(ctx, conversationID, principalID)
	if errors.Is(err, authz.ErrNotFound) {
		res.Source = SourceNoAccess
		return res, nil
	}
	if err != nil {
		res.Source = SourceLookupFailed
		return res, fmt.Errorf("capability member lookup: %w", err)
	}
	if !member.Active || member.Level == LevelNone {
		res.Source = SourceNoAccess
		return res, nil
	}

	res.Level = member.Level
	if member.Override != nil {
		res.Source = SourceOverride
		res.Capabilities = *member.Override
		return res, nil
	}
	if member.Role != "" {
		tpl, err := s.store.TemplateFor(ctx, conv.TenantID, member.Role)
		switch {
		case err == nil:
			res.Source = SourceTemplate
			res.Capabilities = tpl.Abilities
			return res, nil
		case !errors.Is(err, authz.ErrNotFound):
			res.Level = LevelNone
			res.Source = SourceLookupFailed
			res.Capabilities = Map{}
			return res, fmt.Errorf("capability template lookup: %w", err)
		}
	}

	res.Source = SourceDefaults
	res.Capabilities = DefaultsFor(member.Level)
	return res, nil
}
