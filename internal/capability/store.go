package capability

import "context"

// Store is the persistence contract for conversations, their members and the
// tenant ability templates. Implementations must keep member upserts atomic:
// one row per (conversation, principal) pair.
type Store interface {
	CreateConversation(ctx context.Context, tenantID, topic string) (Conversation, error)
	ConversationByID(ctx context.Context, conversationID string) (Conversation, error)
	TenantConversations(ctx context.Context, tenantID string) ([]Conversation, error)

	UpsertMember(ctx context.Context, conversationID, principalID, role, level string) (Member, error)
	SetMemberOverride(ctx context.Context, conversationID, principalID string, override *Map) (Member, error)
	DeactivateMember(ctx context.Context, conversationID, principalID string) (Member, error)
	MemberFor(ctx context.Context, conversationID, principalID string) (Member, error)
	ConversationMembers(ctx context.Context, conversationID string) ([]Member, error)

	UpsertTemplate(ctx context.Context, tenantID, role string, abilities Map) (Template, error)
	TemplateFor(ctx context.Context, tenantID, role string) (Template, error)
	TenantTemplates(ctx context.Context, tenantID string) ([]Template, error)
	DeleteTemplate(ctx context.Context, tenantID, role string) error
}
