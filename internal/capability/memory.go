package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/ids"
)

// Memory is the in-memory Store used by development mode and tests.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	members       map[string]Member
	templates     map[string]Template
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]Conversation),
		members:       make(map[string]Member),
		templates:     make(map[string]Template),
	}
}

func memberKey(conversationID, principalID string) string {
	return conversationID + "/" + principalID
}

func templateKey(tenantID, role string) string {
	return tenantID + "/" + role
}

func copyMember(m Member) Member {
	if m.Override != nil {
		override := *m.Override
		m.Override = &override
	}
	return m
}

func (s *Memory) CreateConversation(_ context.Context, tenantID, topic string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := Conversation{
		ID:        ids.New(),
		TenantID:  tenantID,
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *Memory) ConversationByID(_ context.Context, conversationID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: conversation %s", authz.ErrNotFound, conversationID)
	}
	return conv, nil
}

func (s *Memory) TenantConversations(_ context.Context, tenantID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0)
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) UpsertMember(_ context.Context, conversationID, principalID, role, level string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Member{}, fmt.Errorf("%w: conversation %s", authz.ErrNotFound, conversationID)
	}

	now := time.Now().UTC()
	key := memberKey(conversationID, principalID)
	member, ok := s.members[key]
	if !ok {
		member = Member{
			ConversationID: conversationID,
			PrincipalID:    principalID,
			TenantID:       conv.TenantID,
			JoinedAt:       now,
		}
	}
	member.Role = role
	member.Level = level
	member.Active = true
	member.UpdatedAt = now
	s.members[key] = member
	return copyMember(member), nil
}

func (s *Memory) SetMemberOverride(_ context.Context, conversationID, principalID string, override *Map) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(conversationID, principalID)
	member, ok := s.members[key]
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	if override != nil {
		v := *override
		member.Override = &v
	} else {
		member.Override = nil
	}
	member.UpdatedAt = time.Now().UTC()
	s.members[key] = member
	return copyMember(member), nil
}

func (s *Memory) DeactivateMember(_ context.Context, conversationID, principalID string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(conversationID, principalID)
	member, ok := s.members[key]
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	member.Active = false
	member.UpdatedAt = time.Now().UTC()
	s.members[key] = member
	return copyMember(member), nil
}

func (s *Memory) MemberFor(_ context.Context, conversationID, principalID string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[memberKey(conversationID, principalID)]
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	return copyMember(member), nil
}

func (s *Memory) ConversationMembers(_ context.Context, conversationID string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Member, 0)
	for _, member := range s.members {
		if member.ConversationID == conversationID {
			out = append(out, copyMember(member))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}

func (s *Memory) UpsertTemplate(_ context.Context, tenantID, role string, abilities Map) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl := Template{
		TenantID:  tenantID,
		Role:      role,
		Abilities: abilities,
		UpdatedAt: time.Now().UTC(),
	}
	s.templates[templateKey(tenantID, role)] = tpl
	return tpl, nil
}

func (s *Memory) TemplateFor(_ context.Context, tenantID, role string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[templateKey(tenantID, role)]
	if !ok {
		return Template{}, fmt.Errorf("%w: template %s for tenant %s", authz.ErrNotFound, role, tenantID)
	}
	return tpl, nil
}

func (s *Memory) TenantTemplates(_ context.Context, tenantID string) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0)
	for _, tpl := range s.templates {
		if tpl.TenantID == tenantID {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (s *Memory) DeleteTemplate(_ context.Context, tenantID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := templateKey(tenantID, role)
	if _, ok := s.templates[key]; !ok {
		return fmt.Errorf("%w: template %s for tenant %s", authz.ErrNotFound, role, tenantID)
	}
	delete(s.templates, key)
	return nil
}
