package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dealerdesk.io/internal/authz"
	"dealerdesk.io/internal/capability"
	"dealerdesk.io/internal/ids"
)

func (s *Store) CreateConversation(ctx context.Context, tenantID, topic string) (capability.Conversation, error) {
	if s.db == nil {
		return capability.Conversation{}, errors.New("database connection unavailable")
	}
	var conv capability.Conversation
	row := s.db.QueryRowContext(ctx, `
		insert into conversations (id, tenant_id, topic)
		values ($1, $2, $3)
		returning id, tenant_id, topic, created_at
	`, ids.New(), tenantID, topic)
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.Topic, &conv.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return capability.Conversation{}, fmt.Errorf("%w: tenant %s", authz.ErrNotFound, tenantID)
		}
		return capability.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) ConversationByID(ctx context.Context, conversationID string) (capability.Conversation, error) {
	if s.db == nil {
		return capability.Conversation{}, errors.New("database connection unavailable")
	}
	var conv capability.Conversation
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, topic, created_at
		from conversations
		where id = $1
	`, conversationID).Scan(&conv.ID, &conv.TenantID, &conv.Topic, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Conversation{}, fmt.Errorf("%w: conversation %s", authz.ErrNotFound, conversationID)
	}
	if err != nil {
		return capability.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) TenantConversations(ctx context.Context, tenantID string) ([]capability.Conversation, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, topic, created_at
		from conversations
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]capability.Conversation, 0)
	for rows.Next() {
		var conv capability.Conversation
		if err := rows.Scan(&conv.ID, &conv.TenantID, &conv.Topic, &conv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertMember(ctx context.Context, conversationID, principalID, role, level string) (capability.Member, error) {
	if s.db == nil {
		return capability.Member{}, errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return capability.Member{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var tenantID string
	if err := tx.QueryRowContext(ctx, `select tenant_id from conversations where id = $1`, conversationID).Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return capability.Member{}, fmt.Errorf("%w: conversation %s", authz.ErrNotFound, conversationID)
		}
		return capability.Member{}, err
	}

	member, err := scanCapabilityMember(tx.QueryRowContext(ctx, `
		insert into conversation_members (conversation_id, principal_id, tenant_id, role, level, active)
		values ($1, $2, $3, $4, $5, true)
		on conflict (conversation_id, principal_id) do update
		set role = excluded.role, level = excluded.level, active = true, updated_at = now()
		returning conversation_id, principal_id, tenant_id, role, level, override, active, joined_at, updated_at
	`, conversationID, principalID, tenantID, nullIfEmpty(role), level))
	if err != nil {
		return capability.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return capability.Member{}, err
	}
	return member, nil
}

func (s *Store) SetMemberOverride(ctx context.Context, conversationID, principalID string, override *capability.Map) (capability.Member, error) {
	if s.db == nil {
		return capability.Member{}, errors.New("database connection unavailable")
	}

	var overrideJSON any
	if override != nil {
		bytes, err := json.Marshal(override)
		if err != nil {
			return capability.Member{}, fmt.Errorf("marshal override: %w", err)
		}
		overrideJSON = bytes
	}

	member, err := scanCapabilityMember(s.db.QueryRowContext(ctx, `
		update conversation_members
		set override = $3, updated_at = now()
		where conversation_id = $1 and principal_id = $2
		returning conversation_id, principal_id, tenant_id, role, level, override, active, joined_at, updated_at
	`, conversationID, principalID, overrideJSON))
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	return member, err
}

func (s *Store) DeactivateMember(ctx context.Context, conversationID, principalID string) (capability.Member, error) {
	if s.db == nil {
		return capability.Member{}, errors.New("database connection unavailable")
	}
	member, err := scanCapabilityMember(s.db.QueryRowContext(ctx, `
		update conversation_members
		set active = false, updated_at = now()
		where conversation_id = $1 and principal_id = $2
		returning conversation_id, principal_id, tenant_id, role, level, override, active, joined_at, updated_at
	`, conversationID, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	return member, err
}

func (s *Store) MemberFor(ctx context.Context, conversationID, principalID string) (capability.Member, error) {
	if s.db == nil {
		return capability.Member{}, errors.New("database connection unavailable")
	}
	member, err := scanCapabilityMember(s.db.QueryRowContext(ctx, `
		select conversation_id, principal_id, tenant_id, role, level, override, active, joined_at, updated_at
		from conversation_members
		where conversation_id = $1 and principal_id = $2
	`, conversationID, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Member{}, fmt.Errorf("%w: member %s in conversation %s", authz.ErrNotFound, principalID, conversationID)
	}
	return member, err
}

func (s *Store) ConversationMembers(ctx context.Context, conversationID string) ([]capability.Member, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select conversation_id, principal_id, tenant_id, role, level, override, active, joined_at, updated_at
		from conversation_members
		where conversation_id = $1
		order by principal_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]capability.Member, 0)
	for rows.Next() {
		var (
			member      capability.Member
			role        sql.NullString
			rawOverride []byte
		)
		if err := rows.Scan(&member.ConversationID, &member.PrincipalID, &member.TenantID, &role, &member.Level, &rawOverride, &member.Active, &member.JoinedAt, &member.UpdatedAt); err != nil {
			return nil, err
		}
		if role.Valid {
			member.Role = role.String
		}
		if len(rawOverride) > 0 {
			var m capability.Map
			if err := json.Unmarshal(rawOverride, &m); err != nil {
				return nil, fmt.Errorf("decode override: %w", err)
			}
			member.Override = &m
		}
		out = append(out, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertTemplate(ctx context.Context, tenantID, role string, abilities capability.Map) (capability.Template, error) {
	if s.db == nil {
		return capability.Template{}, errors.New("database connection unavailable")
	}
	bytes, err := json.Marshal(abilities)
	if err != nil {
		return capability.Template{}, fmt.Errorf("marshal abilities: %w", err)
	}

	var (
		tpl capability.Template
		raw []byte
	)
	row := s.db.QueryRowContext(ctx, `
		insert into capability_templates (tenant_id, role, abilities)
		values ($1, $2, $3)
		on conflict (tenant_id, role) do update
		set abilities = excluded.abilities, updated_at = now()
		returning tenant_id, role, abilities, updated_at
	`, tenantID, role, bytes)
	if err := row.Scan(&tpl.TenantID, &tpl.Role, &raw, &tpl.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return capability.Template{}, fmt.Errorf("%w: tenant %s", authz.ErrNotFound, tenantID)
		}
		return capability.Template{}, err
	}
	if err := json.Unmarshal(raw, &tpl.Abilities); err != nil {
		return capability.Template{}, fmt.Errorf("decode abilities: %w", err)
	}
	return tpl, nil
}

func (s *Store) TemplateFor(ctx context.Context, tenantID, role string) (capability.Template, error) {
	if s.db == nil {
		return capability.Template{}, errors.New("database connection unavailable")
	}
	var (
		tpl capability.Template
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select tenant_id, role, abilities, updated_at
		from capability_templates
		where tenant_id = $1 and role = $2
	`, tenantID, role).Scan(&tpl.TenantID, &tpl.Role, &raw, &tpl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return capability.Template{}, fmt.Errorf("%w: template %s for tenant %s", authz.ErrNotFound, role, tenantID)
	}
	if err != nil {
		return capability.Template{}, err
	}
	if err := json.Unmarshal(raw, &tpl.Abilities); err != nil {
		return capability.Template{}, fmt.Errorf("decode abilities: %w", err)
	}
	return tpl, nil
}

func (s *Store) TenantTemplates(ctx context.Context, tenantID string) ([]capability.Template, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select tenant_id, role, abilities, updated_at
		from capability_templates
		where tenant_id = $1
		order by role
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]capability.Template, 0)
	for rows.Next() {
		var (
			tpl capability.Template
			raw []byte
		)
		if err := rows.Scan(&tpl.TenantID, &tpl.Role, &raw, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &tpl.Abilities); err != nil {
			return nil, fmt.Errorf("decode abilities: %w", err)
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, tenantID, role string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from capability_templates
		where tenant_id = $1 and role = $2
	`, tenantID, role)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: template %s for tenant %s", authz.ErrNotFound, role, tenantID)
	}
	return nil
}

func scanCapabilityMember(row *sql.Row) (capability.Member, error) {
	var (
		member      capability.Member
		role        sql.NullString
		rawOverride []byte
	)
	err := row.Scan(&member.ConversationID, &member.PrincipalID, &member.TenantID, &role, &member.Level, &rawOverride, &member.Active, &member.JoinedAt, &member.UpdatedAt)
	if err != nil {
		return capability.Member{}, err
	}
	if role.Valid {
		member.Role = role.String
	}
	if len(rawOverride) > 0 {
		var m capability.Map
		if err := json.Unmarshal(rawOverride, &m); err != nil {
			return capability.Member{}, fmt.Errorf("decode override: %w", err)
		}
		member.Override = &m
	}
	return member, nil
}
