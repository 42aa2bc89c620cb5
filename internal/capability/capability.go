// Package capability expands coarse per-conversation access levels into the
// structured ability maps the chat surfaces consume. Resolution never widens
// what the role-level permission check already decided: a principal the
// chat module denies gets the all-false map no matter what overrides say.
package capability

import "time"

// Coarse access levels, ordered from nothing to everything.
const (
	LevelNone            = "none"
	LevelRead            = "read"
	LevelRestrictedWrite = "restricted_write"
	LevelWrite           = "write"
	LevelModerate        = "moderate"
	LevelAdmin           = "admin"
)

// Resolution source tiers. Exactly one tier produces the final map.
const (
	SourceRoleDenied   = "role_denied"
	SourceNoAccess     = "no_access"
	SourceOverride     = "override"
	SourceTemplate     = "template"
	SourceDefaults     = "level_defaults"
	SourceLookupFailed = "lookup_failed"
)

var levels = map[string]struct{}{
	LevelNone:            {},
	LevelRead:            {},
	LevelRestrictedWrite: {},
	LevelWrite:           {},
	LevelModerate:        {},
	LevelAdmin:           {},
}

// ValidLevel reports whether s names a known access level. Unknown levels are
// rejected at the boundary, never passed through.
func ValidLevel(s string) bool {
	_, ok := levels[s]
	return ok
}

// Map is the closed set of conversation abilities. Fields are never added per
// deployment; new abilities extend this struct for every caller at once.
type Map struct {
	CanRead           bool `json:"can_read"`
	CanSendText       bool `json:"can_send_text"`
	CanSendAttachment bool `json:"can_send_attachment"`
	CanReact          bool `json:"can_react"`
	CanInvite         bool `json:"can_invite"`
	CanRemoveMember   bool `json:"can_remove_member"`
	CanArchive        bool `json:"can_archive"`
	CanModerate       bool `json:"can_moderate"`
	CanEditSettings   bool `json:"can_edit_settings"`
}

// DefaultsFor returns the built-in ability map for a level, the lowest tier
// of the resolution order. Unknown levels resolve to the all-false map.
func DefaultsFor(level string) Map {
	switch level {
	case LevelRead:
		return Map{CanRead: true}
	case LevelRestrictedWrite:
		return Map{CanRead: true, CanSendText: true, CanReact: true}
	case LevelWrite:
		return Map{CanRead: true, CanSendText: true, CanSendAttachment: true, CanReact: true, CanInvite: true}
	case LevelModerate:
		return Map{CanRead: true, CanSendText: true, CanSendAttachment: true, CanReact: true, CanInvite: true, CanRemoveMember: true, CanArchive: true, CanModerate: true}
	case LevelAdmin:
		return Map{CanRead: true, CanSendText: true, CanSendAttachment: true, CanReact: true, CanInvite: true, CanRemoveMember: true, CanArchive: true, CanModerate: true, CanEditSettings: true}
	default:
		return Map{}
	}
}

// Conversation is the resource the layer scopes to. It belongs to exactly one
// tenant; the tenant drives the role-level gate.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// Member links a principal to a conversation with a coarse level, an optional
// explicit override map and the role name used for template lookup.
type Member struct {
	ConversationID string    `json:"conversation_id"`
	PrincipalID    string    `json:"principal_id"`
	TenantID       string    `json:"tenant_id"`
	Role           string    `json:"role,omitempty"`
	Level          string    `json:"level"`
	Override       *Map      `json:"override,omitempty"`
	Active         bool      `json:"active"`
	JoinedAt       time.Time `json:"joined_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Template is a tenant-configured ability map keyed by role name. When a
// member carries that role and no override, the template replaces the level
// defaults wholesale.
type Template struct {
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	Abilities Map       `json:"abilities"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resolution is the computed ability set for one (conversation, principal)
// pair, annotated with the tier that produced it.
type Resolution struct {
	ConversationID string    `json:"conversation_id"`
	PrincipalID    string    `json:"principal_id"`
	TenantID       string    `json:"tenant_id"`
	Level          string    `json:"level"`
	Source         string    `json:"source"`
	Capabilities   Map       `json:"capabilities"`
	CheckedAt      time.Time `json:"checked_at"`
}
