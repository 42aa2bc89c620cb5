// Package authz is the authorization core of the platform: tenant
// memberships, the per-tenant role catalog, system grants, invitations and
// the permission resolver that composes them into allow/deny decisions.
package authz

import (
	"errors"
	"strings"
	"time"

	"dealerdesk.io/internal/events"
)

// Service carries the administrative operations of the engine. Every catalog
// or membership mutation publishes an event on the bus so snapshot caches
// and downstream modules can follow along.
type Service struct {
	store Store
	bus   *events.Bus
	now   func() time.Time
}

func NewService(store Store, bus *events.Bus) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz store is required")
	}
	return &Service{
		store: store,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) publish(evt events.Event) {
	if s.bus == nil {
		return
	}
	evt.At = s.now()
	s.bus.Publish(evt)
}

// Permissions returns the built-in catalog.
func (s *Service) Permissions() []Permission {
	out := make([]Permission, len(BuiltinPermissions))
	copy(out, BuiltinPermissions)
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
