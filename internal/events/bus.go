// Package events carries catalog and membership change notifications from the
// mutation path to everything that must observe it: the snapshot cache, the
// SSE stream and the optional NATS bridge.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	KindTenantCreated      = "tenant.created"
	KindTenantDeactivated  = "tenant.deactivated"
	KindRoleCreated        = "role.created"
	KindRoleUpdated        = "role.updated"
	KindRoleDeleted        = "role.deleted"
	KindGrantsChanged      = "role.grants_changed"
	KindModuleToggled      = "role.module_toggled"
	KindAssignmentChanged  = "assignment.changed"
	KindMembershipChanged  = "membership.changed"
	KindInvitationCreated  = "invitation.created"
	KindInvitationAccepted = "invitation.accepted"
	KindInvitationRevoked  = "invitation.revoked"
	KindCatalogReconciled  = "catalog.reconciled"
)

// Event describes one mutation. TenantID is empty only for platform-level
// changes that belong to no tenant.
type Event struct {
	Kind        string    `json:"kind"`
	TenantID    string    `json:"tenant_id,omitempty"`
	RoleID      string    `json:"role_id,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Module      string    `json:"module,omitempty"`
	At          time.Time `json:"at"`
}

// Bus fan-outs events to all active subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
