package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Bridge forwards bus events to NATS so other service instances can evict
// their snapshot caches and business modules can react to catalog changes.
type Bridge struct {
	conn   *nats.Conn
	prefix string
}

func NewBridge(conn *nats.Conn, prefix string) *Bridge {
	if prefix == "" {
		prefix = "authz"
	}
	return &Bridge{conn: conn, prefix: prefix}
}

// Run forwards events until the context ends.
func (b *Bridge) Run(ctx context.Context, bus *Bus) {
	for evt := range bus.Subscribe(ctx) {
		b.forward(evt)
	}
}

func (b *Bridge) forward(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("kind", evt.Kind).Msg("marshal event")
		return
	}
	if err := b.conn.Publish(b.subject(evt), payload); err != nil {
		log.Warn().Err(err).Str("kind", evt.Kind).Msg("publish event to NATS")
	}
}

func (b *Bridge) subject(evt Event) string {
	if evt.TenantID == "" {
		return fmt.Sprintf("%s.platform.%s", b.prefix, evt.Kind)
	}
	return fmt.Sprintf("%s.tenant.%s.%s", b.prefix, evt.TenantID, evt.Kind)
}

// Listen subscribes to tenant event subjects published by other instances
// and hands each decoded event to fn. Events are not replayed onto the local
// bus, otherwise two bridged instances would forward them back and forth.
func Listen(ctx context.Context, conn *nats.Conn, prefix string, fn func(Event)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = "authz"
	}
	sub, err := conn.Subscribe(prefix+".tenant.>", func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("decode event from NATS")
			return
		}
		fn(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.tenant.>: %w", prefix, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}
