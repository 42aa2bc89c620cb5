package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := bus.Subscribe(ctx)
	second := bus.Subscribe(ctx)

	bus.Publish(Event{Kind: KindGrantsChanged, TenantID: "t1", RoleID: "r1"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Kind != KindGrantsChanged || evt.TenantID != "t1" {
				t.Fatalf("unexpected event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestSubscriberChannelClosesOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after the subscriber is gone must not panic or block.
	bus.Publish(Event{Kind: KindTenantCreated})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := bus.Subscribe(ctx)

	// The subscriber buffer holds 16. Publishing past it must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 40; i++ {
			bus.Publish(Event{Kind: KindModuleToggled, TenantID: "t1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	var received int
	for {
		select {
		case <-slow:
			received++
		default:
			if received == 0 || received > 16 {
				t.Fatalf("expected 1..16 buffered events, got %d", received)
			}
			return
		}
	}
}
