package research

import (
	"testing"

	"github.com/quillback/research-relay/internal/domain"
)

func TestBroadcaster_PublishDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()
	sub1 := b.Subscribe(8)
	sub2 := b.Subscribe(8)

	events := []domain.Event{
		{Type: domain.EventInteractionStart, EventID: "e1"},
		{Type: domain.EventContentDelta, EventID: "e2"},
		{Type: domain.EventInteractionComplete, EventID: "e3"},
	}
	for _, evt := range events {
		b.Publish(evt)
	}

	for _, sub := range []*Subscription{sub1, sub2} {
		for i, want := range events {
			got := <-sub.Events()
			if got.EventID != want.EventID {
				t.Errorf("event %d = %q, want %q", i, got.EventID, want.EventID)
			}
		}
	}
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(1)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second time must be a no-op
	b.Unsubscribe(nil)

	if got := b.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	// Channel is closed exactly once
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestBroadcaster_SlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(1)

	b.Publish(domain.Event{Type: domain.EventContentDelta, EventID: "e1"})
	// Buffer full; this publish must not block, and must drop the subscriber.
	b.Publish(domain.Event{Type: domain.EventContentDelta, EventID: "e2"})

	if got := b.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 after drop", got)
	}

	// The buffered event is still readable, then the channel closes.
	if evt, ok := <-sub.Events(); !ok || evt.EventID != "e1" {
		t.Errorf("buffered event = %q (ok=%v), want e1", evt.EventID, ok)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after drop")
	}

	// Unsubscribing the dropped subscription is still a no-op.
	b.Unsubscribe(sub)
}

func TestBroadcaster_SubscribeDuringDelivery(t *testing.T) {
	b := NewBroadcaster()

	// Subscribers added after a publish only see later events.
	b.Publish(domain.Event{Type: domain.EventContentDelta, EventID: "e1"})
	sub := b.Subscribe(4)
	b.Publish(domain.Event{Type: domain.EventContentDelta, EventID: "e2"})

	got := <-sub.Events()
	if got.EventID != "e2" {
		t.Errorf("first delivered event = %q, want e2", got.EventID)
	}
	select {
	case evt := <-sub.Events():
		t.Errorf("unexpected extra event %q", evt.EventID)
	default:
	}
}
