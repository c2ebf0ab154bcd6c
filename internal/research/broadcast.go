package research

import (
	"sync"

	"github.com/quillback/research-relay/internal/domain"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth used when the
// caller does not size it explicitly.
const DefaultSubscriberBuffer = 64

// Subscription is one live listener on a query's event feed.
type Subscription struct {
	id int
	ch chan domain.Event
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is cancelled or when the subscriber falls too far behind and
// is dropped; a dropped subscriber recovers by resubscribing with its cursor.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Broadcaster fans newly ingested events out to a dynamic set of
// subscribers. It has no historical memory: replaying the backlog before
// relying on live delivery is the subscriber's job (see Query.Subscribe,
// which does both atomically).
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*Subscription)}
}

// Subscribe registers a new subscriber with the given channel depth.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan domain.Event, buffer)}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is idempotent:
// unsubscribing twice, or a subscription already dropped by Publish, is a
// no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub.id)
}

// Publish delivers evt to every current subscriber in registration order
// semantics (order between subscribers is unspecified; order per subscriber
// is ingestion order). A subscriber whose buffer is full is dropped rather
// than allowed to stall ingestion.
func (b *Broadcaster) Publish(evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropLocked(id)
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) dropLocked(id int) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}
