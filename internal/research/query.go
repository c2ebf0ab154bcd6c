package research

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quillback/research-relay/internal/domain"
	"github.com/quillback/research-relay/internal/querylog"
)

// Query is the live record of one research request: the append-only event
// log, the checkpoint cursor, the lifecycle phase, and the fan-out set.
//
// Exactly one goroutine (the runner's ingestion path) mutates a query;
// any number of goroutines read it concurrently. Ingestion performs
// append → persist → cursor update → completion → broadcast under the write
// lock, so a subscriber is never notified of an event that is not already
// durable, and a backlog snapshot taken under the same lock can never race a
// delivery.
type Query struct {
	ID        string
	User      string
	Prompt    string
	CreatedAt time.Time

	store  *querylog.Store
	logger *slog.Logger
	bcast  *Broadcaster

	mu            sync.RWMutex
	phase         domain.Phase
	interactionID string
	lastEventID   string
	events        []domain.Event
}

func newQuery(id, user, prompt string, store *querylog.Store, logger *slog.Logger) *Query {
	return &Query{
		ID:        id,
		User:      user,
		Prompt:    prompt,
		CreatedAt: time.Now(),
		store:     store,
		logger:    logger,
		bcast:     NewBroadcaster(),
		phase:     domain.PhasePending,
	}
}

// Phase returns the current lifecycle phase.
func (q *Query) Phase() domain.Phase {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.phase
}

// IsComplete reports whether the query reached a terminal phase.
func (q *Query) IsComplete() bool {
	return q.Phase().Terminal()
}

// InteractionID returns the upstream interaction id, or "" before start.
func (q *Query) InteractionID() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.interactionID
}

// LastEventID returns the checkpoint cursor: the id of the most recent
// ingested event that carried one.
func (q *Query) LastEventID() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.lastEventID
}

// markStarted moves a pending query to started when its first upstream
// stream attaches. Later attachments (resumes) leave the phase alone.
func (q *Query) markStarted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.phase == domain.PhasePending {
		q.phase = domain.PhaseStarted
	}
}

// Ingest runs one event through the ingestion path.
func (q *Query) Ingest(evt domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ingestLocked(evt)
}

// Fail terminates the query locally with a synthesized error event. Used
// when there is nothing upstream to resume.
func (q *Query) Fail(msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.phase.Terminal() {
		return
	}

	evt := domain.ErrorEvent(msg)
	q.events = append(q.events, evt)
	q.persistLocked()
	q.phase = domain.PhaseFailed
	q.bcast.Publish(evt)
}

// ReplaceLog discards the current log and replays events through the normal
// ingestion path. Only the reload fallback uses this, for a query whose
// local log is empty or unusable; it re-establishes events, cursor, and
// completion from scratch.
func (q *Query) ReplaceLog(events []domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = q.events[:0]
	q.lastEventID = ""
	if q.phase.Terminal() {
		q.phase = domain.PhaseStarted
	}
	for _, evt := range events {
		q.ingestLocked(evt)
	}
}

// ingestLocked performs the ordered ingestion steps for one event. The order
// is contractual: persist happens before the cursor update and before
// broadcast, so listeners are never ahead of storage.
func (q *Query) ingestLocked(evt domain.Event) {
	if evt.Type == domain.EventInteractionStart && evt.Interaction != nil && q.interactionID == "" {
		q.interactionID = evt.Interaction.ID
		q.phase = domain.PhaseStreaming
		q.logger.Info("interaction started",
			slog.String("query_id", q.ID),
			slog.String("interaction_id", q.interactionID),
		)
	}

	q.events = append(q.events, evt)
	q.persistLocked()

	if evt.EventID != "" {
		q.lastEventID = evt.EventID
	}
	if evt.Type == domain.EventInteractionComplete {
		q.phase = domain.PhaseComplete
	}

	q.bcast.Publish(evt)
}

// persistLocked rewrites the flat file for the current record. A write
// failure is scoped to durability, not the query: the event stays in the
// in-memory log and the next event retries the full rewrite.
func (q *Query) persistLocked() {
	if q.store == nil {
		return
	}
	if err := q.store.Save(q.recordLocked()); err != nil {
		q.logger.Error("failed to persist query record",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Record returns a consistent snapshot of the serialized record.
func (q *Query) Record() *domain.QueryRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.recordLocked()
}

func (q *Query) recordLocked() *domain.QueryRecord {
	events := make([]domain.Event, len(q.events))
	copy(events, q.events)
	return &domain.QueryRecord{
		QueryID:       q.ID,
		User:          q.User,
		Prompt:        q.Prompt,
		InteractionID: q.interactionID,
		LastEventID:   q.lastEventID,
		IsComplete:    q.phase.Terminal(),
		Events:        events,
		CreatedAt:     q.CreatedAt.UnixMilli(),
	}
}

// Summary returns the status line item for this query.
func (q *Query) Summary() domain.QuerySummary {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return domain.QuerySummary{
		QueryID:     q.ID,
		Prompt:      q.Prompt,
		IsComplete:  q.phase.Terminal(),
		LastEventID: q.lastEventID,
		CreatedAt:   q.CreatedAt.UnixMilli(),
	}
}

// EventsSince returns a copy of the events strictly after the given cursor.
// An empty or unknown cursor returns the full log; a stale cursor must never
// block recovery.
func (q *Query) EventsSince(cursor string) []domain.Event {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.eventsSinceLocked(cursor)
}

func (q *Query) eventsSinceLocked(cursor string) []domain.Event {
	start := 0
	if cursor != "" {
		for i, evt := range q.events {
			if evt.EventID == cursor {
				start = i + 1
				break
			}
		}
	}
	out := make([]domain.Event, len(q.events)-start)
	copy(out, q.events[start:])
	return out
}

// Subscribe atomically snapshots the backlog after cursor, registers a live
// subscription, and reports whether the query was already complete at that
// instant. Because ingestion appends and publishes under the same lock, the
// caller sees every event exactly once: backlog first, then live, with no
// gap or duplicate at the boundary.
func (q *Query) Subscribe(cursor string, buffer int) (backlog []domain.Event, sub *Subscription, complete bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	backlog = q.eventsSinceLocked(cursor)
	sub = q.bcast.Subscribe(buffer)
	return backlog, sub, q.phase.Terminal()
}

// Unsubscribe releases a live subscription. Idempotent.
func (q *Query) Unsubscribe(sub *Subscription) {
	q.bcast.Unsubscribe(sub)
}

// Listeners reports the current number of live subscribers.
func (q *Query) Listeners() int {
	return q.bcast.Len()
}
