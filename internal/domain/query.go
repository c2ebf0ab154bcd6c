package domain

import "time"

// Phase is the lifecycle state of a research query. Phases only move
// forward; a terminal phase never changes again.
type Phase int

const (
	// PhasePending: record created, upstream interaction not yet opened.
	PhasePending Phase = iota
	// PhaseStarted: an upstream stream is attached but interaction.start has
	// not been observed yet.
	PhaseStarted
	// PhaseStreaming: interaction id captured, events flowing.
	PhaseStreaming
	// PhaseComplete: the upstream's explicit completion event was observed.
	PhaseComplete
	// PhaseFailed: terminal variant of complete — the query ended with a
	// locally synthesized error (e.g. the first connection attempt died
	// before an interaction id existed).
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseStarted:
		return "started"
	case PhaseStreaming:
		return "streaming"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase can no longer change.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// QueryRecord is the serialized form of one research query: the full event
// log plus the checkpoint cursor. It is what gets rewritten to disk on every
// ingested event and returned by the catch-up endpoint.
type QueryRecord struct {
	QueryID       string  `json:"queryId"`
	User          string  `json:"user"`
	Prompt        string  `json:"prompt"`
	InteractionID string  `json:"interactionId,omitempty"`
	LastEventID   string  `json:"lastEventId,omitempty"`
	IsComplete    bool    `json:"isComplete"`
	Events        []Event `json:"events"`
	CreatedAt     int64   `json:"createdAt"`
}

// CreatedTime converts the record's epoch-milliseconds timestamp.
func (r *QueryRecord) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// QuerySummary is the per-query line item of the status listing used for
// client-side reconciliation after an outage.
type QuerySummary struct {
	QueryID     string `json:"queryId"`
	Prompt      string `json:"prompt"`
	IsComplete  bool   `json:"isComplete"`
	LastEventID string `json:"lastEventId,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}
