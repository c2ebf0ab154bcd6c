package domain

// EventType discriminates the facts emitted over a research interaction's
// lifetime. The values are the upstream's wire strings and pass through to
// clients unchanged.
type EventType string

const (
	EventInteractionStart    EventType = "interaction.start"
	EventContentDelta        EventType = "content.delta"
	EventInteractionComplete EventType = "interaction.complete"
	EventStreamEnd           EventType = "stream.end"
	EventError               EventType = "error"
)

// Delta payload kinds.
const (
	DeltaText           = "text"
	DeltaThoughtSummary = "thought_summary"
)

// InteractionRef carries the upstream's identifier on start events.
type InteractionRef struct {
	ID string `json:"id"`
}

// DeltaContent wraps the text of a thought summary.
type DeltaContent struct {
	Text string `json:"text"`
}

// Delta is the incremental payload of a content event. Plain text arrives in
// Text; thought summaries arrive nested under Content.
type Delta struct {
	Type    string        `json:"type"`
	Text    string        `json:"text,omitempty"`
	Content *DeltaContent `json:"content,omitempty"`
}

// Event is one immutable, ordered fact about an interaction's progress.
// EventID is the upstream's own cursor token and is never synthesized
// locally; events minted by the relay (errors, stream.end) leave it empty.
type Event struct {
	Type        EventType       `json:"event_type"`
	EventID     string          `json:"event_id,omitempty"`
	Interaction *InteractionRef `json:"interaction,omitempty"`
	Delta       *Delta          `json:"delta,omitempty"`
}

// Text returns the textual payload of a content or error event regardless of
// which delta shape carries it.
func (e Event) Text() string {
	if e.Delta == nil {
		return ""
	}
	if e.Delta.Content != nil {
		return e.Delta.Content.Text
	}
	return e.Delta.Text
}

// ErrorEvent builds the synthetic event recorded when a query fails locally,
// for example when the first upstream connection attempt dies before an
// interaction id exists.
func ErrorEvent(msg string) Event {
	return Event{
		Type:  EventError,
		Delta: &Delta{Type: DeltaText, Text: "Error: " + msg},
	}
}
