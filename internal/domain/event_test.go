package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventText(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{"no delta", Event{Type: EventInteractionStart}, ""},
		{"plain text", Event{Delta: &Delta{Type: DeltaText, Text: "Hello"}}, "Hello"},
		{"thought summary", Event{Delta: &Delta{
			Type:    DeltaThoughtSummary,
			Content: &DeltaContent{Text: "Checked sources."},
		}}, "Checked sources."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.evt.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorEvent(t *testing.T) {
	evt := ErrorEvent("connection refused")
	if evt.Type != EventError {
		t.Errorf("type = %q", evt.Type)
	}
	if evt.EventID != "" {
		t.Errorf("synthetic event carries id %q", evt.EventID)
	}
	if got := evt.Text(); got != "Error: connection refused" {
		t.Errorf("text = %q", got)
	}
}

func TestEventWireFormat(t *testing.T) {
	raw := `{"event_type":"content.delta","event_id":"e2","delta":{"type":"text","text":"Hello"}}`

	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != EventContentDelta || evt.EventID != "e2" || evt.Text() != "Hello" {
		t.Errorf("decoded = %+v", evt)
	}

	// Relay-minted events must not emit an event_id field.
	data, err := json.Marshal(Event{Type: EventStreamEnd})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"event_type":"stream.end"}` {
		t.Errorf("encoded = %s", data)
	}
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase    Phase
		name     string
		terminal bool
	}{
		{PhasePending, "pending", false},
		{PhaseStarted, "started", false},
		{PhaseStreaming, "streaming", false},
		{PhaseComplete, "complete", true},
		{PhaseFailed, "failed", true},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.name {
			t.Errorf("String(%d) = %q, want %q", tt.phase, got, tt.name)
		}
		if got := tt.phase.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.name, got, tt.terminal)
		}
	}
}

func TestQueryRecordCreatedTime(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := &QueryRecord{CreatedAt: created.UnixMilli()}
	if !rec.CreatedTime().Equal(created) {
		t.Errorf("CreatedTime() = %v, want %v", rec.CreatedTime(), created)
	}
}
