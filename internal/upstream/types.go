package upstream

// AgentConfig selects and tunes the upstream agent for an interaction.
type AgentConfig struct {
	Type              string `json:"type"`
	ThinkingSummaries string `json:"thinking_summaries,omitempty"`
}

// CreateInteractionRequest opens a new background, streaming interaction.
type CreateInteractionRequest struct {
	Input       string       `json:"input"`
	Agent       string       `json:"agent"`
	Background  bool         `json:"background"`
	Stream      bool         `json:"stream"`
	AgentConfig *AgentConfig `json:"agent_config,omitempty"`
}

// Interaction is the upstream's persisted view of one agent task, returned by
// the non-streaming fetch. Status values observed: "completed", "failed", and
// a handful of in-flight states reported verbatim.
type Interaction struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"`
	Outputs []OutputItem `json:"outputs,omitempty"`
	Error   *APIError    `json:"error,omitempty"`
}

// OutputItem is one stored output of a completed interaction: either a text
// block or a thought block whose summary nests the text items.
type OutputItem struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Summary *ThoughtSummary `json:"summary,omitempty"`
}

// ThoughtSummary carries the summarized reasoning items of a thought output.
type ThoughtSummary struct {
	Items []SummaryItem `json:"items,omitempty"`
}

// SummaryItem is one entry of a thought summary.
type SummaryItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// APIError is the upstream's error body.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
