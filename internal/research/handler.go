package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillback/research-relay/internal/domain"
	"github.com/quillback/research-relay/internal/querylog"
	"github.com/quillback/research-relay/internal/upstream"
)

// InteractionFetcher is the non-streaming upstream lookup the reload
// fallback needs. *upstream.Client satisfies it.
type InteractionFetcher interface {
	GetInteraction(ctx context.Context, interactionID string) (*upstream.Interaction, error)
}

// Handler exposes the research subsystem over HTTP.
type Handler struct {
	registry *Registry
	runner   *Runner
	fetcher  InteractionFetcher
	store    *querylog.Store
	logger   *slog.Logger
	buffer   int
}

// NewHandler wires the research endpoints. store may be nil (no reload
// files); buffer <= 0 selects the default subscriber depth.
func NewHandler(registry *Registry, runner *Runner, fetcher InteractionFetcher, store *querylog.Store, logger *slog.Logger, buffer int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		runner:   runner,
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
		buffer:   buffer,
	}
}

// Routes registers the research endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/start", h.HandleStart)
	r.Get("/events/{queryID}", h.HandleEvents)
	r.Get("/stream/{queryID}", h.HandleStream)
	r.Get("/status/{user}", h.HandleStatus)
	r.Post("/reload", h.HandleReload)
}

type startRequest struct {
	User   string `json:"user"`
	Prompt string `json:"prompt"`
}

// HandleStart creates a query and launches its ingestion in the background.
// This is the only endpoint gated on the user field; the others carry
// unguessable ids.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q, err := h.registry.Create(req.User, req.Prompt)
	switch err {
	case nil:
	case ErrMissingField:
		writeJSONError(w, http.StatusBadRequest, "Missing user or prompt")
		return
	case ErrUnknownUser:
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The interaction outlives this request; ingestion retries for the life
	// of the process, so it gets the process context, not the request's.
	go h.runner.Run(context.Background(), q)

	writeJSON(w, http.StatusOK, map[string]string{"queryId": q.ID})
}

// HandleEvents is the catch-up read: the ordered events strictly after the
// client's cursor, or the full log when the cursor is absent or unknown.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := h.registry.Get(chi.URLParam(r, "queryID"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Query not found")
		return
	}

	events := q.EventsSince(r.URL.Query().Get("last_event_id"))

	writeJSON(w, http.StatusOK, map[string]any{
		"queryId":     q.ID,
		"prompt":      q.Prompt,
		"isComplete":  q.IsComplete(),
		"events":      events,
		"lastEventId": q.LastEventID(),
	})
}

// HandleStream is the live subscription: replay the backlog after the
// client's cursor, then push every event as it is ingested. An already
// complete query gets the backlog, a synthetic stream.end, and the
// connection closed. Client disconnect deterministically unsubscribes.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	q, err := h.registry.Get(chi.URLParam(r, "queryID"))
	if err != nil {
		http.Error(w, "Query not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	backlog, sub, complete := q.Subscribe(r.URL.Query().Get("last_event_id"), h.buffer)
	defer q.Unsubscribe(sub)

	for _, evt := range backlog {
		writeSSE(w, evt)
	}
	flusher.Flush()

	if complete {
		writeSSE(w, domain.Event{Type: domain.EventStreamEnd})
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				// Dropped for falling behind; the client reconnects with
				// its cursor.
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

// HandleStatus lists every query owned by a user. A client holding local
// state for a query missing from this list concludes the query was lost
// (e.g. process restart) — that reconciliation is the client's job.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	summaries := h.registry.ByUser(chi.URLParam(r, "user"))
	writeJSON(w, http.StatusOK, map[string]any{"queries": summaries})
}

type reloadRequest struct {
	InteractionID string `json:"interactionId"`
}

// HandleReload recovers a finished-but-locally-unusable result from the
// upstream's authoritative record. completed → reconstruct the canonical
// event sequence and run it through the normal ingestion path; failed →
// surface the upstream error; anything else → report the status verbatim and
// change nothing.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InteractionID == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing interactionId")
		return
	}

	interaction, err := h.fetcher.GetInteraction(r.Context(), req.InteractionID)
	if err != nil {
		h.logger.Error("failed to reload interaction",
			slog.String("interaction_id", req.InteractionID),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	switch interaction.Status {
	case "completed":
		events := reloadEvents(req.InteractionID, interaction.Outputs)

		if q, ok := h.registry.ByInteraction(req.InteractionID); ok {
			q.ReplaceLog(events)
		}
		if h.store != nil {
			if err := h.store.SaveReload(req.InteractionID, events); err != nil {
				h.logger.Error("failed to persist reloaded interaction",
					slog.String("interaction_id", req.InteractionID),
					slog.String("error", err.Error()),
				)
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "completed",
			"events": events,
		})

	case "failed":
		resp := map[string]any{
			"status": "failed",
			"events": []domain.Event{},
		}
		if interaction.Error != nil {
			resp["error"] = interaction.Error
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": interaction.Status,
			"events": []domain.Event{},
		})
	}
}

// reloadEvents deterministically rebuilds the event sequence of a completed
// interaction from its stored outputs: one start, one content delta per text
// output and per thought summary item, one completion.
func reloadEvents(interactionID string, outputs []upstream.OutputItem) []domain.Event {
	events := []domain.Event{{
		Type:        domain.EventInteractionStart,
		Interaction: &domain.InteractionRef{ID: interactionID},
	}}

	for _, item := range outputs {
		switch item.Type {
		case "text":
			events = append(events, domain.Event{
				Type:  domain.EventContentDelta,
				Delta: &domain.Delta{Type: domain.DeltaText, Text: item.Text},
			})
		case "thought":
			if item.Summary == nil {
				continue
			}
			for _, thought := range item.Summary.Items {
				if thought.Type != "text" {
					continue
				}
				events = append(events, domain.Event{
					Type: domain.EventContentDelta,
					Delta: &domain.Delta{
						Type:    domain.DeltaThoughtSummary,
						Content: &domain.DeltaContent{Text: thought.Text},
					},
				})
			}
		}
	}

	return append(events, domain.Event{Type: domain.EventInteractionComplete})
}

func writeSSE(w http.ResponseWriter, evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
