package chatproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quillback/research-relay/internal/auth"
	"github.com/quillback/research-relay/internal/upstream"
)

// ChatBackend streams completions for a registered session.
// *upstream.ChatClient satisfies it.
type ChatBackend interface {
	StreamChatCompletion(ctx context.Context, req *upstream.ChatCompletionRequest) (<-chan upstream.ChatResult, error)
}

// Handler exposes the chat proxy endpoints.
type Handler struct {
	sessions *Sessions
	backend  ChatBackend
	allow    *auth.Allowlist
	models   map[string]struct{}
	outDir   string
	logger   *slog.Logger
}

// NewHandler wires the chat proxy. models is the set of accepted model
// names; empty means any. outDir is where completed transcripts land; ""
// disables archiving.
func NewHandler(sessions *Sessions, backend ChatBackend, allow *auth.Allowlist, models []string, outDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(models))
	for _, m := range models {
		allowed[m] = struct{}{}
	}
	return &Handler{
		sessions: sessions,
		backend:  backend,
		allow:    allow,
		models:   allowed,
		outDir:   outDir,
		logger:   logger,
	}
}

// Routes registers the chat proxy endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/start", h.HandleStart)
	r.Get("/stream/{sessionID}", h.HandleStream)
}

type startRequest struct {
	User         string                 `json:"user"`
	Model        string                 `json:"model"`
	SystemPrompt string                 `json:"systemPrompt"`
	Messages     []upstream.ChatMessage `json:"messages"`
}

// HandleStart validates the request and parks it as a session for the
// follow-up stream call.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if h.allow != nil && !h.allow.Allowed(req.User) {
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}
	if req.Messages == nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(h.models) > 0 {
		if _, ok := h.models[req.Model]; !ok {
			http.Error(w, fmt.Sprintf("got unknown model %s", req.Model), http.StatusBadRequest)
			return
		}
	}

	sess := h.sessions.Put(req.User, req.Model, req.SystemPrompt, req.Messages)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sessionId": sess.ID})
}

// HandleStream claims the session and relays the backend's completion stream
// as SSE: each delta as a JSON string, a literal null as terminator, and an
// error object if the upstream fails mid-stream. The assistant turn is
// appended and the transcript archived when the stream finishes cleanly.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Take(chi.URLParam(r, "sessionID"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
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

	messages := make([]upstream.ChatMessage, 0, len(sess.Messages)+1)
	if sess.SystemPrompt != "" {
		messages = append(messages, upstream.ChatMessage{Role: "system", Content: sess.SystemPrompt})
	}
	messages = append(messages, sess.Messages...)

	stream, err := h.backend.StreamChatCompletion(r.Context(), &upstream.ChatCompletionRequest{
		Model:    sess.Model,
		Messages: messages,
	})
	if err != nil {
		h.logger.Error("failed to start chat stream",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		writeSSEError(w, err)
		return
	}

	var assistant string
	for res := range stream {
		if res.Err != nil {
			h.logger.Error("chat stream error",
				slog.String("session_id", sess.ID),
				slog.String("error", res.Err.Error()),
			)
			writeSSEError(w, res.Err)
			return
		}
		data, _ := json.Marshal(res.Delta)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		assistant += res.Delta
	}

	fmt.Fprint(w, "data: null\n\n")
	flusher.Flush()

	sess.Messages = append(sess.Messages, upstream.ChatMessage{Role: "assistant", Content: assistant})
	h.archive(sess)
}

// archive writes the finished transcript as a flat JSON file named by
// completion time.
func (h *Handler) archive(sess *Session) {
	if h.outDir == "" {
		return
	}

	data, err := json.Marshal(map[string]any{
		"user":         sess.User,
		"model":        sess.Model,
		"systemPrompt": sess.SystemPrompt,
		"messages":     sess.Messages,
	})
	if err != nil {
		h.logger.Error("failed to marshal transcript", slog.String("error", err.Error()))
		return
	}

	name := time.Now().UTC().Format("2006-01-02 15.04.05.000Z") + ".json"
	if err := os.WriteFile(filepath.Join(h.outDir, name), data, 0o644); err != nil {
		h.logger.Error("failed to archive transcript",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

func writeSSEError(w http.ResponseWriter, err error) {
	msg, _ := json.Marshal(err.Error())
	fmt.Fprintf(w, "data: {\"error\": %s}\n\n", msg)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
