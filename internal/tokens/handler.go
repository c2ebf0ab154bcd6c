package tokens

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes token counting over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler wires the token counting endpoint.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes registers the endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/count", h.HandleCount)
}

type countRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type countResponse struct {
	Model     string `json:"model"`
	Tokens    int    `json:"tokens"`
	Estimated bool   `json:"estimated"`
}

// HandleCount counts the tokens of a plain text string for a model.
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	count, estimated, err := h.registry.CountText(req.Model, req.Text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countResponse{
		Model:     req.Model,
		Tokens:    count,
		Estimated: estimated,
	})
}
