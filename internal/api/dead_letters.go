package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/store"
	"github.com/Priya8975/federation-engine/internal/worker"
)

// DeadLetterStore is the dead-letter table.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, handler string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id, resolvedBy string) error
}

type DeadLetterHandler struct {
	store DeadLetterStore
	queue worker.Enqueuer
}

func NewDeadLetterHandler(s DeadLetterStore, q worker.Enqueuer) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, queue: q}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	handler := r.URL.Query().Get("handler")
	resolvedStr := r.URL.Query().Get("resolved")
	limitStr := r.URL.Query().Get("limit")

	resolved := false
	if resolvedStr == "true" {
		resolved = true
	}

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.store.ListDeadLetters(r.Context(), handler, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// Replay puts a dead letter's task back on its queue and marks it resolved.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil || letter.ResolvedAt != nil {
		respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
		return
	}

	env, err := queue.Decode(letter.Payload)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "dead letter payload is not a task envelope")
		return
	}
	if err := h.queue.Enqueue(r.Context(), env.Payload, env.Handler, env.Site); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue task")
		return
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, "replay"); err != nil && !errors.Is(err, store.ErrDeadLetterNotFound) {
		respondError(w, http.StatusInternalServerError, "task replayed but not marked resolved")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "replayed", "handler": env.Handler})
}
