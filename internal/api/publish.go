package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/worker"
)

// Publisher records local notes and queues their federation.
type Publisher interface {
	Publish(ctx context.Context, site string, post worker.Post) (*domain.Activity, error)
}

type publishRequest struct {
	Nickname  string `json:"nickname" validate:"required,max=255"`
	Content   string `json:"content" validate:"required"`
	InReplyTo string `json:"in_reply_to,omitempty" validate:"omitempty,url"`
	Scope     string `json:"scope,omitempty" validate:"omitempty,oneof=public unlisted followers direct"`
}

type PublishHandler struct {
	publisher Publisher
	validate  *validator.Validate
	site      string
	logger    *slog.Logger
}

func NewPublishHandler(p Publisher, site string, logger *slog.Logger) *PublishHandler {
	return &PublishHandler{publisher: p, validate: validator.New(), site: site, logger: logger}
}

// Create handles POST /api/v1/publish.
func (h *PublishHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	act, err := h.publisher.Publish(r.Context(), h.site, worker.Post{
		Nickname:  req.Nickname,
		Content:   req.Content,
		InReplyTo: req.InReplyTo,
		Scope:     domain.Scope(req.Scope),
	})
	if err != nil {
		if errors.Is(err, worker.ErrUnknownActor) {
			respondError(w, http.StatusNotFound, "no such actor")
			return
		}
		if act == nil {
			h.logger.Error("publish failed", "nickname", req.Nickname, "error", err)
			respondError(w, statusFor(err), "failed to publish")
			return
		}
		// Recorded, but federation could not be fully queued.
		h.logger.Warn("note recorded without full federation", "activity", act.URI, "error", err)
	}

	respondJSON(w, http.StatusCreated, act)
}
