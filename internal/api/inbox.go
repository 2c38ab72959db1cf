package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/worker"
)

const maxInboxBody = 1 << 20

// RequestVerifier authenticates a signed request and returns its keyId.
type RequestVerifier interface {
	VerifyRequest(ctx context.Context, r *http.Request, body []byte) (string, error)
}

// InboxHandler authenticates inbound activities and queues them for import.
type InboxHandler struct {
	queue    worker.Enqueuer
	verifier RequestVerifier
	registry *streams.Registry
	actors   ActorDirectory
	site     string
	logger   *slog.Logger
}

func NewInboxHandler(q worker.Enqueuer, verifier RequestVerifier, registry *streams.Registry, actors ActorDirectory, site string, logger *slog.Logger) *InboxHandler {
	return &InboxHandler{
		queue:    q,
		verifier: verifier,
		registry: registry,
		actors:   actors,
		site:     site,
		logger:   logger,
	}
}

// keyOwner is the actor a keyId belongs to.
func keyOwner(keyID string) string {
	owner, _, _ := strings.Cut(keyID, "#")
	return owner
}

func payloadFormat(contentType string) (translate.Format, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0, false
	}
	switch mt {
	case "application/activity+json", "application/ld+json", "application/json":
		return translate.FormatActivityPub, true
	case "application/atom+xml":
		return translate.FormatAtom, true
	}
	return 0, false
}

// Receive handles POST /inbox and POST /users/{nickname}/inbox.
func (h *InboxHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if nickname := chi.URLParam(r, "nickname"); nickname != "" {
		actor, err := h.actors.LocalActor(r.Context(), nickname)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to look up actor")
			return
		}
		if actor == nil {
			respondError(w, http.StatusNotFound, "no such actor")
			return
		}
	}

	format, ok := payloadFormat(r.Header.Get("Content-Type"))
	if !ok {
		respondError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxInboxBody {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	keyID, err := h.verifier.VerifyRequest(r.Context(), r, body)
	if err != nil {
		h.logger.Error("inbox signature rejected",
			"key_id", keyID,
			"fingerprint", domain.Fingerprint(body),
			"error", err,
		)
		respondError(w, statusFor(err), "signature verification failed")
		return
	}

	if format == translate.FormatActivityPub {
		if err := h.precheck(body); err != nil {
			h.logger.Warn("inbound activity rejected", "key_id", keyID, "error", err)
			respondError(w, statusFor(err), err.Error())
			return
		}
	}

	task := worker.InboxTask{Body: body, Format: format, Sender: keyOwner(keyID)}
	if err := h.queue.Enqueue(r.Context(), task, worker.HandlerInbox, h.site); err != nil {
		h.logger.Error("failed to queue inbound activity", "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to queue activity")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// precheck rejects documents that can never import, so the sender learns
// about it synchronously.
func (h *InboxHandler) precheck(body []byte) error {
	v, err := h.registry.Unmarshal(body)
	if err != nil {
		var res *streams.ResolutionError
		if errors.As(err, &res) {
			return &translate.Error{Kind: translate.ErrUnsupported, Err: err}
		}
		return &translate.Error{Kind: translate.ErrMalformed, Err: err}
	}
	if _, ok := v.(*streams.Activity); !ok {
		return &translate.Error{Kind: translate.ErrUnsupported, Detail: v.TypeName() + " is not an activity"}
	}
	return nil
}
