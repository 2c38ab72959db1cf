package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Priya8975/federation-engine/internal/websub"
	"github.com/Priya8975/federation-engine/internal/worker"
)

// hubRequest is a WebSub subscription request as posted to the hub.
type hubRequest struct {
	Mode         string `validate:"required,oneof=subscribe unsubscribe"`
	Topic        string `validate:"required,http_url"`
	Callback     string `validate:"required,http_url"`
	Secret       string `validate:"max=199"`
	LeaseSeconds int64  `validate:"gte=0"`
	VerifyToken  string `validate:"max=255"`
}

// HubHandler accepts subscription requests and queues their verification.
type HubHandler struct {
	queue    worker.Enqueuer
	interest websub.InterestChecker
	validate *validator.Validate
	site     string
	logger   *slog.Logger
}

func NewHubHandler(q worker.Enqueuer, interest websub.InterestChecker, site string, logger *slog.Logger) *HubHandler {
	return &HubHandler{
		queue:    q,
		interest: interest,
		validate: validator.New(),
		site:     site,
		logger:   logger,
	}
}

// Subscribe handles POST /hub. Verification happens asynchronously, so
// an accepted request is answered with 202.
func (h *HubHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	req := hubRequest{
		Mode:        strings.TrimSpace(r.PostForm.Get("hub.mode")),
		Topic:       strings.TrimSpace(r.PostForm.Get("hub.topic")),
		Callback:    strings.TrimSpace(r.PostForm.Get("hub.callback")),
		Secret:      r.PostForm.Get("hub.secret"),
		VerifyToken: r.PostForm.Get("hub.verify_token"),
	}
	if v := r.PostForm.Get("hub.lease_seconds"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "hub.lease_seconds must be an integer")
			return
		}
		req.LeaseSeconds = n
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if req.Mode == string(websub.ModeSubscribe) && h.interest != nil {
		ok, err := h.interest.HasInterest(r.Context(), req.Topic)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to check topic")
			return
		}
		if !ok {
			respondError(w, http.StatusNotFound, "unknown hub.topic; this hub only serves local feeds")
			return
		}
	}

	task := worker.VerifyTask{
		Mode:         websub.Mode(req.Mode),
		Topic:        req.Topic,
		Callback:     req.Callback,
		Secret:       req.Secret,
		LeaseSeconds: req.LeaseSeconds,
		VerifyToken:  req.VerifyToken,
	}
	if err := h.queue.Enqueue(r.Context(), task, worker.HandlerHubVerify, h.site); err != nil {
		h.logger.Error("failed to queue verification", "callback", req.Callback, "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to queue verification")
		return
	}

	h.logger.Info("hub request accepted", "mode", req.Mode, "topic", req.Topic, "callback", req.Callback)
	w.WriteHeader(http.StatusAccepted)
}

// validationMessage names the first rejected hub parameter.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	field := verrs[0].Field()
	switch field {
	case "LeaseSeconds":
		field = "lease_seconds"
	case "VerifyToken":
		field = "verify_token"
	default:
		field = strings.ToLower(field)
	}
	return "invalid hub." + field
}
