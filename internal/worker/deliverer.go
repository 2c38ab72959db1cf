package worker

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/metrics"
	"github.com/Priya8975/federation-engine/internal/queue"
)

// ContentTypeActivity is the media type of outgoing ActivityPub documents.
const ContentTypeActivity = "application/activity+json"

// KeySource finds the signing key of a local actor.
type KeySource interface {
	SigningKey(ctx context.Context, actorURI string) (keyID string, key *rsa.PrivateKey, err error)
}

// DeliveryError is an inbox that answered with a non-2xx status.
type DeliveryError struct {
	Inbox      string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("inbox %s answered %d", e.Inbox, e.StatusCode)
}

// Permanent reports whether retrying cannot change the answer.
func (e *DeliveryError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Deliverer POSTs signed activities to remote inboxes.
type Deliverer struct {
	httpClient *http.Client
	keys       KeySource
	breaker    *HostBreaker
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer. A nil client gets a 10 second timeout.
func NewDeliverer(client *http.Client, keys KeySource, logger *slog.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{
		httpClient: client,
		keys:       keys,
		logger:     logger,
	}
}

// WithBreaker skips hosts whose circuit is open.
func (d *Deliverer) WithBreaker(b *HostBreaker) *Deliverer {
	d.breaker = b
	return d
}

// Post sends body to inbox, signed with the key of actorURI.
func (d *Deliverer) Post(ctx context.Context, inbox, actorURI string, body []byte) error {
	start := time.Now()
	host := hostOf(inbox)

	if d.breaker != nil {
		if _, ok := d.breaker.Allow(ctx, host); !ok {
			metrics.Deliveries.WithLabelValues("circuit_open").Inc()
			return fmt.Errorf("%s: %w", host, ErrCircuitOpen)
		}
	}

	keyID, key, err := d.keys.SigningKey(ctx, actorURI)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeActivity)
	req.Header.Set("Accept", ContentTypeActivity)
	if err := httpsig.SignRequest(req, body, keyID, key); err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.record(ctx, inbox, start, 0, err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body (limit to 1KB to prevent memory issues)
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		derr := &DeliveryError{Inbox: inbox, StatusCode: resp.StatusCode, Body: string(respBody)}
		d.record(ctx, inbox, start, resp.StatusCode, derr)
		return derr
	}
	d.record(ctx, inbox, start, resp.StatusCode, nil)
	return nil
}

func (d *Deliverer) record(ctx context.Context, inbox string, start time.Time, statusCode int, err error) {
	elapsed := time.Since(start)
	metrics.DeliveryDuration.Observe(elapsed.Seconds())

	if d.breaker != nil {
		// A 4xx answer still means the host is up.
		var derr *DeliveryError
		if err == nil || (errors.As(err, &derr) && derr.Permanent()) {
			d.breaker.Success(ctx, hostOf(inbox))
		} else {
			d.breaker.Failure(ctx, hostOf(inbox))
		}
	}

	if err == nil {
		metrics.Deliveries.WithLabelValues("success").Inc()
		d.logger.Info("delivery successful",
			"inbox", inbox,
			"status_code", statusCode,
			"response_time_ms", elapsed.Milliseconds(),
		)
		return
	}
	metrics.Deliveries.WithLabelValues("failure").Inc()
	d.logger.Warn("delivery failed",
		"inbox", inbox,
		"error", err,
		"status_code", statusCode,
		"response_time_ms", elapsed.Milliseconds(),
	)
}

// Deliver handles an apdeliver task. Permanent rejections are dropped;
// other failures are re-enqueued until the retry budget is spent.
func (h *Handlers) Deliver(ctx context.Context, env *queue.Envelope) error {
	var task DeliverTask
	if err := env.Into(&task); err != nil {
		h.logger.Error("dropping undecodable delivery", "error", err)
		return nil
	}

	err := h.deliverer.Post(ctx, task.Inbox, task.ActorURI, task.Body)
	if err == nil {
		return nil
	}

	var derr *DeliveryError
	if errors.As(err, &derr) && derr.Permanent() {
		h.logger.Warn("inbox rejected delivery", "inbox", task.Inbox, "status_code", derr.StatusCode)
		return nil
	}
	if task.Retries <= 0 {
		h.logger.Error("delivery retries exhausted", "inbox", task.Inbox, "error", err)
		return nil
	}

	task.Retries--
	if qErr := h.queue.Enqueue(ctx, task, HandlerDeliver, queue.SiteFromContext(ctx)); qErr != nil {
		return fmt.Errorf("re-enqueueing delivery: %w", qErr)
	}
	return nil
}
