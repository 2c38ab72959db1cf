package websub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/federation-engine/internal/httpsig"
)

// StatusError is a push the callback answered with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback answered %d", e.Code)
}

// Pusher POSTs content to subscriber callbacks.
type Pusher struct {
	client *http.Client
	logger *slog.Logger
}

// NewPusher creates a pusher around client.
func NewPusher(client *http.Client, logger *slog.Logger) *Pusher {
	return &Pusher{client: client, logger: logger}
}

// Post delivers body to callback, signing it with secret when one is set.
func (p *Pusher) Post(ctx context.Context, callback, secret string, body []byte) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/atom+xml; charset=utf-8")
	if secret != "" {
		req.Header.Set("X-Hub-Signature", httpsig.SignHMAC(body, secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	p.logger.Debug("push answered",
		"callback", callback,
		"status_code", resp.StatusCode,
		"response_time_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// CallbackUpgrade proposes an alternative callback after a failed push.
type CallbackUpgrade interface {
	Alternative(callback string) (string, bool)
}

// HTTPSUpgrade retries plain-HTTP callbacks over HTTPS. A callback that
// failed for an unrelated reason but also serves HTTPS gets migrated too.
type HTTPSUpgrade struct{}

func (HTTPSUpgrade) Alternative(callback string) (string, bool) {
	rest, ok := strings.CutPrefix(callback, "http://")
	if !ok {
		return "", false
	}
	return "https://" + rest, true
}

// NoUpgrade never proposes an alternative.
type NoUpgrade struct{}

func (NoUpgrade) Alternative(string) (string, bool) { return "", false }
