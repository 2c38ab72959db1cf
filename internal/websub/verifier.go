package websub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Priya8975/federation-engine/internal/metrics"
)

var (
	ErrVerificationFailed = errors.New("websub: verification failed")
	ErrChallengeMismatch  = errors.New("websub: challenge not echoed")
	ErrInvalidCallback    = errors.New("websub: invalid callback")
	ErrInvalidTopic       = errors.New("websub: invalid topic")

	// ErrCallbackUnreachable is a transport failure (timeout, refused
	// connection) before the callback answered. Unlike the errors above it
	// is not the subscriber's answer and may be retried.
	ErrCallbackUnreachable = errors.New("websub: callback unreachable")
)

// Mode is the hub.mode of a verification request.
type Mode string

const (
	ModeSubscribe   Mode = "subscribe"
	ModeUnsubscribe Mode = "unsubscribe"
)

// DefaultTimeout bounds verification and push requests.
const DefaultTimeout = 8 * time.Second

// Verifier runs the intent-verification handshake against a callback.
type Verifier struct {
	client *http.Client
	strict bool
	logger *slog.Logger
	tracer trace.Tracer
}

// NewVerifier creates a verifier. When strict is set the callback must echo
// the challenge in its response body; otherwise any 2xx confirms.
func NewVerifier(client *http.Client, strict bool, logger *slog.Logger) *Verifier {
	return &Verifier{
		client: client,
		strict: strict,
		logger: logger,
		tracer: otel.Tracer("github.com/Priya8975/federation-engine/internal/websub"),
	}
}

type verifyTokenKey struct{}

// WithVerifyToken attaches the hub.verify_token a subscriber supplied, to
// be echoed back on its verification request.
func WithVerifyToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, verifyTokenKey{}, token)
}

func newChallenge() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateCallback checks that callback is an absolute http(s) URL.
func ValidateCallback(callback string) error {
	u, err := url.Parse(callback)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidCallback, callback)
	}
	return nil
}

// Verify confirms mode for (topic, callback). lease is only sent when
// subscribing.
func (v *Verifier) Verify(ctx context.Context, mode Mode, topic, callback string, lease time.Duration) error {
	ctx, span := v.tracer.Start(ctx, "websub.Verify", trace.WithAttributes(
		attribute.String("websub.mode", string(mode)),
		attribute.String("websub.callback", callback),
	))
	defer span.End()

	err := v.verify(ctx, mode, topic, callback, lease)
	result := "success"
	if err != nil {
		result = "failure"
		span.RecordError(err)
	}
	metrics.Verifications.WithLabelValues(string(mode), result).Inc()
	return err
}

func (v *Verifier) verify(ctx context.Context, mode Mode, topic, callback string, lease time.Duration) error {
	u, err := url.Parse(callback)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	challenge, err := newChallenge()
	if err != nil {
		return err
	}

	q := u.Query()
	q.Set("hub.mode", string(mode))
	q.Set("hub.topic", topic)
	q.Set("hub.challenge", challenge)
	if mode == ModeSubscribe {
		q.Set("hub.lease_seconds", strconv.FormatInt(int64(lease/time.Second), 10))
	}
	if token, _ := ctx.Value(verifyTokenKey{}).(string); token != "" {
		q.Set("hub.verify_token", token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating verification request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCallbackUnreachable, err)
	}
	defer resp.Body.Close()

	// Read response body (limit to 1KB to prevent memory issues)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.logger.Error("verification rejected",
			"mode", mode,
			"topic", topic,
			"callback", callback,
			"status_code", resp.StatusCode,
		)
		return fmt.Errorf("%w: status %d", ErrVerificationFailed, resp.StatusCode)
	}
	if v.strict && strings.TrimSpace(string(body)) != challenge {
		v.logger.Error("verification challenge mismatch",
			"mode", mode,
			"topic", topic,
			"callback", callback,
		)
		return ErrChallengeMismatch
	}
	return nil
}
