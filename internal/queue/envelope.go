package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is the broker-opaque wrapper around a task.
type Envelope struct {
	Site    string          `cbor:"site"`
	Handler string          `cbor:"handler"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// Encode wraps payload for handler on site.
func Encode(site, handler string, payload any) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", handler, err)
	}
	body, err := cbor.Marshal(Envelope{Site: site, Handler: handler, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return body, nil
}

// Decode unwraps a frame body.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Handler == "" {
		return nil, fmt.Errorf("decoding envelope: no handler")
	}
	return &env, nil
}

// Into decodes the payload into v.
func (e *Envelope) Into(v any) error {
	if err := cbor.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Handler, err)
	}
	return nil
}

// Header names carried on every frame.
const (
	HeaderCreated    = "created"
	HeaderPersistent = "persistent"
	HeaderAttempts   = "attempts"
)

func createdHeader(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseCreated(v string) (time.Time, bool) {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
