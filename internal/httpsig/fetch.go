package httpsig

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/Priya8975/federation-engine/internal/streams"
)

const (
	activityAccept = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	maxDocument    = 1 << 20
)

// Fetcher dereferences remote ActivityPub documents with signed GETs.
// Concurrent fetches of the same URI share one request.
type Fetcher struct {
	client   *http.Client
	registry *streams.Registry
	keyID    string
	key      *rsa.PrivateKey
	group    singleflight.Group
	logger   *slog.Logger
}

// NewFetcher creates a fetcher. When key is nil requests go out unsigned.
func NewFetcher(client *http.Client, registry *streams.Registry, keyID string, key *rsa.PrivateKey, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		registry: registry,
		keyID:    keyID,
		key:      key,
		logger:   logger,
	}
}

// Fetch returns the raw body of uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	v, err, shared := f.group.Do(uri, func() (any, error) {
		return f.fetch(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		f.logger.Debug("shared remote fetch", "uri", uri)
	}
	return v.([]byte), nil
}

func (f *Fetcher) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", activityAccept)
	if f.key != nil {
		if err := SignRequest(req, nil, f.keyID, f.key); err != nil {
			return nil, err
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: status %d", uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uri, err)
	}
	return body, nil
}

// FetchActor retrieves and decodes an actor document.
func (f *Fetcher) FetchActor(ctx context.Context, uri string) (*streams.Actor, error) {
	body, err := f.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	v, err := f.registry.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("decoding actor %s: %w", uri, err)
	}
	actor, ok := v.(*streams.Actor)
	if !ok {
		return nil, fmt.Errorf("document at %s is a %s, not an actor", uri, v.TypeName())
	}
	return actor, nil
}

// PublicKey resolves keyID by fetching the actor document it belongs to.
// The key must be published by, and owned by, that actor.
func (f *Fetcher) PublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	owner, _, _ := strings.Cut(keyID, "#")
	actor, err := f.FetchActor(ctx, owner)
	if err != nil {
		return nil, err
	}
	pk := actor.PublicKey
	if pk == nil || pk.ID != keyID {
		return nil, fmt.Errorf("%w: actor %s does not publish key %s", ErrInvalidSignature, owner, keyID)
	}
	if pk.Owner != "" && pk.Owner != actor.ID {
		return nil, fmt.Errorf("%w: key %s owned by %s", ErrInvalidSignature, keyID, pk.Owner)
	}
	return ParsePublicKey(pk.PublicKeyPem)
}
