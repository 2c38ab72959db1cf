package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/translate"
)

var ErrNoSigningKey = errors.New("actor has no signing key")

const keyBits = 2048

// InTx runs fn with a transaction-bound ledger as the translator's
// repository.
func (s *PostgresStore) InTx(ctx context.Context, fn func(translate.Repository) error) error {
	return s.InLedgerTx(ctx, func(l *Ledger) error { return fn(l) })
}

// SigningKey loads the key a local actor signs outgoing requests with.
func (s *PostgresStore) SigningKey(ctx context.Context, actorURI string) (string, *rsa.PrivateKey, error) {
	l := s.Ledger()
	actor, err := l.ActorByURI(ctx, actorURI)
	if err != nil {
		return "", nil, err
	}
	if actor == nil || !actor.IsLocal {
		return "", nil, fmt.Errorf("%w: %s", ErrNoSigningKey, actorURI)
	}
	k, err := l.ActorKey(ctx, actor.ID)
	if err != nil {
		return "", nil, err
	}
	if k == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrNoSigningKey, actorURI)
	}
	key, err := httpsig.ParsePrivateKey(k.PrivateKeyPEM)
	if err != nil {
		return "", nil, err
	}
	return k.KeyID, key, nil
}

// LocalActorURIs derives the endpoints of a local account under baseURL.
func LocalActorURIs(baseURL, nickname string) *domain.Actor {
	base := strings.TrimRight(baseURL, "/")
	uri := base + "/users/" + nickname
	return &domain.Actor{
		URI:         uri,
		Nickname:    nickname,
		ProfileURL:  uri,
		Inbox:       uri + "/inbox",
		SharedInbox: base + "/inbox",
		Outbox:      uri + "/outbox",
		Followers:   uri + "/followers",
		Following:   uri + "/following",
		FeedURL:     uri + "/feed.atom",
		IsLocal:     true,
	}
}

// CreateLocalActor registers a local account and generates its key pair.
func (s *PostgresStore) CreateLocalActor(ctx context.Context, baseURL, nickname, displayName string) (*domain.Actor, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	privPEM, pubPEM, err := httpsig.EncodeKeyPair(key)
	if err != nil {
		return nil, err
	}

	actor := LocalActorURIs(baseURL, nickname)
	actor.DisplayName = displayName
	actor.PublicKeyPEM = pubPEM

	err = s.InLedgerTx(ctx, func(l *Ledger) error {
		existing, err := l.LocalActor(ctx, nickname)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("local actor %q already exists", nickname)
		}
		if err := l.InsertActor(ctx, actor); err != nil {
			return err
		}
		return l.InsertActorKey(ctx, &domain.ActorKey{
			ActorID:       actor.ID,
			KeyID:         translate.KeyID(actor.URI),
			PrivateKeyPEM: privPEM,
			PublicKeyPEM:  pubPEM,
		})
	})
	if err != nil {
		return nil, err
	}
	return actor, nil
}
