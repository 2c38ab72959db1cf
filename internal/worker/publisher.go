package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/translate"
)

var ErrUnknownActor = errors.New("unknown local actor")

// Directory answers the lookups publishing needs outside the ledger
// transaction.
type Directory interface {
	LocalActor(ctx context.Context, nickname string) (*domain.Actor, error)
	FollowerInboxes(ctx context.Context, actorID string) ([]string, error)
}

// Post is a new note written by a local actor.
type Post struct {
	Nickname  string
	Content   string
	InReplyTo string
	Scope     domain.Scope
}

// Publisher records local notes and queues their federation.
type Publisher struct {
	dir        Directory
	ledger     TxRunner
	translator *translate.Translator
	queue      Enqueuer

	hubURL         string
	deliverRetries int
	logger         *slog.Logger
	now            func() time.Time
}

// NewPublisher creates a publisher. hubURL is advertised in pushed feeds.
func NewPublisher(dir Directory, ledger TxRunner, translator *translate.Translator, q Enqueuer, hubURL string, deliverRetries int, logger *slog.Logger) *Publisher {
	return &Publisher{
		dir:            dir,
		ledger:         ledger,
		translator:     translator,
		queue:          q,
		hubURL:         hubURL,
		deliverRetries: deliverRetries,
		logger:         logger,
		now:            time.Now,
	}
}

// Publish stores p through the same import path remote activities take,
// then queues a WebSub distribution of the actor's feed and one signed
// delivery per follower inbox.
func (p *Publisher) Publish(ctx context.Context, site string, post Post) (*domain.Activity, error) {
	actor, err := p.dir.LocalActor(ctx, post.Nickname)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, post.Nickname)
	}

	now := p.now().UTC().Truncate(time.Second)
	id := uuid.New().String()
	base := strings.TrimRight(actor.URI, "/")
	scope := post.Scope
	if scope == domain.ScopeNone {
		scope = domain.ScopePublic
	}
	bundle := translate.Bundle{
		Activity: &domain.Activity{
			URI:       base + "/activities/" + id,
			Verb:      domain.VerbCreate,
			Published: now,
		},
		Actor: actor,
		Note: &domain.Note{
			URI:       base + "/notes/" + id,
			URL:       base + "/notes/" + id,
			Content:   post.Content,
			InReplyTo: post.InReplyTo,
			Scope:     scope,
			Published: now,
			IsLocal:   true,
		},
	}

	body, err := p.translator.ToExternal(bundle, domain.ProtocolActivityPub)
	if err != nil {
		return nil, err
	}

	var act *domain.Activity
	err = p.ledger.InTx(ctx, func(repo translate.Repository) error {
		var err error
		act, err = p.translator.FromExternal(ctx, repo,
			translate.Payload{Format: translate.FormatActivityPub, Body: body},
			translate.Context{Sender: actor.URI, Provenance: translate.ProvenanceLocal, Protocol: domain.ProtocolLocal},
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("recording note: %w", err)
	}

	if err := p.distribute(ctx, site, actor, bundle, now); err != nil {
		return act, err
	}
	if scope != domain.ScopeDirect {
		if err := p.deliver(ctx, site, actor, body); err != nil {
			return act, err
		}
	}

	p.logger.Info("note published",
		"actor", actor.URI,
		"activity", act.URI,
		"scope", scope,
	)
	return act, nil
}

func (p *Publisher) distribute(ctx context.Context, site string, actor *domain.Actor, b translate.Bundle, now time.Time) error {
	if actor.FeedURL == "" {
		return nil
	}
	atom, err := p.translator.ToExternalFeed(translate.Feed{
		ID:      actor.FeedURL,
		Title:   actor.Nickname + " timeline",
		Author:  actor,
		Self:    actor.FeedURL,
		Hub:     p.hubURL,
		Updated: now,
	}, []translate.Bundle{b})
	if err != nil {
		return err
	}
	return p.queue.Enqueue(ctx, DistribTask{Topic: actor.FeedURL, Atom: atom}, HandlerHubDistrib, site)
}

func (p *Publisher) deliver(ctx context.Context, site string, actor *domain.Actor, body []byte) error {
	inboxes, err := p.dir.FollowerInboxes(ctx, actor.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, inbox := range inboxes {
		task := DeliverTask{Inbox: inbox, Body: body, ActorURI: actor.URI, Retries: p.deliverRetries}
		if err := p.queue.Enqueue(ctx, task, HandlerDeliver, site); err != nil {
			errs = append(errs, fmt.Errorf("enqueueing delivery to %s: %w", inbox, err))
		}
	}
	return errors.Join(errs...)
}
