package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/translate"
)

const feedLength = 20

// ActorDirectory looks up local accounts.
type ActorDirectory interface {
	LocalActor(ctx context.Context, nickname string) (*domain.Actor, error)
}

// FeedSource reads an actor's recent ledger entries.
type FeedSource interface {
	ActorDirectory
	RecentActivities(ctx context.Context, actorID string, limit int) ([]domain.Activity, error)
	NoteByID(ctx context.Context, id string) (*domain.Note, error)
}

// ActorHandler serves actor documents and Atom feeds of local accounts.
type ActorHandler struct {
	ledger     FeedSource
	translator *translate.Translator
	hubURL     string
	logger     *slog.Logger
}

func NewActorHandler(ledger FeedSource, translator *translate.Translator, hubURL string, logger *slog.Logger) *ActorHandler {
	return &ActorHandler{ledger: ledger, translator: translator, hubURL: hubURL, logger: logger}
}

func (h *ActorHandler) lookup(w http.ResponseWriter, r *http.Request) *domain.Actor {
	actor, err := h.ledger.LocalActor(r.Context(), chi.URLParam(r, "nickname"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to look up actor")
		return nil
	}
	if actor == nil {
		respondError(w, http.StatusNotFound, "no such actor")
		return nil
	}
	return actor
}

// Actor handles GET /users/{nickname}.
func (h *ActorHandler) Actor(w http.ResponseWriter, r *http.Request) {
	actor := h.lookup(w, r)
	if actor == nil {
		return
	}
	doc, err := translate.ActorDocument(actor, actor.PublicKeyPEM)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render actor")
		return
	}
	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// Feed handles GET /users/{nickname}/feed.atom, the WebSub topic of an
// actor. Only notes are rendered.
func (h *ActorHandler) Feed(w http.ResponseWriter, r *http.Request) {
	actor := h.lookup(w, r)
	if actor == nil {
		return
	}

	acts, err := h.ledger.RecentActivities(r.Context(), actor.ID, feedLength)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load activities")
		return
	}

	bundles := make([]translate.Bundle, 0, len(acts))
	updated := actor.UpdatedAt
	for i := range acts {
		a := &acts[i]
		if a.Verb != domain.VerbCreate || a.ObjectType != domain.ObjectNote {
			continue
		}
		note, err := h.ledger.NoteByID(r.Context(), a.ObjectID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load note")
			return
		}
		if note == nil || note.DeletedAt != nil {
			continue
		}
		if a.Published.After(updated) {
			updated = a.Published
		}
		bundles = append(bundles, translate.Bundle{Activity: a, Actor: actor, Note: note})
	}

	feedURL := actor.FeedURL
	if feedURL == "" {
		feedURL = actor.URI + "/feed.atom"
	}
	body, err := h.translator.ToExternalFeed(translate.Feed{
		ID:      feedURL,
		Title:   actor.Nickname + " timeline",
		Author:  actor,
		Self:    feedURL,
		Hub:     h.hubURL,
		Updated: updated,
	}, bundles)
	if err != nil {
		h.logger.Error("failed to render feed", "actor", actor.URI, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to render feed")
		return
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	if h.hubURL != "" {
		w.Header().Add("Link", "<"+h.hubURL+">; rel=\"hub\"")
	}
	w.Header().Add("Link", "<"+feedURL+">; rel=\"self\"")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
