package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/store"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
	"github.com/Priya8975/federation-engine/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type queued struct {
	payload any
	handler string
	site    string
}

type fakeQueue struct {
	mu    sync.Mutex
	items []queued
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, payload any, handler, site string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, queued{payload, handler, site})
	return nil
}

// fakeVerifier accepts any request carrying a Signature header and
// attributes it to keyID.
type fakeVerifier struct {
	keyID string
}

func (v *fakeVerifier) VerifyRequest(_ context.Context, r *http.Request, _ []byte) (string, error) {
	if r.Header.Get("Signature") == "" {
		return "", httpsig.ErrMissingSignature
	}
	if r.Header.Get("Signature") == "bad" {
		return v.keyID, httpsig.ErrInvalidSignature
	}
	return v.keyID, nil
}

type fakeLedger struct {
	actors     map[string]*domain.Actor
	activities map[string][]domain.Activity
	notes      map[string]*domain.Note
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		actors:     make(map[string]*domain.Actor),
		activities: make(map[string][]domain.Activity),
		notes:      make(map[string]*domain.Note),
	}
}

func (l *fakeLedger) LocalActor(_ context.Context, nickname string) (*domain.Actor, error) {
	return l.actors[nickname], nil
}

func (l *fakeLedger) RecentActivities(_ context.Context, actorID string, limit int) ([]domain.Activity, error) {
	acts := l.activities[actorID]
	if len(acts) > limit {
		acts = acts[:limit]
	}
	return acts, nil
}

func (l *fakeLedger) NoteByID(_ context.Context, id string) (*domain.Note, error) {
	return l.notes[id], nil
}

type fakeDeadLetters struct {
	letters  map[string]*domain.DeadLetter
	resolved map[string]string
}

func (f *fakeDeadLetters) ListDeadLetters(_ context.Context, handler string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	out := []domain.DeadLetter{}
	for _, dl := range f.letters {
		if handler != "" && dl.Handler != handler {
			continue
		}
		if (dl.ResolvedAt != nil) != resolved {
			continue
		}
		out = append(out, *dl)
	}
	return out, nil
}

func (f *fakeDeadLetters) GetDeadLetter(_ context.Context, id string) (*domain.DeadLetter, error) {
	return f.letters[id], nil
}

func (f *fakeDeadLetters) ResolveDeadLetter(_ context.Context, id, resolvedBy string) error {
	dl, ok := f.letters[id]
	if !ok || dl.ResolvedAt != nil {
		return store.ErrDeadLetterNotFound
	}
	now := time.Now()
	dl.ResolvedAt = &now
	dl.ResolvedBy = &resolvedBy
	f.resolved[id] = resolvedBy
	return nil
}

type fakeStats struct{}

func (fakeStats) GetFederationStats(context.Context) (*store.FederationStats, error) {
	return &store.FederationStats{Subscriptions: 3, ErroringSubscribers: 1, Topics: 2}, nil
}

type fakeSubs struct {
	subs []domain.Subscription
}

func (f *fakeSubs) ListSubscriptions(_ context.Context, limit, offset int) ([]domain.Subscription, error) {
	if offset >= len(f.subs) {
		return []domain.Subscription{}, nil
	}
	end := min(offset+limit, len(f.subs))
	return f.subs[offset:end], nil
}

func (f *fakeSubs) ListTopics(context.Context) ([]string, error) {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range f.subs {
		if !seen[s.Topic] {
			seen[s.Topic] = true
			out = append(out, s.Topic)
		}
	}
	return out, nil
}

type fakePublisher struct {
	posts []worker.Post
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, post worker.Post) (*domain.Activity, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.posts = append(p.posts, post)
	return &domain.Activity{URI: "https://local.example/activities/1", Verb: domain.VerbCreate, IsLocal: true}, nil
}

const localFeed = "https://local.example/users/alice/feed.atom"

type testEnv struct {
	handler   http.Handler
	queue     *fakeQueue
	ledger    *fakeLedger
	dead      *fakeDeadLetters
	publisher *fakePublisher
}

func setupTestRouter() *testEnv {
	env := &testEnv{
		queue:     &fakeQueue{},
		ledger:    newFakeLedger(),
		dead:      &fakeDeadLetters{letters: map[string]*domain.DeadLetter{}, resolved: map[string]string{}},
		publisher: &fakePublisher{},
	}
	alice := &domain.Actor{
		ID:           "a1",
		URI:          "https://local.example/users/alice",
		Nickname:     "alice",
		Inbox:        "https://local.example/users/alice/inbox",
		Followers:    "https://local.example/users/alice/followers",
		FeedURL:      localFeed,
		PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----\n",
		IsLocal:      true,
	}
	env.ledger.actors["alice"] = alice

	registry := streams.NewRegistry()
	env.handler = NewRouter(Deps{
		Queue: env.queue,
		Interest: websub.InterestFunc(func(_ context.Context, topic string) (bool, error) {
			return topic == localFeed, nil
		}),
		Verifier:      &fakeVerifier{keyID: "https://remote.example/users/bob#main-key"},
		Registry:      registry,
		Translator:    translate.New(registry, nil, testLogger()),
		Ledger:        env.ledger,
		Publisher:     env.publisher,
		Subscriptions: &fakeSubs{},
		DeadLetters:   env.dead,
		Stats:         fakeStats{},
		Site:          "main",
		HubURL:        "https://local.example/hub",
		Logger:        testLogger(),
	})
	return env
}
