package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTranslator() *translate.Translator {
	return translate.New(streams.NewRegistry(), nil, testLogger())
}

// envelope round-trips payload through the wire encoding the way the
// queue manager hands it to a handler.
func envelope(t *testing.T, handler string, payload any) *queue.Envelope {
	t.Helper()
	body, err := queue.Encode("site1", handler, payload)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	env, err := queue.Decode(body)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	return env
}

func siteCtx() context.Context {
	return queue.WithSite(context.Background(), "site1")
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
	q.items = append(q.items, queued{payload: payload, handler: handler, site: site})
	return nil
}

func (q *fakeQueue) byHandler(handler string) []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queued
	for _, it := range q.items {
		if it.handler == handler {
			out = append(out, it)
		}
	}
	return out
}

type subscribeCall struct {
	topic, callback, secret string
	lease                   int64
}

type fakeHub struct {
	mu         sync.Mutex
	subs       map[string]*domain.Subscription
	pushErr    error
	verifyErr  error
	pushed     []string
	subscribed []subscribeCall
	removed    []string
}

func newFakeHub(subs ...domain.Subscription) *fakeHub {
	h := &fakeHub{subs: make(map[string]*domain.Subscription)}
	for i := range subs {
		s := subs[i]
		h.subs[domain.HashKey(s.Topic, s.Callback)] = &s
	}
	return h
}

func (h *fakeHub) Subscribe(_ context.Context, topic, callback, secret string, lease int64) (*domain.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed = append(h.subscribed, subscribeCall{topic, callback, secret, lease})
	if h.verifyErr != nil {
		return nil, h.verifyErr
	}
	s := &domain.Subscription{Topic: topic, Callback: callback, Secret: secret}
	h.subs[domain.HashKey(topic, callback)] = s
	return s, nil
}

func (h *fakeHub) Unsubscribe(_ context.Context, topic, callback string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.verifyErr != nil {
		return h.verifyErr
	}
	delete(h.subs, domain.HashKey(topic, callback))
	h.removed = append(h.removed, callback)
	return nil
}

func (h *fakeHub) Get(_ context.Context, topic, callback string) (*domain.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[domain.HashKey(topic, callback)], nil
}

func (h *fakeHub) Subscribers(_ context.Context, topic string) ([]domain.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.Subscription
	for _, s := range h.subs {
		if s.Topic == topic {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (h *fakeHub) Push(_ context.Context, sub *domain.Subscription, _ []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushed = append(h.pushed, sub.Callback)
	return h.pushErr
}

var _ Hub = (*websub.Manager)(nil)

// memLedger is an in-memory ledger for handler tests.
type memLedger struct {
	mu         sync.Mutex
	seq        int
	actors     map[string]*domain.Actor
	notes      map[string]*domain.Note
	activities map[string]*domain.Activity
	follows    map[[2]string]*domain.Follow
	inboxes    map[string][]string
	txErr      error
}

func newMemLedger() *memLedger {
	return &memLedger{
		actors:     make(map[string]*domain.Actor),
		notes:      make(map[string]*domain.Note),
		activities: make(map[string]*domain.Activity),
		follows:    make(map[[2]string]*domain.Follow),
		inboxes:    make(map[string][]string),
	}
}

func (l *memLedger) InTx(_ context.Context, fn func(translate.Repository) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txErr != nil {
		return l.txErr
	}
	return fn(l)
}

func (l *memLedger) nextID() string {
	l.seq++
	return fmt.Sprintf("id-%d", l.seq)
}

func (l *memLedger) ActivityByURI(_ context.Context, uri string) (*domain.Activity, error) {
	return l.activities[uri], nil
}

func (l *memLedger) ActorByURI(_ context.Context, uri string) (*domain.Actor, error) {
	return l.actors[uri], nil
}

func (l *memLedger) NoteByURI(_ context.Context, uri string) (*domain.Note, error) {
	return l.notes[uri], nil
}

func (l *memLedger) InsertActor(_ context.Context, a *domain.Actor) error {
	if a.ID == "" {
		a.ID = l.nextID()
	}
	l.actors[a.URI] = a
	return nil
}

func (l *memLedger) InsertNote(_ context.Context, n *domain.Note) error {
	n.ID = l.nextID()
	l.notes[n.URI] = n
	return nil
}

func (l *memLedger) InsertActivity(_ context.Context, a *domain.Activity) error {
	a.ID = l.nextID()
	l.activities[a.URI] = a
	return nil
}

func (l *memLedger) InsertFollow(_ context.Context, f *domain.Follow) error {
	l.follows[[2]string{f.FollowerID, f.FollowedID}] = f
	return nil
}

func (l *memLedger) DeleteFollow(_ context.Context, followerID, followedID string) (bool, error) {
	key := [2]string{followerID, followedID}
	_, ok := l.follows[key]
	delete(l.follows, key)
	return ok, nil
}

func (l *memLedger) TombstoneNote(_ context.Context, noteID string, at time.Time) error {
	for _, n := range l.notes {
		if n.ID == noteID {
			n.DeletedAt = &at
		}
	}
	return nil
}

func (l *memLedger) LocalActor(_ context.Context, nickname string) (*domain.Actor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.actors {
		if a.IsLocal && a.Nickname == nickname {
			return a, nil
		}
	}
	return nil, nil
}

func (l *memLedger) FollowerInboxes(_ context.Context, actorID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inboxes[actorID], nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (r *recordingEvents) Publish(ev monitor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
