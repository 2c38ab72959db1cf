package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Priya8975/federation-engine/internal/domain"
)

func setupTestPublisher(t *testing.T) (*Publisher, *memLedger, *fakeQueue) {
	t.Helper()

	ledger := newMemLedger()
	alice := &domain.Actor{
		URI:       aliceURI,
		Nickname:  "alice",
		Inbox:     aliceURI + "/inbox",
		Followers: aliceURI + "/followers",
		FeedURL:   aliceURI + "/feed.atom",
		IsLocal:   true,
	}
	if err := ledger.InsertActor(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	ledger.inboxes[alice.ID] = []string{"https://remote.example/inbox", "https://other.example/users/carol/inbox"}

	q := &fakeQueue{}
	p := NewPublisher(ledger, ledger, testTranslator(), q, "https://local.example/hub", 4, testLogger())
	return p, ledger, q
}

func TestPublish_RecordsAndQueues(t *testing.T) {
	p, ledger, q := setupTestPublisher(t)

	act, err := p.Publish(context.Background(), "site1", Post{Nickname: "alice", Content: "<p>hello</p>"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if act.Verb != domain.VerbCreate || !act.IsLocal {
		t.Errorf("activity = %+v", act)
	}
	if act.Protocol != domain.ProtocolLocal {
		t.Errorf("protocol = %q, want %q", act.Protocol, domain.ProtocolLocal)
	}
	if !strings.HasPrefix(act.URI, aliceURI+"/activities/") {
		t.Errorf("activity uri = %q", act.URI)
	}

	var note *domain.Note
	for _, n := range ledger.notes {
		note = n
	}
	if note == nil {
		t.Fatal("note was not recorded")
	}
	if note.Content != "<p>hello</p>" || note.Scope != domain.ScopePublic || !note.IsLocal {
		t.Errorf("note = %+v", note)
	}

	distrib := q.byHandler(HandlerHubDistrib)
	if len(distrib) != 1 {
		t.Fatalf("expected 1 distribution, got %d", len(distrib))
	}
	task := distrib[0].payload.(DistribTask)
	if task.Topic != aliceURI+"/feed.atom" {
		t.Errorf("topic = %q", task.Topic)
	}
	atom := string(task.Atom)
	for _, want := range []string{`rel="hub"`, "https://local.example/hub", note.URI} {
		if !strings.Contains(atom, want) {
			t.Errorf("feed is missing %q", want)
		}
	}

	deliveries := q.byHandler(HandlerDeliver)
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		dt := d.payload.(DeliverTask)
		if dt.ActorURI != aliceURI || dt.Retries != 4 || d.site != "site1" {
			t.Errorf("delivery = %+v on %s", dt, d.site)
		}
		if !strings.Contains(string(dt.Body), act.URI) {
			t.Errorf("delivery body does not carry the activity")
		}
	}
}

func TestPublish_DirectSkipsDelivery(t *testing.T) {
	p, _, q := setupTestPublisher(t)

	if _, err := p.Publish(context.Background(), "site1", Post{Nickname: "alice", Content: "psst", Scope: domain.ScopeDirect}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := len(q.byHandler(HandlerDeliver)); n != 0 {
		t.Errorf("expected no deliveries, got %d", n)
	}
}

func TestPublish_Reply(t *testing.T) {
	p, ledger, _ := setupTestPublisher(t)

	_, err := p.Publish(context.Background(), "site1", Post{Nickname: "alice", Content: "agreed", InReplyTo: "https://remote.example/notes/9"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, n := range ledger.notes {
		if n.InReplyTo != "https://remote.example/notes/9" {
			t.Errorf("in_reply_to = %q", n.InReplyTo)
		}
	}
}

func TestPublish_UnknownActor(t *testing.T) {
	p, _, q := setupTestPublisher(t)

	_, err := p.Publish(context.Background(), "site1", Post{Nickname: "nobody", Content: "x"})
	if !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("err = %v, want ErrUnknownActor", err)
	}
	if len(q.items) != 0 {
		t.Errorf("nothing should be queued")
	}
}
