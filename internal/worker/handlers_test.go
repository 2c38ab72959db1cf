package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
)

const topic = "https://local.example/users/alice/feed.atom"

func setupTestHandlers(t *testing.T, hub *fakeHub) (*Handlers, *fakeQueue, *memLedger, *recordingEvents) {
	t.Helper()

	q := &fakeQueue{}
	ledger := newMemLedger()
	events := &recordingEvents{}
	h := NewHandlers(Deps{
		Queue:       q,
		Hub:         hub,
		Ledger:      ledger,
		Translator:  testTranslator(),
		Events:      events,
		PushRetries: 3,
		Logger:      testLogger(),
	})
	return h, q, ledger, events
}

func TestRegister_BindsEveryHandler(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t, newFakeHub())
	reg := queue.NewHandlerRegistry()
	h.Register(reg)

	want := []string{HandlerDeliver, HandlerInbox, HandlerHubDistrib, HandlerHubOut, HandlerHubVerify}
	slices.Sort(want)
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Errorf("registered %v, want %v", got, want)
	}
	if g := reg.Group(HandlerHubOut); g != GroupOutbound {
		t.Errorf("hubout group = %q, want %q", g, GroupOutbound)
	}
	if g := reg.Group(HandlerInbox); g != GroupMain {
		t.Errorf("apinbox group = %q, want %q", g, GroupMain)
	}
}

func TestRegisterGroups_DeclaresWithoutHandlers(t *testing.T) {
	reg := queue.NewHandlerRegistry()
	RegisterGroups(reg)

	if names := reg.Names(); len(names) != 0 {
		t.Errorf("expected no implementations, got %v", names)
	}
	if g := reg.Group(HandlerDeliver); g != GroupOutbound {
		t.Errorf("apdeliver group = %q, want %q", g, GroupOutbound)
	}
}

func TestHubDistrib_FansOutPerSubscriber(t *testing.T) {
	hub := newFakeHub(
		domain.Subscription{Topic: topic, Callback: "https://a.example/cb"},
		domain.Subscription{Topic: topic, Callback: "https://b.example/cb"},
		domain.Subscription{Topic: "https://other.example/feed", Callback: "https://c.example/cb"},
	)
	h, q, _, _ := setupTestHandlers(t, hub)

	env := envelope(t, HandlerHubDistrib, DistribTask{Topic: topic, Atom: []byte("<feed/>")})
	if err := h.HubDistrib(siteCtx(), env); err != nil {
		t.Fatalf("HubDistrib: %v", err)
	}

	pushes := q.byHandler(HandlerHubOut)
	if len(pushes) != 2 {
		t.Fatalf("expected 2 push tasks, got %d", len(pushes))
	}
	var callbacks []string
	for _, p := range pushes {
		task := p.payload.(PushTask)
		callbacks = append(callbacks, task.Callback)
		if task.Retries != 3 {
			t.Errorf("retries = %d, want 3", task.Retries)
		}
		if string(task.Atom) != "<feed/>" {
			t.Errorf("atom = %q", task.Atom)
		}
		if p.site != "site1" {
			t.Errorf("site = %q, want site1", p.site)
		}
	}
	slices.Sort(callbacks)
	if !slices.Equal(callbacks, []string{"https://a.example/cb", "https://b.example/cb"}) {
		t.Errorf("callbacks = %v", callbacks)
	}
}

func TestHubDistrib_NoSubscribers(t *testing.T) {
	h, q, _, _ := setupTestHandlers(t, newFakeHub())

	env := envelope(t, HandlerHubDistrib, DistribTask{Topic: topic})
	if err := h.HubDistrib(siteCtx(), env); err != nil {
		t.Fatalf("HubDistrib: %v", err)
	}
	if len(q.items) != 0 {
		t.Errorf("expected nothing queued, got %d", len(q.items))
	}
}

func TestHubOut_Success(t *testing.T) {
	hub := newFakeHub(domain.Subscription{Topic: topic, Callback: "https://a.example/cb"})
	h, q, _, events := setupTestHandlers(t, hub)

	env := envelope(t, HandlerHubOut, PushTask{Topic: topic, Callback: "https://a.example/cb", Atom: []byte("x"), Retries: 2})
	if err := h.HubOut(siteCtx(), env); err != nil {
		t.Fatalf("HubOut: %v", err)
	}
	if len(hub.pushed) != 1 {
		t.Fatalf("expected 1 push, got %d", len(hub.pushed))
	}
	if len(q.items) != 0 {
		t.Errorf("success should not requeue")
	}
	if got := events.types(); !slices.Equal(got, []string{monitor.EventPushSucceeded}) {
		t.Errorf("events = %v", got)
	}
}

func TestHubOut_FailureRetries(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		pushErr   error
		wantQueue bool
	}{
		{"retries left", 2, &websub.StatusError{Code: 500}, true},
		{"rate limited", 1, websub.ErrRateLimited, true},
		{"exhausted", 0, &websub.StatusError{Code: 500}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newFakeHub(domain.Subscription{Topic: topic, Callback: "https://a.example/cb"})
			hub.pushErr = tt.pushErr
			h, q, _, events := setupTestHandlers(t, hub)

			env := envelope(t, HandlerHubOut, PushTask{Topic: topic, Callback: "https://a.example/cb", Retries: tt.retries})
			if err := h.HubOut(siteCtx(), env); err != nil {
				t.Fatalf("HubOut: %v", err)
			}

			requeued := q.byHandler(HandlerHubOut)
			if !tt.wantQueue {
				if len(requeued) != 0 {
					t.Errorf("expected no requeue, got %d", len(requeued))
				}
				return
			}
			if len(requeued) != 1 {
				t.Fatalf("expected 1 requeue, got %d", len(requeued))
			}
			if got := requeued[0].payload.(PushTask).Retries; got != tt.retries-1 {
				t.Errorf("retries = %d, want %d", got, tt.retries-1)
			}
			if got := events.types(); !slices.Equal(got, []string{monitor.EventPushFailed}) {
				t.Errorf("events = %v", got)
			}
		})
	}
}

func TestHubOut_SubscriptionGone(t *testing.T) {
	hub := newFakeHub()
	h, q, _, _ := setupTestHandlers(t, hub)

	env := envelope(t, HandlerHubOut, PushTask{Topic: topic, Callback: "https://gone.example/cb", Retries: 3})
	if err := h.HubOut(siteCtx(), env); err != nil {
		t.Fatalf("HubOut: %v", err)
	}
	if len(hub.pushed) != 0 || len(q.items) != 0 {
		t.Errorf("expected the push to be dropped")
	}
}

func TestHubOut_RequeueFailureIsReturned(t *testing.T) {
	hub := newFakeHub(domain.Subscription{Topic: topic, Callback: "https://a.example/cb"})
	hub.pushErr = errors.New("connection refused")
	h, q, _, _ := setupTestHandlers(t, hub)
	q.err = errors.New("broker down")

	env := envelope(t, HandlerHubOut, PushTask{Topic: topic, Callback: "https://a.example/cb", Retries: 1})
	if err := h.HubOut(siteCtx(), env); err == nil {
		t.Fatal("expected an error so the broker redelivers")
	}
}

func TestHubVerify(t *testing.T) {
	tests := []struct {
		name      string
		task      VerifyTask
		verifyErr error
		wantErr   bool
	}{
		{"subscribe", VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb", Secret: "s", LeaseSeconds: 86400}, nil, false},
		{"unsubscribe", VerifyTask{Mode: websub.ModeUnsubscribe, Topic: topic, Callback: "https://a.example/cb"}, nil, false},
		{"not confirmed", VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb"}, fmt.Errorf("%w: status 404", websub.ErrVerificationFailed), false},
		{"challenge mismatch", VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb"}, websub.ErrChallengeMismatch, false},
		{"callback unreachable", VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb"}, fmt.Errorf("%w: dial tcp: connect: connection refused", websub.ErrCallbackUnreachable), true},
		{"unsubscribe unreachable", VerifyTask{Mode: websub.ModeUnsubscribe, Topic: topic, Callback: "https://a.example/cb"}, fmt.Errorf("%w: i/o timeout", websub.ErrCallbackUnreachable), true},
		{"storage failure", VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb"}, errors.New("storing subscription: conn reset"), true},
		{"unknown mode", VerifyTask{Mode: "publish", Topic: topic, Callback: "https://a.example/cb"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newFakeHub()
			hub.verifyErr = tt.verifyErr
			h, _, _, _ := setupTestHandlers(t, hub)

			err := h.HubVerify(siteCtx(), envelope(t, HandlerHubVerify, tt.task))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHubVerify_PassesSubscribeParameters(t *testing.T) {
	hub := newFakeHub()
	h, _, _, _ := setupTestHandlers(t, hub)

	task := VerifyTask{Mode: websub.ModeSubscribe, Topic: topic, Callback: "https://a.example/cb", Secret: "s3cret", LeaseSeconds: 7200}
	if err := h.HubVerify(siteCtx(), envelope(t, HandlerHubVerify, task)); err != nil {
		t.Fatalf("HubVerify: %v", err)
	}
	want := subscribeCall{topic, "https://a.example/cb", "s3cret", 7200}
	if len(hub.subscribed) != 1 || hub.subscribed[0] != want {
		t.Errorf("subscribe calls = %+v, want [%+v]", hub.subscribed, want)
	}
}

const bobURI = "https://remote.example/users/bob"

func remoteCreate(id, actor string) []byte {
	return []byte(fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"type": "Create",
		"id": "https://remote.example/activities/%[1]s",
		"actor": %[2]q,
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {
			"type": "Note",
			"id": "https://remote.example/notes/%[1]s",
			"attributedTo": %[2]q,
			"content": "hello from afar",
			"to": ["https://www.w3.org/ns/activitystreams#Public"]
		}
	}`, id, actor))
}

func addBob(t *testing.T, l *memLedger) {
	t.Helper()
	bob := &domain.Actor{URI: bobURI, Nickname: "bob", Inbox: bobURI + "/inbox"}
	if err := l.InsertActor(context.Background(), bob); err != nil {
		t.Fatal(err)
	}
}

func TestInbox_ImportsActivity(t *testing.T) {
	h, _, ledger, events := setupTestHandlers(t, newFakeHub())
	addBob(t, ledger)

	env := envelope(t, HandlerInbox, InboxTask{Body: remoteCreate("1", bobURI), Format: translate.FormatActivityPub, Sender: bobURI})
	if err := h.Inbox(siteCtx(), env); err != nil {
		t.Fatalf("Inbox: %v", err)
	}

	act := ledger.activities["https://remote.example/activities/1"]
	if act == nil {
		t.Fatal("activity was not recorded")
	}
	if act.IsLocal {
		t.Error("remote activity recorded as local")
	}
	note := ledger.notes["https://remote.example/notes/1"]
	if note == nil || note.Content != "hello from afar" {
		t.Fatalf("note = %+v", note)
	}
	if got := events.types(); !slices.Equal(got, []string{monitor.EventInbox}) {
		t.Errorf("events = %v", got)
	}
}

func TestInbox_DropsClientFaults(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		sender string
	}{
		{"sender mismatch", remoteCreate("2", bobURI), "https://evil.example/users/mallory"},
		{"malformed", []byte(`{not json`), bobURI},
		{"unsupported verb", []byte(`{"type":"Block","id":"https://remote.example/b/1","actor":"https://remote.example/users/bob","object":"https://local.example/u"}`), bobURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, ledger, _ := setupTestHandlers(t, newFakeHub())
			addBob(t, ledger)

			env := envelope(t, HandlerInbox, InboxTask{Body: tt.body, Sender: tt.sender})
			if err := h.Inbox(siteCtx(), env); err != nil {
				t.Fatalf("client faults must not requeue, got %v", err)
			}
			if len(ledger.activities) != 0 {
				t.Errorf("expected nothing recorded, got %d activities", len(ledger.activities))
			}
		})
	}
}

func TestInbox_StorageFailureRequeues(t *testing.T) {
	h, _, ledger, _ := setupTestHandlers(t, newFakeHub())
	ledger.txErr = errors.New("database unavailable")

	env := envelope(t, HandlerInbox, InboxTask{Body: remoteCreate("3", bobURI), Sender: bobURI})
	if err := h.Inbox(siteCtx(), env); err == nil {
		t.Fatal("expected an error so the task is requeued")
	}
}

func TestInbox_Idempotent(t *testing.T) {
	h, _, ledger, _ := setupTestHandlers(t, newFakeHub())
	addBob(t, ledger)

	env := envelope(t, HandlerInbox, InboxTask{Body: remoteCreate("4", bobURI), Sender: bobURI})
	for i := 0; i < 2; i++ {
		if err := h.Inbox(siteCtx(), env); err != nil {
			t.Fatalf("Inbox #%d: %v", i+1, err)
		}
	}
	if len(ledger.activities) != 1 || len(ledger.notes) != 1 {
		t.Errorf("redelivery duplicated entries: %d activities, %d notes", len(ledger.activities), len(ledger.notes))
	}
}
