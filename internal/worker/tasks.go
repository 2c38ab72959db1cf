// Package worker holds the queue handlers that carry out federation work:
// WebSub fan-out, content pushes, intent verification, inbox processing and
// signed ActivityPub delivery.
package worker

import (
	"context"
	"log/slog"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
)

// Handler names as they appear in queue envelopes.
const (
	HandlerHubDistrib = "hubdistrib"
	HandlerHubOut     = "hubout"
	HandlerHubVerify  = "hubverify"
	HandlerInbox      = "apinbox"
	HandlerDeliver    = "apdeliver"
)

// Channel groups. Outbound pushes get their own group so a slow subscriber
// backlog does not hold up inbox processing.
const (
	GroupMain     = queue.DefaultGroup
	GroupOutbound = "outbound"
)

// DistribTask fans a feed update out to every subscriber of Topic.
type DistribTask struct {
	Topic string `cbor:"topic"`
	Atom  []byte `cbor:"atom"`
}

// PushTask delivers one feed update to one subscriber.
type PushTask struct {
	Topic    string `cbor:"topic"`
	Callback string `cbor:"callback"`
	Atom     []byte `cbor:"atom"`
	Retries  int    `cbor:"retries"`
}

// VerifyTask runs the intent handshake for a hub request.
type VerifyTask struct {
	Mode         websub.Mode `cbor:"mode"`
	Topic        string      `cbor:"topic"`
	Callback     string      `cbor:"callback"`
	Secret       string      `cbor:"secret,omitempty"`
	LeaseSeconds int64       `cbor:"lease_seconds,omitempty"`
	VerifyToken  string      `cbor:"verify_token,omitempty"`
}

// InboxTask is an inbound document accepted by an inbox endpoint.
type InboxTask struct {
	Body   []byte           `cbor:"body"`
	Format translate.Format `cbor:"format"`
	Sender string           `cbor:"sender,omitempty"`
}

// DeliverTask sends a signed activity to one remote inbox.
type DeliverTask struct {
	Inbox    string `cbor:"inbox"`
	Body     []byte `cbor:"body"`
	ActorURI string `cbor:"actor"`
	Retries  int    `cbor:"retries"`
}

// Enqueuer places tasks on the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, handler, site string) error
}

// Hub is the WebSub subscription manager as the handlers use it.
type Hub interface {
	Subscribe(ctx context.Context, topic, callback, secret string, leaseSeconds int64) (*domain.Subscription, error)
	Unsubscribe(ctx context.Context, topic, callback string) error
	Get(ctx context.Context, topic, callback string) (*domain.Subscription, error)
	Subscribers(ctx context.Context, topic string) ([]domain.Subscription, error)
	Push(ctx context.Context, sub *domain.Subscription, body []byte) error
}

// TxRunner runs fn inside one ledger transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(translate.Repository) error) error
}

// Events receives progress notifications for the live monitor.
type Events interface {
	Publish(ev monitor.Event)
}

type noEvents struct{}

func (noEvents) Publish(monitor.Event) {}

// Handlers implements the federation queue handlers.
type Handlers struct {
	queue      Enqueuer
	hub        Hub
	ledger     TxRunner
	translator *translate.Translator
	deliverer  *Deliverer
	events     Events

	pushRetries int
	logger      *slog.Logger
}

// Deps are the collaborators of Handlers. Events is optional.
type Deps struct {
	Queue       Enqueuer
	Hub         Hub
	Ledger      TxRunner
	Translator  *translate.Translator
	Deliverer   *Deliverer
	Events      Events
	PushRetries int
	Logger      *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		queue:       d.Queue,
		hub:         d.Hub,
		ledger:      d.Ledger,
		translator:  d.Translator,
		deliverer:   d.Deliverer,
		events:      d.Events,
		pushRetries: d.PushRetries,
		logger:      d.Logger,
	}
	if h.events == nil {
		h.events = noEvents{}
	}
	return h
}

// Register binds every handler into reg under its channel group.
func (h *Handlers) Register(reg *queue.HandlerRegistry) {
	reg.Register(HandlerHubDistrib, GroupMain, queue.HandlerFunc(h.HubDistrib))
	reg.Register(HandlerHubOut, GroupOutbound, queue.HandlerFunc(h.HubOut))
	reg.Register(HandlerHubVerify, GroupMain, queue.HandlerFunc(h.HubVerify))
	reg.Register(HandlerInbox, GroupMain, queue.HandlerFunc(h.Inbox))
	reg.Register(HandlerDeliver, GroupOutbound, queue.HandlerFunc(h.Deliver))
}

// RegisterGroups declares the channel groups without implementations, for
// processes that only enqueue.
func RegisterGroups(reg *queue.HandlerRegistry) {
	reg.Register(HandlerHubDistrib, GroupMain, nil)
	reg.Register(HandlerHubOut, GroupOutbound, nil)
	reg.Register(HandlerHubVerify, GroupMain, nil)
	reg.Register(HandlerInbox, GroupMain, nil)
	reg.Register(HandlerDeliver, GroupOutbound, nil)
}
