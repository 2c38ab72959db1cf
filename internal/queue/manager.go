// Package queue carries federation tasks between processes over a message
// broker: envelope encoding, channel breakout, failover across broker
// servers, redelivery accounting with dead letters, and a control channel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/metrics"
)

var (
	ErrNoBroker       = errors.New("queue: no broker server reachable")
	ErrUnknownHandler = errors.New("queue: unknown handler")
	ErrRestart        = errors.New("queue: restart requested")
	ErrShutdown       = errors.New("queue: shutdown requested")
)

// Connection states.
const (
	StatusConnected    = "connected"
	StatusDead         = "dead"
	StatusReconnecting = "reconnecting"
)

// Connection is one broker session and its health.
type Connection struct {
	Server         string    `json:"server"`
	Status         string    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
	DisconnectedAt time.Time `json:"disconnected_at,omitzero"`

	conn Conn
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithRedeliveryCounter enables the dead-letter threshold.
func WithRedeliveryCounter(c *RedeliveryCounter) Option {
	return func(m *Manager) { m.counter = c }
}

// WithDeadLetterSink stores dead letters in sink.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithSites restricts delivery to known tenants and enables update
// control messages.
func WithSites(s Sites) Option {
	return func(m *Manager) { m.sites = s }
}

// Manager enqueues tasks and runs the delivery loop.
type Manager struct {
	cfg      Config
	dialer   Dialer
	handlers *HandlerRegistry
	breakout *Breakout
	counter  *RedeliveryCounter
	sink     DeadLetterSink
	sites    Sites
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	conns []*Connection
	next  atomic.Uint64
}

// NewManager creates a manager. Call Connect before use.
func NewManager(cfg Config, dialer Dialer, handlers *HandlerRegistry, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		handlers: handlers,
		breakout: NewBreakout(cfg.Base, cfg.Breakout),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// QueueName is the destination for handler's tasks on site.
func (m *Manager) QueueName(handler, site string) string {
	return m.breakout.Destination(m.handlers.Group(handler), handler, site)
}

// Connect opens broker sessions. It fails with ErrNoBroker when no server
// answers. In manual mode unreachable servers are marked dead and retried
// by Run.
func (m *Manager) Connect(ctx context.Context) error {
	if len(m.cfg.Servers) == 0 {
		return fmt.Errorf("%w: no servers configured", ErrNoBroker)
	}

	if m.cfg.Failover == FailoverManual {
		conns := make([]*Connection, 0, len(m.cfg.Servers))
		live := 0
		for _, s := range m.cfg.Servers {
			c := &Connection{Server: s}
			if m.dial(ctx, c, s) == nil {
				live++
			}
			conns = append(conns, c)
		}
		m.mu.Lock()
		m.conns = conns
		m.mu.Unlock()
		if live == 0 {
			return fmt.Errorf("%w: tried %d servers", ErrNoBroker, len(conns))
		}
		return nil
	}

	c := &Connection{}
	if err := m.dialAny(ctx, c); err != nil {
		return err
	}
	m.mu.Lock()
	m.conns = []*Connection{c}
	m.mu.Unlock()
	return nil
}

func (m *Manager) dialAny(ctx context.Context, c *Connection) error {
	servers := append([]string(nil), m.cfg.Servers...)
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	var lastErr error
	for _, s := range servers {
		if lastErr = m.dial(ctx, c, s); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNoBroker, lastErr)
}

func (m *Manager) dial(ctx context.Context, c *Connection, server string) error {
	conn, err := m.dialer.Dial(ctx, server)

	m.mu.Lock()
	defer m.mu.Unlock()
	c.Server = server
	if err != nil {
		c.Status = StatusDead
		c.LastError = err.Error()
		metrics.BrokerUp.WithLabelValues(server).Set(0)
		m.logger.Warn("broker connection failed", "server", server, "error", err)
		return err
	}
	c.conn = conn
	c.Status = StatusConnected
	c.LastError = ""
	metrics.BrokerUp.WithLabelValues(server).Set(1)
	m.logger.Info("broker connected", "server", server)
	return nil
}

// Connections returns a snapshot of every broker session.
func (m *Manager) Connections() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, Connection{Server: c.Server, Status: c.Status, LastError: c.LastError, DisconnectedAt: c.DisconnectedAt})
	}
	return out
}

func (m *Manager) live() []Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conn
	for _, c := range m.conns {
		if c.Status == StatusConnected {
			out = append(out, c.conn)
		}
	}
	return out
}

// pick rotates sends across live sessions.
func (m *Manager) pick() Conn {
	live := m.live()
	if len(live) == 0 {
		return nil
	}
	return live[m.next.Add(1)%uint64(len(live))]
}

// Enqueue sends payload to handler on site, or on the default site when
// site is empty.
func (m *Manager) Enqueue(ctx context.Context, payload any, handler, site string) error {
	if site == "" {
		site = m.cfg.Site
	}
	body, err := Encode(site, handler, payload)
	if err != nil {
		return err
	}
	headers := map[string]string{HeaderCreated: createdHeader(m.now())}
	return m.send(ctx, handler, m.QueueName(handler, site), body, headers)
}

func (m *Manager) send(ctx context.Context, handler, dest string, body []byte, headers map[string]string) error {
	conn := m.pick()
	if conn == nil {
		return ErrNoBroker
	}
	if m.cfg.Persistent.For(handler) {
		headers[HeaderPersistent] = "true"
	}
	if err := conn.Send(ctx, dest, body, headers); err != nil {
		return fmt.Errorf("sending to %s: %w", dest, err)
	}
	metrics.Enqueued.WithLabelValues(handler).Inc()
	m.logger.Debug("task enqueued", "handler", handler, "destination", dest)
	return nil
}

// SendControl broadcasts event, with an optional parameter, to every
// daemon listening on any live server.
func (m *Manager) SendControl(ctx context.Context, event, param string) error {
	msg := event
	if param != "" {
		msg += ":" + param
	}
	live := m.live()
	if len(live) == 0 {
		return ErrNoBroker
	}
	var errs []error
	for _, conn := range live {
		if err := conn.Send(ctx, m.cfg.Control, []byte(msg), map[string]string{HeaderCreated: createdHeader(m.now())}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, c := range m.conns {
		if c.conn != nil && c.Status == StatusConnected {
			errs = append(errs, c.conn.Close())
			c.Status = StatusDead
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) destinations() []string {
	sites := m.cfg.Sites
	if len(sites) == 0 {
		sites = []string{m.cfg.Site}
	}
	seen := make(map[string]bool)
	var out []string
	for _, h := range m.handlers.Names() {
		for _, s := range sites {
			d := m.QueueName(h, s)
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Run consumes from every session until ctx ends or a control message
// stops the daemon, in which case ErrShutdown or ErrRestart is returned.
// Each session handles one frame at a time.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	conns := append([]*Connection(nil), m.conns...)
	m.mu.Unlock()
	if len(conns) == 0 {
		return ErrNoBroker
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error { return m.serve(gctx, c) })
	}
	err := g.Wait()
	m.Close()
	return err
}

func (m *Manager) serve(ctx context.Context, c *Connection) error {
	for {
		if m.status(c) != StatusConnected {
			if err := m.reconnect(ctx, c); err != nil {
				return nil
			}
		}

		msgs, err := m.subscribe(ctx, c)
		if err != nil {
			m.markDead(c, err)
			continue
		}
		if err := m.consume(ctx, c, msgs); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		m.markDead(c, errors.New("connection lost"))
	}
}

func (m *Manager) status(c *Connection) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return c.Status
}

func (m *Manager) markDead(c *Connection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.Status = StatusDead
	c.LastError = err.Error()
	c.DisconnectedAt = m.now()
	metrics.BrokerUp.WithLabelValues(c.Server).Set(0)
	m.logger.Warn("broker connection lost", "server", c.Server, "error", err)
}

func (m *Manager) reconnect(ctx context.Context, c *Connection) error {
	m.mu.Lock()
	c.Status = StatusReconnecting
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReconnectDelay):
		}
		var err error
		if m.cfg.Failover == FailoverManual {
			err = m.dial(ctx, c, c.Server)
		} else {
			err = m.dialAny(ctx, c)
		}
		if err == nil {
			return nil
		}
		m.mu.Lock()
		c.Status = StatusReconnecting
		m.mu.Unlock()
	}
}

// subscribe merges every task channel and the control topic of c into one
// stream. The stream closes once all subscriptions have closed.
func (m *Manager) subscribe(ctx context.Context, c *Connection) (<-chan *Message, error) {
	m.mu.Lock()
	conn := c.conn
	m.mu.Unlock()

	var chans []<-chan *Message
	for _, d := range m.destinations() {
		ch, err := conn.Subscribe(d, m.cfg.UseAcks)
		if err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", d, err)
		}
		chans = append(chans, ch)
	}
	if m.cfg.Control != "" {
		ch, err := conn.Subscribe(m.cfg.Control, false)
		if err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", m.cfg.Control, err)
		}
		chans = append(chans, ch)
	}

	out := make(chan *Message)
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *Manager) consume(ctx context.Context, c *Connection, msgs <-chan *Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Destination == m.cfg.Control {
				if err := m.control(string(msg.Body)); err != nil {
					return err
				}
				continue
			}
			m.handle(ctx, c, msg)
		}
	}
}

// control acts on "<event>" or "<event>:<param>".
func (m *Manager) control(text string) error {
	event, param, _ := strings.Cut(strings.TrimSpace(text), ":")
	switch event {
	case "shutdown":
		m.logger.Info("shutdown requested over control channel")
		return ErrShutdown
	case "restart":
		m.logger.Info("restart requested over control channel")
		return ErrRestart
	case "update":
		if param == "" || m.sites == nil {
			m.logger.Warn("ignoring update control message", "param", param)
			return nil
		}
		if err := m.sites.Reload(param); err != nil {
			m.logger.Error("site reload failed", "site", param, "error", err)
			return nil
		}
		m.logger.Info("site configuration reloaded", "site", param)
	default:
		m.logger.Warn("unknown control message", "message", text)
	}
	return nil
}

func (m *Manager) handle(ctx context.Context, c *Connection, msg *Message) {
	env, err := Decode(msg.Body)
	if err != nil {
		m.logger.Error("dropping undecodable frame",
			"message_id", msg.ID,
			"fingerprint", domain.Fingerprint(msg.Body),
			"error", err,
		)
		m.ack(c, msg, nil)
		return
	}
	log := m.logger.With("handler", env.Handler, "site", env.Site, "message_id", msg.ID)

	if msg.Redelivered && m.counter != nil {
		metrics.Redeliveries.WithLabelValues(env.Handler).Inc()
		n, err := m.counter.Incr(ctx, msg.ID)
		if err != nil {
			log.Error("failed to count redelivery", "error", err)
		} else if n > int64(m.cfg.MaxRetries) {
			m.deadLetter(ctx, env, msg, int(n), "redelivery limit exceeded")
			m.ack(c, msg, nil)
			return
		}
	}

	if m.sites != nil && !m.sites.Has(env.Site) {
		log.Warn("dropping task for unknown site")
		m.ack(c, msg, nil)
		return
	}

	h, ok := m.handlers.Lookup(env.Handler)
	if !ok {
		m.deadLetter(ctx, env, msg, 0, ErrUnknownHandler.Error())
		m.ack(c, msg, nil)
		return
	}

	if created, ok := parseCreated(msg.Header(HeaderCreated)); ok {
		metrics.QueueLatency.WithLabelValues(env.Handler).Observe(m.now().Sub(created).Seconds())
	}

	tx, err := m.begin(c)
	if err != nil {
		log.Error("failed to begin transaction", "error", err)
		return
	}

	if err := h.Handle(WithSite(ctx, env.Site), env); err != nil {
		metrics.Processed.WithLabelValues(env.Handler, "failure").Inc()
		log.Warn("handler failed, requeueing", "error", err)
		if rerr := m.requeue(ctx, env, msg, err); rerr != nil {
			log.Error("requeue failed", "error", rerr)
			if tx != nil {
				tx.Abort()
			}
			return
		}
	} else {
		metrics.Processed.WithLabelValues(env.Handler, "success").Inc()
	}
	m.ack(c, msg, tx)
}

// requeue sends the frame to the back of its channel, or dead-letters it
// once it has failed more than MaxRetries times.
func (m *Manager) requeue(ctx context.Context, env *Envelope, msg *Message, cause error) error {
	attempts, _ := strconv.Atoi(msg.Header(HeaderAttempts))
	attempts++
	if attempts > m.cfg.MaxRetries {
		m.deadLetter(ctx, env, msg, attempts, cause.Error())
		return nil
	}
	headers := map[string]string{HeaderAttempts: strconv.Itoa(attempts)}
	if created := msg.Header(HeaderCreated); created != "" {
		headers[HeaderCreated] = created
	} else {
		headers[HeaderCreated] = createdHeader(m.now())
	}
	return m.send(ctx, env.Handler, m.QueueName(env.Handler, env.Site), msg.Body, headers)
}

func (m *Manager) begin(c *Connection) (Tx, error) {
	if !m.cfg.UseTransactions || !m.cfg.UseAcks {
		return nil, nil
	}
	m.mu.Lock()
	conn := c.conn
	m.mu.Unlock()
	return conn.Begin()
}

func (m *Manager) ack(c *Connection, msg *Message, tx Tx) {
	if !m.cfg.UseAcks {
		return
	}
	var err error
	if tx != nil {
		if err = tx.Ack(msg); err == nil {
			err = tx.Commit()
		}
	} else {
		m.mu.Lock()
		conn := c.conn
		m.mu.Unlock()
		err = conn.Ack(msg)
	}
	if err != nil {
		m.logger.Error("failed to acknowledge frame", "message_id", msg.ID, "error", err)
	}
}

func (m *Manager) deadLetter(ctx context.Context, env *Envelope, msg *Message, attempts int, reason string) {
	dl := &domain.DeadLetter{
		ID:            uuid.NewString(),
		Site:          env.Site,
		Handler:       env.Handler,
		MessageID:     msg.ID,
		Payload:       msg.Body,
		TotalAttempts: attempts,
		LastError:     &reason,
		CreatedAt:     m.now(),
	}
	if dl.MessageID == "" {
		dl.MessageID = dl.ID
	}
	metrics.DeadLetters.WithLabelValues(env.Handler).Inc()
	m.logger.Error("task dead-lettered",
		"handler", env.Handler,
		"site", env.Site,
		"message_id", dl.MessageID,
		"attempts", attempts,
		"reason", reason,
	)
	if m.sink != nil {
		if err := m.sink.Write(ctx, dl); err != nil {
			m.logger.Error("failed to store dead letter", "message_id", dl.MessageID, "error", err)
		}
	}
	if m.counter != nil && msg.ID != "" {
		m.counter.Clear(ctx, msg.ID)
	}
}
