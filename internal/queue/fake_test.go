package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type sentFrame struct {
	Destination string
	Body        []byte
	Headers     map[string]string
}

// fakeConn is an in-memory broker session. Frames are injected with
// deliver; sends are only recorded.
type fakeConn struct {
	server string

	mu      sync.Mutex
	subs    map[string]chan *Message
	sent    []sentFrame
	acked   []string
	commits int
	aborts  int
	closed  bool
}

func newFakeConn(server string) *fakeConn {
	return &fakeConn{server: server, subs: make(map[string]chan *Message)}
}

func (c *fakeConn) Send(_ context.Context, dest string, body []byte, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	c.sent = append(c.sent, sentFrame{Destination: dest, Body: body, Headers: h})
	return nil
}

func (c *fakeConn) Subscribe(dest string, _ bool) (<-chan *Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan *Message, 16)
	c.subs[dest] = ch
	return ch, nil
}

func (c *fakeConn) subscribed(dest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[dest]
	return ok
}

func (c *fakeConn) deliver(dest string, msg *Message) {
	c.mu.Lock()
	ch := c.subs[dest]
	c.mu.Unlock()
	msg.Destination = dest
	ch <- msg
}

func (c *fakeConn) Ack(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *fakeConn) Begin() (Tx, error) {
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	return nil
}

func (c *fakeConn) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

func (c *fakeConn) sentFrames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

type fakeTx struct {
	conn  *fakeConn
	acked []string
}

func (t *fakeTx) Ack(msg *Message) error {
	t.acked = append(t.acked, msg.ID)
	return nil
}

func (t *fakeTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.acked = append(t.conn.acked, t.acked...)
	t.conn.commits++
	return nil
}

func (t *fakeTx) Abort() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.aborts++
	return nil
}

// fakeDialer hands out one fakeConn per reachable server.
type fakeDialer struct {
	mu      sync.Mutex
	down    map[string]bool
	conns   map[string]*fakeConn
	attempt []string
}

func newFakeDialer(down ...string) *fakeDialer {
	d := &fakeDialer{down: make(map[string]bool), conns: make(map[string]*fakeConn)}
	for _, s := range down {
		d.down[s] = true
	}
	return d
}

func (d *fakeDialer) Dial(_ context.Context, server string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempt = append(d.attempt, server)
	if d.down[server] {
		return nil, fmt.Errorf("dial %s: connection refused", server)
	}
	c := newFakeConn(server)
	d.conns[server] = c
	return c, nil
}

func (d *fakeDialer) setDown(server string, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[server] = down
}

func (d *fakeDialer) conn(server string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[server]
}

type fakeSites struct {
	mu       sync.Mutex
	known    map[string]bool
	reloaded []string
}

func (s *fakeSites) Has(n string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[n]
}

func (s *fakeSites) Reload(n string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloaded = append(s.reloaded, n)
	return nil
}
