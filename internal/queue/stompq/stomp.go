// Package stompq connects the queue manager to STOMP brokers such as
// ActiveMQ, Apollo or RabbitMQ's STOMP plugin.
package stompq

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/Priya8975/federation-engine/internal/queue"
)

// Dialer opens STOMP sessions. Server addresses are tcp://host:port or
// ssl://host:port; a bare host:port means tcp.
type Dialer struct {
	Login     string
	Passcode  string
	VHost     string
	HeartBeat time.Duration
	Logger    *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, server string) (queue.Conn, error) {
	network, addr, useTLS, err := parseServer(server)
	if err != nil {
		return nil, err
	}

	var nc net.Conn
	nd := &net.Dialer{Timeout: 10 * time.Second}
	if useTLS {
		td := &tls.Dialer{NetDialer: nd}
		nc, err = td.DialContext(ctx, network, addr)
	} else {
		nc, err = nd.DialContext(ctx, network, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", server, err)
	}

	opts := []func(*stomp.Conn) error{stomp.ConnOpt.HeartBeat(d.HeartBeat, d.HeartBeat)}
	if d.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(d.Login, d.Passcode))
	}
	host := d.VHost
	if host == "" {
		host, _, _ = net.SplitHostPort(addr)
	}
	opts = append(opts, stomp.ConnOpt.Host(host))

	sc, err := stomp.Connect(nc, opts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("stomp handshake with %s: %w", server, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &conn{server: server, sc: sc, logger: logger, done: make(chan struct{})}, nil
}

func parseServer(server string) (network, addr string, useTLS bool, err error) {
	if !strings.Contains(server, "://") {
		return "tcp", server, false, nil
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", "", false, fmt.Errorf("parsing broker address %q: %w", server, err)
	}
	switch u.Scheme {
	case "tcp", "stomp":
		return "tcp", u.Host, false, nil
	case "ssl", "tls", "stomp+ssl":
		return "tcp", u.Host, true, nil
	}
	return "", "", false, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
}

type conn struct {
	server string
	sc     *stomp.Conn
	logger *slog.Logger

	// done is closed by Close and releases subscription goroutines whose
	// reader has gone away.
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Send(_ context.Context, destination string, body []byte, headers map[string]string) error {
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	return c.sc.Send(destination, "application/cbor", body, opts...)
}

func (c *conn) Subscribe(destination string, ack bool) (<-chan *queue.Message, error) {
	mode := stomp.AckAuto
	if ack {
		mode = stomp.AckClientIndividual
	}
	sub, err := c.sc.Subscribe(destination, mode)
	if err != nil {
		return nil, err
	}

	out := make(chan *queue.Message)
	go func() {
		defer close(out)
		for {
			var msg *stomp.Message
			select {
			case <-c.done:
				return
			case m, ok := <-sub.C:
				if !ok {
					return
				}
				msg = m
			}
			if msg.Err != nil {
				c.logger.Warn("stomp subscription ended", "server", c.server, "destination", destination, "error", msg.Err)
				return
			}
			select {
			case out <- toMessage(msg):
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

func toMessage(msg *stomp.Message) *queue.Message {
	m := &queue.Message{
		ID:          msg.Header.Get(frame.MessageId),
		Destination: msg.Destination,
		Body:        msg.Body,
		Headers:     make(map[string]string, msg.Header.Len()),
		Redelivered: msg.Header.Get("redelivered") == "true",
		Handle:      msg,
	}
	for i := 0; i < msg.Header.Len(); i++ {
		k, v := msg.Header.GetAt(i)
		m.Headers[k] = v
	}
	return m
}

func frameOf(msg *queue.Message) (*stomp.Message, error) {
	sm, ok := msg.Handle.(*stomp.Message)
	if !ok {
		return nil, fmt.Errorf("message %s did not come from a stomp session", msg.ID)
	}
	return sm, nil
}

func (c *conn) Ack(msg *queue.Message) error {
	sm, err := frameOf(msg)
	if err != nil {
		return err
	}
	return c.sc.Ack(sm)
}

func (c *conn) Begin() (queue.Tx, error) {
	return &tx{t: c.sc.Begin()}, nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sc.Disconnect()
	})
	return err
}

type tx struct {
	t *stomp.Transaction
}

func (t *tx) Ack(msg *queue.Message) error {
	sm, err := frameOf(msg)
	if err != nil {
		return err
	}
	return t.t.Ack(sm)
}

func (t *tx) Commit() error { return t.t.Commit() }
func (t *tx) Abort() error  { return t.t.Abort() }
