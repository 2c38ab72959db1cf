// Package redisq is a queue backend on Redis for deployments without a
// STOMP broker. Queue destinations are sorted sets polled by every
// subscriber; topic destinations use pub/sub.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/federation-engine/internal/queue"
)

// Options tune polling and redelivery.
type Options struct {
	PollInterval time.Duration
	BatchSize    int64
	// Visibility is how long a claimed frame may stay unacknowledged
	// before it is redelivered.
	Visibility time.Duration
}

// DefaultOptions polls every 100ms and redelivers after 5 minutes.
func DefaultOptions() Options {
	return Options{PollInterval: 100 * time.Millisecond, BatchSize: 10, Visibility: 5 * time.Minute}
}

// Dialer opens sessions against redis:// server URLs.
type Dialer struct {
	Options Options
	Logger  *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, server string) (queue.Conn, error) {
	opts, err := redis.ParseURL(server)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to %s: %w", opts.Addr, err)
	}
	c := NewConn(client, d.Options, d.Logger)
	c.owned = true
	return c, nil
}

// record is a frame as stored in Redis.
type record struct {
	ID          string            `json:"id"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	Redelivered bool              `json:"redelivered,omitempty"`
}

// Conn is a session over one Redis client.
type Conn struct {
	redisClient *redis.Client
	opts        Options
	logger      *slog.Logger
	owned       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConn wraps an existing client. Close leaves the client open.
func NewConn(redisClient *redis.Client, opts Options, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{redisClient: redisClient, opts: opts, logger: logger, ctx: ctx, cancel: cancel}
}

func isQueue(destination string) bool {
	return strings.HasPrefix(destination, "/queue/")
}

func readyKey(destination string) string {
	return "mq:" + destination
}

func pendingKey(destination string) string {
	return "mq:" + destination + ":pending"
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func (c *Conn) Send(ctx context.Context, destination string, body []byte, headers map[string]string) error {
	member, err := json.Marshal(record{ID: uuid.NewString(), Body: body, Headers: headers})
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if !isQueue(destination) {
		return c.redisClient.Publish(ctx, destination, member).Err()
	}
	return c.redisClient.ZAdd(ctx, readyKey(destination), redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: string(member),
	}).Err()
}

func (c *Conn) Subscribe(destination string, ack bool) (<-chan *queue.Message, error) {
	if c.ctx.Err() != nil {
		return nil, fmt.Errorf("subscribing to %s: connection closed", destination)
	}
	out := make(chan *queue.Message)
	c.wg.Add(1)
	if isQueue(destination) {
		go c.poll(destination, ack, out)
	} else {
		go c.listen(destination, out)
	}
	return out, nil
}

// poll claims ready frames, and frames whose visibility window lapsed,
// until the connection closes.
func (c *Conn) poll(destination string, ack bool, out chan<- *queue.Message) {
	defer c.wg.Done()
	defer close(out)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		if ack {
			c.redeliverExpired(destination)
		}
		for _, m := range c.claim(destination, ack) {
			select {
			case out <- m:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Conn) claim(destination string, ack bool) []*queue.Message {
	ctx := c.ctx
	now := time.Now()
	results, err := c.redisClient.ZRangeByScore(ctx, readyKey(destination), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   score(now),
		Count: c.opts.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to poll queue", "destination", destination, "error", err)
		}
		return nil
	}

	var msgs []*queue.Message
	for _, member := range results {
		// another subscriber already claimed it when ZRem removes nothing
		removed, err := c.redisClient.ZRem(ctx, readyKey(destination), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			c.logger.Error("dropping unreadable frame", "destination", destination, "error", err)
			continue
		}

		m := &queue.Message{
			ID:          rec.ID,
			Destination: destination,
			Body:        rec.Body,
			Headers:     rec.Headers,
			Redelivered: rec.Redelivered,
		}
		if ack {
			rec.Redelivered = true
			pending, _ := json.Marshal(rec)
			err := c.redisClient.ZAdd(ctx, pendingKey(destination), redis.Z{
				Score:  float64(now.Add(c.opts.Visibility).UnixMicro()),
				Member: string(pending),
			}).Err()
			if err != nil {
				c.logger.Error("failed to track unacknowledged frame", "message_id", rec.ID, "error", err)
			}
			m.Handle = string(pending)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func (c *Conn) redeliverExpired(destination string) {
	ctx := c.ctx
	expired, err := c.redisClient.ZRangeByScore(ctx, pendingKey(destination), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   score(time.Now()),
		Count: c.opts.BatchSize,
	}).Result()
	if err != nil {
		return
	}
	for _, member := range expired {
		removed, err := c.redisClient.ZRem(ctx, pendingKey(destination), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		c.redisClient.ZAdd(ctx, readyKey(destination), redis.Z{Score: float64(time.Now().UnixMicro()), Member: member})
	}
}

func (c *Conn) listen(destination string, out chan<- *queue.Message) {
	defer c.wg.Done()
	defer close(out)

	ps := c.redisClient.Subscribe(c.ctx, destination)
	defer ps.Close()
	if _, err := ps.Receive(c.ctx); err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("failed to subscribe", "destination", destination, "error", err)
		}
		return
	}
	ch := ps.Channel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case pm, ok := <-ch:
			if !ok {
				return
			}
			var rec record
			if err := json.Unmarshal([]byte(pm.Payload), &rec); err != nil {
				c.logger.Error("dropping unreadable frame", "destination", destination, "error", err)
				continue
			}
			select {
			case out <- &queue.Message{ID: rec.ID, Destination: destination, Body: rec.Body, Headers: rec.Headers}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func pendingMember(msg *queue.Message) (string, error) {
	member, ok := msg.Handle.(string)
	if !ok {
		return "", fmt.Errorf("message %s was not claimed with acknowledgement", msg.ID)
	}
	return member, nil
}

func (c *Conn) Ack(msg *queue.Message) error {
	member, err := pendingMember(msg)
	if err != nil {
		return err
	}
	return c.redisClient.ZRem(c.ctx, pendingKey(msg.Destination), member).Err()
}

func (c *Conn) Begin() (queue.Tx, error) {
	return &tx{conn: c}, nil
}

// Close stops every subscription and waits for them to drain.
func (c *Conn) Close() error {
	c.cancel()
	c.wg.Wait()
	if c.owned {
		return c.redisClient.Close()
	}
	return nil
}

type tx struct {
	conn  *Conn
	acked []*queue.Message
}

func (t *tx) Ack(msg *queue.Message) error {
	if _, err := pendingMember(msg); err != nil {
		return err
	}
	t.acked = append(t.acked, msg)
	return nil
}

// Commit removes every acknowledged frame in one MULTI/EXEC.
func (t *tx) Commit() error {
	_, err := t.conn.redisClient.TxPipelined(t.conn.ctx, func(pipe redis.Pipeliner) error {
		for _, msg := range t.acked {
			member, _ := pendingMember(msg)
			pipe.ZRem(t.conn.ctx, pendingKey(msg.Destination), member)
		}
		return nil
	})
	t.acked = nil
	return err
}

func (t *tx) Abort() error {
	t.acked = nil
	return nil
}
