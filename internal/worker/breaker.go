package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCircuitOpen is returned for deliveries to a host whose circuit is open.
var ErrCircuitOpen = errors.New("delivery host circuit open")

// Circuit states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// HostBreaker trips per remote host after repeated delivery failures, so
// a dead instance does not tie up the outbound queue. State lives in Redis
// and is shared by every queue daemon.
//
// closed -> open after Threshold consecutive failures; open -> half-open
// once Cooldown has passed; half-open -> closed on success, open on failure.
type HostBreaker struct {
	redisClient *redis.Client
	logger      *slog.Logger
	threshold   int
	cooldown    time.Duration
	now         func() time.Time
}

func NewHostBreaker(redisClient *redis.Client, threshold int, cooldown time.Duration, logger *slog.Logger) *HostBreaker {
	if threshold < 1 {
		threshold = 5
	}
	return &HostBreaker{
		redisClient: redisClient,
		logger:      logger,
		threshold:   threshold,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func breakerKey(host string) string {
	return fmt.Sprintf("cb:host:%s", host)
}

// hostOf is the breaker key part of an inbox URL.
func hostOf(inbox string) string {
	u, err := url.Parse(inbox)
	if err != nil || u.Host == "" {
		return inbox
	}
	return u.Host
}

// Allow reports whether a delivery to host may proceed, and the state that
// decided it.
func (b *HostBreaker) Allow(ctx context.Context, host string) (string, bool) {
	key := breakerKey(host)

	data, err := b.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return CircuitClosed, true
	}

	switch data["state"] {
	case CircuitOpen:
		lastFailed, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if b.now().Unix()-lastFailed < int64(b.cooldown.Seconds()) {
			return CircuitOpen, false
		}
		b.redisClient.HSet(ctx, key, "state", CircuitHalfOpen)
		b.logger.Info("delivery circuit half-open", "host", host)
		return CircuitHalfOpen, true
	case CircuitHalfOpen:
		return CircuitHalfOpen, true
	}
	return CircuitClosed, true
}

// Success closes the circuit of host.
func (b *HostBreaker) Success(ctx context.Context, host string) {
	key := breakerKey(host)

	prev, _ := b.redisClient.HGet(ctx, key, "state").Result()
	if prev == "" {
		return
	}
	b.redisClient.Del(ctx, key)
	if prev != CircuitClosed {
		b.logger.Info("delivery circuit closed", "host", host)
	}
}

// Failure counts a failed delivery to host and opens the circuit once the
// threshold is reached or a half-open probe fails.
func (b *HostBreaker) Failure(ctx context.Context, host string) {
	key := breakerKey(host)

	failures, err := b.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		b.logger.Error("failed to record delivery failure", "host", host, "error", err)
		return
	}
	b.redisClient.HSet(ctx, key, "last_failed_at", b.now().Unix())

	state, _ := b.redisClient.HGet(ctx, key, "state").Result()
	switch {
	case state == CircuitHalfOpen:
		b.redisClient.HSet(ctx, key, "state", CircuitOpen)
		b.logger.Warn("delivery circuit re-opened", "host", host)
	case failures >= int64(b.threshold) && state != CircuitOpen:
		b.redisClient.HSet(ctx, key, "state", CircuitOpen)
		b.logger.Warn("delivery circuit opened",
			"host", host,
			"failures", failures,
			"threshold", b.threshold,
		)
	case state == "":
		b.redisClient.HSet(ctx, key, "state", CircuitClosed)
	}
}

// State returns the current state of host and its failure count.
func (b *HostBreaker) State(ctx context.Context, host string) (string, int) {
	data, err := b.redisClient.HGetAll(ctx, breakerKey(host)).Result()
	if err != nil || len(data) == 0 {
		return CircuitClosed, 0
	}
	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = CircuitClosed
	}
	return state, failures
}
