package websub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps pushes per callback host with a Redis sliding window.
// Each push adds a member scored by its timestamp; a Lua script trims the
// window, counts, and adds atomically so every worker process shares it.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	limit       int
	window      time.Duration
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, math.floor(window / 1000) + 1)
    return 1
else
    return 0
end
`)

// NewRateLimiter allows limit pushes per host within window. A limit of
// zero disables limiting.
func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		limit:       limit,
		window:      window,
	}
}

func rlKey(host string) string {
	return fmt.Sprintf("rl:push:%s", host)
}

// Allow reports whether a push to callback fits in its host's window.
func (rl *RateLimiter) Allow(ctx context.Context, callback string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	u, err := url.Parse(callback)
	if err != nil {
		return true
	}

	now := time.Now()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(u.Host)},
		now.UnixMilli(), rl.window.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "host", u.Host)
		return true // fail open
	}
	if result == 0 {
		rl.logger.Debug("push rate limited", "host", u.Host, "limit", rl.limit)
		return false
	}
	return true
}
