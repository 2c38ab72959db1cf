package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/federation-engine/internal/websub"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// CachedInterest memoizes topic interest answers in Redis for ttl, so a
// garbage collection pass over many callbacks of one topic asks the
// database once.
type CachedInterest struct {
	redisClient *redis.Client
	next        websub.InterestChecker
	ttl         time.Duration
}

func (s *RedisStore) CachedInterest(next websub.InterestChecker, ttl time.Duration) *CachedInterest {
	return &CachedInterest{redisClient: s.client, next: next, ttl: ttl}
}

func interestKey(topic string) string {
	return fmt.Sprintf("interest:%s", topic)
}

func (c *CachedInterest) HasInterest(ctx context.Context, topic string) (bool, error) {
	key := interestKey(topic)
	v, err := c.redisClient.Get(ctx, key).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case err != redis.Nil:
		// cache unavailable
		return c.next.HasInterest(ctx, topic)
	}

	ok, err := c.next.HasInterest(ctx, topic)
	if err != nil {
		return false, err
	}
	val := "0"
	if ok {
		val = "1"
	}
	c.redisClient.Set(ctx, key, val, c.ttl)
	return ok, nil
}

// Forget drops the cached answer for topic.
func (c *CachedInterest) Forget(ctx context.Context, topic string) error {
	return c.redisClient.Del(ctx, interestKey(topic)).Err()
}
