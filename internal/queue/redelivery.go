package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedeliveryCounter counts broker redeliveries per message id in Redis so
// every daemon sees the same count. Keys expire after ttl.
type RedeliveryCounter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedeliveryCounter creates a counter whose entries live for ttl.
func NewRedeliveryCounter(redisClient *redis.Client, ttl time.Duration) *RedeliveryCounter {
	return &RedeliveryCounter{redisClient: redisClient, ttl: ttl}
}

func redeliveryKey(messageID string) string {
	return fmt.Sprintf("redelivery:%s", messageID)
}

// Incr records one more redelivery of messageID and returns the total.
func (c *RedeliveryCounter) Incr(ctx context.Context, messageID string) (int64, error) {
	key := redeliveryKey(messageID)
	var incr *redis.IntCmd
	_, err := c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting redelivery of %s: %w", messageID, err)
	}
	return incr.Val(), nil
}

// Clear forgets messageID.
func (c *RedeliveryCounter) Clear(ctx context.Context, messageID string) error {
	return c.redisClient.Del(ctx, redeliveryKey(messageID)).Err()
}
