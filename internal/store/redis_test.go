package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/federation-engine/internal/websub"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client), mr
}

func TestCachedInterest_AsksOncePerTTL(t *testing.T) {
	rs, mr := setupTestRedis(t)
	calls := 0
	checker := rs.CachedInterest(websub.InterestFunc(func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	}), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := checker.HasInterest(ctx, "https://local.example/users/alice/feed.atom")
		if err != nil {
			t.Fatalf("HasInterest: %v", err)
		}
		if !ok {
			t.Fatal("expected interest")
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 lookup, got %d", calls)
	}

	mr.FastForward(time.Minute + time.Second)
	checker.HasInterest(ctx, "https://local.example/users/alice/feed.atom")
	if calls != 2 {
		t.Errorf("expected a fresh lookup after expiry, got %d lookups", calls)
	}
}

func TestCachedInterest_CachesNegativeAnswers(t *testing.T) {
	rs, _ := setupTestRedis(t)
	calls := 0
	checker := rs.CachedInterest(websub.InterestFunc(func(context.Context, string) (bool, error) {
		calls++
		return false, nil
	}), time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := checker.HasInterest(ctx, "gone"); ok {
			t.Fatal("expected no interest")
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 lookup, got %d", calls)
	}

	if err := checker.Forget(ctx, "gone"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	checker.HasInterest(ctx, "gone")
	if calls != 2 {
		t.Errorf("expected a lookup after Forget, got %d", calls)
	}
}

func TestCachedInterest_FallsThroughWhenRedisDown(t *testing.T) {
	rs, mr := setupTestRedis(t)
	checker := rs.CachedInterest(websub.InterestFunc(func(context.Context, string) (bool, error) {
		return true, nil
	}), time.Minute)
	mr.Close()

	ok, err := checker.HasInterest(context.Background(), "topic")
	if err != nil || !ok {
		t.Errorf("expected pass-through answer, got %v, %v", ok, err)
	}
}
