package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestBreaker(t *testing.T) (*HostBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewHostBreaker(client, 3, 30*time.Second, testLogger()), mr
}

func TestHostBreaker_InitiallyClosed(t *testing.T) {
	b, _ := setupTestBreaker(t)

	state, ok := b.Allow(context.Background(), "remote.example")
	if state != CircuitClosed || !ok {
		t.Errorf("expected closed and allowed, got %q %v", state, ok)
	}
}

func TestHostBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := setupTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.Failure(ctx, "remote.example")
	}
	if _, ok := b.Allow(ctx, "remote.example"); !ok {
		t.Fatal("circuit opened below threshold")
	}

	b.Failure(ctx, "remote.example")
	state, ok := b.Allow(ctx, "remote.example")
	if state != CircuitOpen || ok {
		t.Errorf("expected open and rejected, got %q %v", state, ok)
	}
	if _, ok := b.Allow(ctx, "other.example"); !ok {
		t.Error("other hosts must not be affected")
	}
}

func TestHostBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, _ := setupTestBreaker(t)
	ctx := context.Background()
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.Failure(ctx, "remote.example")
	}

	now = now.Add(31 * time.Second)
	state, ok := b.Allow(ctx, "remote.example")
	if state != CircuitHalfOpen || !ok {
		t.Fatalf("expected half-open probe, got %q %v", state, ok)
	}

	// failed probe
	b.Failure(ctx, "remote.example")
	if state, _ := b.State(ctx, "remote.example"); state != CircuitOpen {
		t.Fatalf("expected re-opened circuit, got %q", state)
	}

	now = now.Add(31 * time.Second)
	b.Allow(ctx, "remote.example")
	b.Success(ctx, "remote.example")
	state, failures := b.State(ctx, "remote.example")
	if state != CircuitClosed || failures != 0 {
		t.Errorf("expected closed with no failures, got %q %d", state, failures)
	}
}

func TestDeliverer_SkipsOpenCircuit(t *testing.T) {
	d, _ := setupTestDeliverer(t)
	b, _ := setupTestBreaker(t)
	d.WithBreaker(b)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Post(ctx, server.URL+"/inbox", aliceURI, []byte(`{}`)); err == nil {
			t.Fatal("expected a delivery error")
		}
	}

	err := d.Post(ctx, server.URL+"/inbox", aliceURI, []byte(`{}`))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestDeliverer_RejectionKeepsCircuitClosed(t *testing.T) {
	d, _ := setupTestDeliverer(t)
	b, _ := setupTestBreaker(t)
	d.WithBreaker(b)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	for i := 0; i < 5; i++ {
		d.Post(context.Background(), server.URL+"/inbox", aliceURI, []byte(`{}`))
	}
	if state, _ := b.State(context.Background(), hostOf(server.URL)); state != CircuitClosed {
		t.Errorf("expected closed circuit, got %q", state)
	}
}
