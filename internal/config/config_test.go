package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/queue/redisq"
	"github.com/Priya8975/federation-engine/internal/queue/stompq"
	"github.com/Priya8975/federation-engine/internal/websub"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fed")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRetries != 10 {
		t.Errorf("expected 10 retries, got %d", cfg.MaxRetries)
	}
	if cfg.StompFailover != queue.FailoverAuto {
		t.Errorf("expected auto failover, got %q", cfg.StompFailover)
	}
	if !cfg.QueuePersistent.For("hubout") {
		t.Error("expected persistent frames by default")
	}
	if cfg.HTTPTimeout != websub.DefaultTimeout {
		t.Errorf("expected %v timeout, got %v", websub.DefaultTimeout, cfg.HTTPTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fed")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("STOMP_SERVERS", "tcp://a:61613, tcp://b:61613")
	t.Setenv("STOMP_FAILOVER", "manual")
	t.Setenv("QUEUE_BREAKOUT", "main:hubout,main:hubout:site2")
	t.Setenv("QUEUE_PERSISTENT", "apdeliver")
	t.Setenv("HTTP_TIMEOUT", "3")
	t.Setenv("HTTPS_UPGRADE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.StompServers) != 2 || cfg.StompServers[1] != "tcp://b:61613" {
		t.Errorf("unexpected servers %v", cfg.StompServers)
	}

	q := cfg.Queue([]string{"site1", "site2"})
	if q.Failover != queue.FailoverManual {
		t.Errorf("expected manual failover, got %q", q.Failover)
	}
	if len(q.Breakout) != 2 {
		t.Errorf("expected 2 breakout specs, got %v", q.Breakout)
	}
	if q.Persistent.For("hubout") || !q.Persistent.For("apdeliver") {
		t.Error("expected only apdeliver to be persistent")
	}

	w := cfg.WebSub()
	if w.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", w.Timeout)
	}
	if _, ok := w.Upgrade.(websub.NoUpgrade); !ok {
		t.Errorf("expected NoUpgrade, got %T", w.Upgrade)
	}
}

func TestLoad_RedisBrokerUsesRedisURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fed")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("BROKER", "redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Queue(nil).Servers; len(got) != 1 || got[0] != "redis://localhost:6379/2" {
		t.Errorf("unexpected servers %v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"REDIS_URL": "redis://x"}},
		{"missing redis", map[string]string{"DATABASE_URL": "postgres://x"}},
		{"bad broker", map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "BROKER": "kafka"}},
		{"bad failover", map[string]string{"DATABASE_URL": "postgres://x", "REDIS_URL": "redis://x", "STOMP_FAILOVER": "random"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("REDIS_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSites(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing sites file: %v", err)
	}
}

func TestSiteRegistry_DefaultSite(t *testing.T) {
	r, err := LoadSites("", Site{Nickname: "main"}, testLogger())
	if err != nil {
		t.Fatalf("LoadSites: %v", err)
	}
	if !r.Has("main") || r.Has("other") {
		t.Errorf("unexpected sites %v", r.Nicknames())
	}
}

func TestSiteRegistry_ReloadOneSite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	writeSites(t, path, `
sites:
  - nickname: site1
    server: one.example
    max_retries: 3
  - nickname: site2
    server: two.example
`)
	r, err := LoadSites(path, Site{}, testLogger())
	if err != nil {
		t.Fatalf("LoadSites: %v", err)
	}
	if got := r.Nicknames(); len(got) != 2 {
		t.Fatalf("expected 2 sites, got %v", got)
	}

	writeSites(t, path, `
sites:
  - nickname: site1
    server: one.example
    max_retries: 7
  - nickname: site3
    server: three.example
`)
	if err := r.Reload("site1"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s, _ := r.Get("site1"); s.MaxRetries != 7 {
		t.Errorf("expected reloaded max_retries 7, got %d", s.MaxRetries)
	}
	if !r.Has("site2") {
		t.Error("Reload of one site must leave the others alone")
	}
	if r.Has("site3") {
		t.Error("Reload of one site must not add others")
	}

	if err := r.Reload("site2"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if r.Has("site2") {
		t.Error("expected site2 to be dropped")
	}
}

func TestSiteRegistry_RejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	writeSites(t, path, "sites:\n  - server: nameless.example\n")
	if _, err := LoadSites(path, Site{}, testLogger()); err == nil {
		t.Error("expected an error for a site without nickname")
	}
}

func TestSiteRegistry_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	writeSites(t, path, "sites:\n  - nickname: site1\n")
	r, err := LoadSites(path, Site{}, testLogger())
	if err != nil {
		t.Fatalf("LoadSites: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !r.Has("site2") {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not pick up the new site")
		}
		writeSites(t, path, "sites:\n  - nickname: site1\n  - nickname: site2\n")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestQueueDialer_FollowsBroker(t *testing.T) {
	cfg := &Config{Broker: BrokerRedis}
	if _, ok := cfg.QueueDialer(testLogger()).(*redisq.Dialer); !ok {
		t.Error("expected a redis dialer")
	}

	cfg = &Config{Broker: BrokerSTOMP, StompUsername: "guest", StompPassword: "pw"}
	d, ok := cfg.QueueDialer(testLogger()).(*stompq.Dialer)
	if !ok {
		t.Fatal("expected a stomp dialer")
	}
	if d.Login != "guest" || d.Passcode != "pw" {
		t.Errorf("credentials not passed: %+v", d)
	}
}
