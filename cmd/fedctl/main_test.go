package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/federation-engine/internal/config"
)

func testEnv() *env {
	return &env{
		cfg:    &config.Config{HTTPTimeout: time.Second},
		logger: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(testEnv())

	for _, path := range [][]string{
		{"renew"}, {"gc"}, {"resubscribe"}, {"unsubscribe"},
		{"replay-feed"}, {"control"}, {"actor", "create"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestRootCmd_RejectsBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"resubscribe needs callback", []string{"resubscribe", "https://local.example/feed"}},
		{"unsubscribe takes two", []string{"unsubscribe"}},
		{"gc takes none", []string{"gc", "extra"}},
		{"control needs event", []string{"control"}},
		{"control at most two", []string{"control", "update", "site1", "extra"}},
		{"actor needs nickname", []string{"actor", "create"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd(testEnv())
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			if err := root.ExecuteContext(context.Background()); err == nil {
				t.Error("expected an argument error")
			}
		})
	}
}

func TestReadFeed(t *testing.T) {
	const feed = `<feed xmlns="http://www.w3.org/2005/Atom"><id>x</id></feed>`

	path := filepath.Join(t.TempDir(), "feed.atom")
	if err := os.WriteFile(path, []byte(feed), 0o644); err != nil {
		t.Fatal(err)
	}
	body, err := readFeed(context.Background(), path, time.Second)
	if err != nil || string(body) != feed {
		t.Fatalf("file: %q, %v", body, err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.atom" {
			http.NotFound(w, r)
			return
		}
		if !strings.Contains(r.Header.Get("Accept"), "atom") {
			t.Errorf("accept = %q", r.Header.Get("Accept"))
		}
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	body, err = readFeed(context.Background(), srv.URL+"/feed.atom", time.Second)
	if err != nil || string(body) != feed {
		t.Fatalf("url: %q, %v", body, err)
	}

	if _, err := readFeed(context.Background(), srv.URL+"/missing", time.Second); err == nil {
		t.Error("expected an error for a 404")
	}
}
