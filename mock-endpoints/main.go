// Command mock-endpoints plays a remote instance for manual testing: a
// WebSub subscriber that answers verification challenges and checks push
// signatures, and ActivityPub inboxes with fixed answers.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Priya8975/federation-engine/internal/httpsig"
)

var requestCount atomic.Int64

func main() {
	port := "9091"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	secret := os.Getenv("MOCK_SECRET")

	// Subscriber callback: confirms every challenge, verifies pushes
	http.HandleFunc("/websub/callback", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			logRequest(r, count, 200, "mode="+q.Get("hub.mode")+" lease="+q.Get("hub.lease_seconds"))
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, q.Get("hub.challenge"))
		case http.MethodPost:
			body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if secret != "" {
				if err := httpsig.VerifyHMAC(body, secret, r.Header.Get("X-Hub-Signature")); err != nil {
					logRequest(r, count, 200, "bad signature: "+err.Error())
					// A subscriber must still acknowledge a push it discards.
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			logRequest(r, count, 200, fmt.Sprintf("%d bytes", len(body)))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// Subscriber that refuses verification
	http.HandleFunc("/websub/deny", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 404, "mode="+r.URL.Query().Get("hub.mode"))
		w.WriteHeader(http.StatusNotFound)
	})

	// Subscriber that echoes the wrong challenge
	http.HandleFunc("/websub/mismatch", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 200, "wrong challenge")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "not-the-challenge")
	})

	// Inbox that accepts everything
	http.HandleFunc("/inbox/success", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 202, "")
		w.WriteHeader(http.StatusAccepted)
	})

	// Slow inbox: delays 3 seconds before responding
	http.HandleFunc("/inbox/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logRequest(r, count, 202, "")
		w.WriteHeader(http.StatusAccepted)
	})

	// Failing inbox: always returns 500
	http.HandleFunc("/inbox/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 500, "")
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Inbox of a deleted account
	http.HandleFunc("/inbox/gone", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 410, "")
		w.WriteHeader(http.StatusGone)
	})

	// Stats endpoint: shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock endpoint server starting on :%s", port)
	log.Printf("  GET/POST /websub/callback -> challenge echo, push ack")
	log.Printf("  GET      /websub/deny     -> 404")
	log.Printf("  GET      /websub/mismatch -> wrong challenge")
	log.Printf("  POST     /inbox/success   -> 202")
	log.Printf("  POST     /inbox/slow      -> 202 (3s delay)")
	log.Printf("  POST     /inbox/fail      -> 500")
	log.Printf("  POST     /inbox/gone      -> 410")
	log.Printf("  GET      /stats           -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logRequest(r *http.Request, count int64, status int, note string) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s hubsig=%s %s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("Signature"), 24),
		truncate(r.Header.Get("X-Hub-Signature"), 16),
		note,
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
