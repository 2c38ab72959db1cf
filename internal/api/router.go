package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
	"github.com/Priya8975/federation-engine/internal/worker"
)

var timeNow = time.Now

// Deps are the collaborators of the router. Monitor is optional.
type Deps struct {
	Queue         worker.Enqueuer
	Interest      websub.InterestChecker
	Verifier      RequestVerifier
	Registry      *streams.Registry
	Translator    *translate.Translator
	Ledger        FeedSource
	Publisher     Publisher
	Subscriptions SubscriptionLister
	DeadLetters   DeadLetterStore
	Stats         StatsSource
	Monitor       *monitor.Hub
	Health        map[string]Check

	Site   string
	HubURL string
	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	// Handlers
	hubHandler := NewHubHandler(d.Queue, d.Interest, d.Site, d.Logger)
	inboxHandler := NewInboxHandler(d.Queue, d.Verifier, d.Registry, d.Ledger, d.Site, d.Logger)
	actorHandler := NewActorHandler(d.Ledger, d.Translator, d.HubURL, d.Logger)
	publishHandler := NewPublishHandler(d.Publisher, d.Site, d.Logger)
	dlqHandler := NewDeadLetterHandler(d.DeadLetters, d.Queue)

	var clients ClientCounter
	if d.Monitor != nil {
		clients = d.Monitor
		r.Get("/ws", d.Monitor.HandleWebSocket)
	}
	dashHandler := NewDashboardHandler(d.Stats, d.Subscriptions, clients)

	// Federation endpoints
	r.Post("/hub", hubHandler.Subscribe)
	r.Post("/inbox", inboxHandler.Receive)
	r.Route("/users/{nickname}", func(r chi.Router) {
		r.Get("/", actorHandler.Actor)
		r.Get("/feed.atom", actorHandler.Feed)
		r.Post("/inbox", inboxHandler.Receive)
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Health))

		r.Get("/subscriptions", dashHandler.Subscriptions)
		r.Get("/topics", dashHandler.Topics)
		r.Get("/stats", dashHandler.Stats)

		r.Post("/publish", publishHandler.Create)

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Get("/{id}", dlqHandler.Get)
			r.Post("/{id}/resolve", dlqHandler.Resolve)
			r.Post("/{id}/replay", dlqHandler.Replay)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
