package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/store"
)

// StatsSource aggregates federation counts.
type StatsSource interface {
	GetFederationStats(ctx context.Context) (*store.FederationStats, error)
}

// SubscriptionLister pages through WebSub subscriptions.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, limit, offset int) ([]domain.Subscription, error)
	ListTopics(ctx context.Context) ([]string, error)
}

// ClientCounter reports connected monitor clients.
type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	stats   StatsSource
	subs    SubscriptionLister
	clients ClientCounter
}

func NewDashboardHandler(stats StatsSource, subs SubscriptionLister, clients ClientCounter) *DashboardHandler {
	return &DashboardHandler{stats: stats, subs: subs, clients: clients}
}

// Stats returns aggregated federation counts for the dashboard.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetFederationStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	type statsResponse struct {
		store.FederationStats
		WebSocketClients int `json:"websocket_clients"`
	}

	resp := statsResponse{FederationStats: *stats}
	if h.clients != nil {
		resp.WebSocketClients = h.clients.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

type subscriptionView struct {
	domain.Subscription
	State domain.SubscriptionState `json:"state"`
}

// Subscriptions lists subscriptions with their lifecycle state.
func (h *DashboardHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}
	offset := 0
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n > 0 {
		offset = n
	}

	subs, err := h.subs.ListSubscriptions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	now := timeNow()
	result := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		result = append(result, subscriptionView{Subscription: s, State: s.State(now)})
	}
	respondJSON(w, http.StatusOK, result)
}

// Topics lists the topics that have at least one subscription.
func (h *DashboardHandler) Topics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.subs.ListTopics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list topics")
		return
	}
	respondJSON(w, http.StatusOK, topics)
}
