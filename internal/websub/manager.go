// Package websub manages the hub side of WebSub: verified subscriptions
// with bounded leases, signed content pushes, error accounting, renewal
// and garbage collection.
package websub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/metrics"
)

// ErrRateLimited means the callback host's push budget is spent for now.
var ErrRateLimited = errors.New("websub: callback host rate limited")

// SanitizeLease clamps a requested lease. Zero or absent requests the
// maximum.
func SanitizeLease(seconds int64) time.Duration {
	switch {
	case seconds == 0:
		return domain.MaxLease
	case seconds < int64(domain.MinLease/time.Second):
		return domain.MinLease
	case seconds > int64(domain.MaxLease/time.Second):
		return domain.MaxLease
	}
	return time.Duration(seconds) * time.Second
}

// Config tunes a Manager.
type Config struct {
	Timeout         time.Duration
	StrictChallenge bool
	RenewHorizon    time.Duration
	ErrorThreshold  time.Duration
	Upgrade         CallbackUpgrade
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		RenewHorizon:   24 * time.Hour,
		ErrorThreshold: 7 * 24 * time.Hour,
		Upgrade:        HTTPSUpgrade{},
	}
}

// Manager owns the subscription lifecycle.
type Manager struct {
	store    Store
	interest InterestChecker
	verifier *Verifier
	pusher   *Pusher
	limiter  *RateLimiter
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewManager creates a manager. client is used for both verification and
// pushes and gets cfg.Timeout when it has none. limiter may be nil.
func NewManager(store Store, interest InterestChecker, client *http.Client, limiter *RateLimiter, cfg Config, logger *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		c := *client
		c.Timeout = cfg.Timeout
		client = &c
	}
	if cfg.Upgrade == nil {
		cfg.Upgrade = NoUpgrade{}
	}
	return &Manager{
		store:    store,
		interest: interest,
		verifier: NewVerifier(client, cfg.StrictChallenge, logger),
		pusher:   NewPusher(client, logger),
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/Priya8975/federation-engine/internal/websub"),
		now:      time.Now,
	}
}

// Subscribe verifies intent with the callback and, on confirmation, stores
// or extends the lease. Nothing is stored when verification fails.
func (m *Manager) Subscribe(ctx context.Context, topic, callback, secret string, leaseSeconds int64) (*domain.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if err := ValidateCallback(callback); err != nil {
		return nil, err
	}
	lease := SanitizeLease(leaseSeconds)
	if err := m.verifier.Verify(ctx, ModeSubscribe, topic, callback, lease); err != nil {
		return nil, err
	}

	now := m.now()
	sub := &domain.Subscription{
		HashKey:    domain.HashKey(topic, callback),
		Topic:      topic,
		Callback:   callback,
		Secret:     secret,
		LeaseStart: now,
		LeaseEnd:   now.Add(lease),
	}
	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("storing subscription: %w", err)
	}

	m.logger.Info("subscription verified",
		"topic", topic,
		"callback", callback,
		"lease_seconds", int64(lease/time.Second),
	)
	return sub, nil
}

// Unsubscribe verifies intent and deletes the subscription. Unsubscribing
// a pair that has no record is a successful no-op.
func (m *Manager) Unsubscribe(ctx context.Context, topic, callback string) error {
	key := domain.HashKey(topic, callback)
	sub, err := m.store.GetSubscription(ctx, key)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil
	}
	if err := m.verifier.Verify(ctx, ModeUnsubscribe, topic, callback, 0); err != nil {
		return err
	}
	if _, err := m.store.DeleteSubscription(ctx, key); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	m.logger.Info("subscription removed", "topic", topic, "callback", callback)
	return nil
}

// Get returns the subscription for (topic, callback), or nil.
func (m *Manager) Get(ctx context.Context, topic, callback string) (*domain.Subscription, error) {
	return m.store.GetSubscription(ctx, domain.HashKey(topic, callback))
}

// Subscribers lists the subscriptions of topic whose lease is still valid.
func (m *Manager) Subscribers(ctx context.Context, topic string) ([]domain.Subscription, error) {
	subs, err := m.store.ListSubscriptionsByTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	now := m.now()
	live := make([]domain.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.State(now) != domain.StateExpired {
			live = append(live, s)
		}
	}
	return live, nil
}

// RecordDeliveryResult updates the error counters of (topic, callback).
// A success clears them. The first failure after a success starts the
// failure clock; later failures only bump the count.
func (m *Manager) RecordDeliveryResult(ctx context.Context, topic, callback string, success bool, errMsg string) error {
	key := domain.HashKey(topic, callback)
	if success {
		return m.store.RecordDeliverySuccess(ctx, key)
	}
	return m.store.RecordDeliveryFailure(ctx, key, errMsg, m.now())
}

// Push delivers body to one subscriber and records the outcome. A failed
// push to a plain-HTTP callback is retried on the upgrade's alternative;
// if that succeeds the subscription moves to the new callback.
func (m *Manager) Push(ctx context.Context, sub *domain.Subscription, body []byte) error {
	ctx, span := m.tracer.Start(ctx, "websub.Push", trace.WithAttributes(
		attribute.String("websub.topic", sub.Topic),
		attribute.String("websub.callback", sub.Callback),
	))
	defer span.End()

	if !m.limiter.Allow(ctx, sub.Callback) {
		metrics.PushAttempts.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	err := m.pusher.Post(ctx, sub.Callback, sub.Secret, body)
	if err == nil {
		metrics.PushAttempts.WithLabelValues("success").Inc()
		return m.RecordDeliveryResult(ctx, sub.Topic, sub.Callback, true, "")
	}

	if alt, ok := m.cfg.Upgrade.Alternative(sub.Callback); ok {
		if altErr := m.pusher.Post(ctx, alt, sub.Secret, body); altErr == nil {
			metrics.PushAttempts.WithLabelValues("upgraded").Inc()
			return m.migrate(ctx, sub, alt)
		}
	}

	metrics.PushAttempts.WithLabelValues("failure").Inc()
	span.RecordError(err)
	m.logger.Warn("push failed",
		"topic", sub.Topic,
		"callback", sub.Callback,
		"error", err,
	)
	if recErr := m.RecordDeliveryResult(ctx, sub.Topic, sub.Callback, false, err.Error()); recErr != nil {
		m.logger.Error("failed to record push failure", "error", recErr, "callback", sub.Callback)
	}
	return err
}

// migrate rewrites sub to callback, keyed by the new hashkey, and drops the
// old record. Error counters start clean on the new key.
func (m *Manager) migrate(ctx context.Context, sub *domain.Subscription, callback string) error {
	moved := *sub
	moved.Callback = callback
	moved.HashKey = domain.HashKey(sub.Topic, callback)
	moved.ErrorCount = 0
	moved.ErrorStart = nil
	moved.LastError = nil
	moved.LastErrorMsg = nil
	if err := m.store.ReplaceSubscription(ctx, sub.HashKey, &moved); err != nil {
		return fmt.Errorf("migrating callback: %w", err)
	}
	m.logger.Warn("callback migrated to https",
		"topic", sub.Topic,
		"from", sub.Callback,
		"to", callback,
	)
	*sub = moved
	return nil
}

// GCMode selects whether GarbageCollect deletes or only reports.
type GCMode int

const (
	GCDryRun GCMode = iota
	GCDelete
)

// GCCandidate is a subscription flagged for removal.
type GCCandidate struct {
	Subscription domain.Subscription
	Reason       string
}

// GCReport summarizes a collection pass.
type GCReport struct {
	Candidates []GCCandidate
	Deleted    int
}

// GarbageCollect flags subscriptions whose topic lost local interest, whose
// lease expired, or that have failed continuously past the error
// threshold. In GCDelete mode they are removed.
func (m *Manager) GarbageCollect(ctx context.Context, mode GCMode) (*GCReport, error) {
	now := m.now()
	report := &GCReport{Candidates: []GCCandidate{}}
	seen := make(map[string]bool)
	flag := func(s domain.Subscription, reason string) {
		if seen[s.HashKey] {
			return
		}
		seen[s.HashKey] = true
		report.Candidates = append(report.Candidates, GCCandidate{Subscription: s, Reason: reason})
	}

	topics, err := m.store.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	for _, topic := range topics {
		wanted, err := m.interest.HasInterest(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("checking interest in %s: %w", topic, err)
		}
		if wanted {
			continue
		}
		subs, err := m.store.ListSubscriptionsByTopic(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("listing subscriptions: %w", err)
		}
		for _, s := range subs {
			flag(s, "no-interest")
		}
	}

	expired, err := m.store.ListLeasesEndingBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired leases: %w", err)
	}
	for _, s := range expired {
		flag(s, "expired")
	}

	failing, err := m.store.ListFailingSince(ctx, now.Add(-m.cfg.ErrorThreshold))
	if err != nil {
		return nil, fmt.Errorf("listing failing subscriptions: %w", err)
	}
	for _, s := range failing {
		flag(s, "failing")
	}

	for _, c := range report.Candidates {
		m.logger.Info("subscription flagged for collection",
			"topic", c.Subscription.Topic,
			"callback", c.Subscription.Callback,
			"reason", c.Reason,
			"delete", mode == GCDelete,
		)
		if mode != GCDelete {
			continue
		}
		ok, err := m.store.DeleteSubscription(ctx, c.Subscription.HashKey)
		if err != nil {
			return report, fmt.Errorf("deleting subscription: %w", err)
		}
		if ok {
			report.Deleted++
		}
	}
	return report, nil
}

// RenewalCheck re-verifies every live subscription whose lease ends within
// the renew horizon and whose topic still has local interest, extending
// the lease by its original length. Failures are logged and returned
// joined; the remaining subscriptions are still processed.
func (m *Manager) RenewalCheck(ctx context.Context) (int, error) {
	now := m.now()
	subs, err := m.store.ListLeasesEndingBefore(ctx, now.Add(m.cfg.RenewHorizon))
	if err != nil {
		return 0, fmt.Errorf("listing expiring leases: %w", err)
	}

	renewed := 0
	var errs []error
	for _, s := range subs {
		if !s.LeaseEnd.After(now) {
			continue
		}
		wanted, err := m.interest.HasInterest(ctx, s.Topic)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !wanted {
			continue
		}
		if _, err := m.Subscribe(ctx, s.Topic, s.Callback, s.Secret, s.LeaseSeconds()); err != nil {
			m.logger.Warn("lease renewal failed",
				"topic", s.Topic,
				"callback", s.Callback,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("renewing %s: %w", s.Callback, err))
			continue
		}
		renewed++
	}
	return renewed, errors.Join(errs...)
}
