package websub

import (
	"context"
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
)

// Store persists subscriptions keyed by hashkey. Lookups return (nil, nil)
// when nothing matches. RecordDeliveryFailure and RecordDeliverySuccess must
// each be a single atomic update so concurrent workers never lose a count.
type Store interface {
	GetSubscription(ctx context.Context, hashKey string) (*domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	DeleteSubscription(ctx context.Context, hashKey string) (bool, error)

	// ReplaceSubscription stores sub and removes oldHashKey in one transaction.
	ReplaceSubscription(ctx context.Context, oldHashKey string, sub *domain.Subscription) error

	RecordDeliverySuccess(ctx context.Context, hashKey string) error
	RecordDeliveryFailure(ctx context.Context, hashKey, msg string, at time.Time) error

	ListSubscriptionsByTopic(ctx context.Context, topic string) ([]domain.Subscription, error)
	ListTopics(ctx context.Context) ([]string, error)

	// ListLeasesEndingBefore returns subscriptions whose lease ends before t.
	ListLeasesEndingBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error)

	// ListFailingSince returns subscriptions that have been failing
	// continuously since at or before t.
	ListFailingSince(ctx context.Context, t time.Time) ([]domain.Subscription, error)
}

// InterestChecker decides whether a topic still has local interest.
type InterestChecker interface {
	HasInterest(ctx context.Context, topic string) (bool, error)
}

// InterestFunc adapts a function to InterestChecker.
type InterestFunc func(ctx context.Context, topic string) (bool, error)

func (f InterestFunc) HasInterest(ctx context.Context, topic string) (bool, error) {
	return f(ctx, topic)
}
