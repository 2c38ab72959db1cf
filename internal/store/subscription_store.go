package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/federation-engine/internal/domain"
)

const subscriptionColumns = `hashkey, topic, callback, secret, lease_start, lease_end,
	error_count, error_start, last_error, last_error_msg, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var secret *string
	err := row.Scan(
		&sub.HashKey, &sub.Topic, &sub.Callback, &secret, &sub.LeaseStart, &sub.LeaseEnd,
		&sub.ErrorCount, &sub.ErrorStart, &sub.LastError, &sub.LastErrorMsg, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if secret != nil {
		sub.Secret = *secret
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) GetSubscription(ctx context.Context, hashKey string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM websub_subscriptions WHERE hashkey = $1`, hashKey))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// upsertSubscription inserts sub, or renews the secret and lease of an
// existing row. A renewal leaves the error counters alone.
func upsertSubscription(ctx context.Context, q querier, sub *domain.Subscription) error {
	_, err := q.Exec(ctx, `
		INSERT INTO websub_subscriptions (hashkey, topic, callback, secret, lease_start, lease_end,
			error_count, error_start, last_error, last_error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (hashkey) DO UPDATE SET
			secret = EXCLUDED.secret,
			lease_start = EXCLUDED.lease_start,
			lease_end = EXCLUDED.lease_end,
			updated_at = NOW()
	`, sub.HashKey, sub.Topic, sub.Callback, nullable(sub.Secret), sub.LeaseStart, sub.LeaseEnd,
		sub.ErrorCount, sub.ErrorStart, sub.LastError, sub.LastErrorMsg)
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	return upsertSubscription(ctx, s.pool, sub)
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, hashKey string) (bool, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM websub_subscriptions WHERE hashkey = $1`, hashKey)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReplaceSubscription(ctx context.Context, oldHashKey string, sub *domain.Subscription) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM websub_subscriptions WHERE hashkey = $1`, oldHashKey); err != nil {
			return fmt.Errorf("deleting replaced subscription: %w", err)
		}
		return upsertSubscription(ctx, tx, sub)
	})
}

// RecordDeliverySuccess clears the error state in one statement.
func (s *PostgresStore) RecordDeliverySuccess(ctx context.Context, hashKey string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE websub_subscriptions
		SET error_count = 0, error_start = NULL, last_error = NULL, last_error_msg = NULL,
			updated_at = NOW()
		WHERE hashkey = $1 AND (error_count <> 0 OR last_error IS NOT NULL)
	`, hashKey)
	if err != nil {
		return fmt.Errorf("recording delivery success: %w", err)
	}
	return nil
}

// RecordDeliveryFailure increments the error count in one statement;
// error_start is only set by the first failure of a run.
func (s *PostgresStore) RecordDeliveryFailure(ctx context.Context, hashKey, msg string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE websub_subscriptions
		SET error_count = error_count + 1,
			error_start = COALESCE(error_start, $2),
			last_error = $2,
			last_error_msg = $3,
			updated_at = NOW()
		WHERE hashkey = $1
	`, hashKey, at, msg)
	if err != nil {
		return fmt.Errorf("recording delivery failure: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubscriptionsByTopic(ctx context.Context, topic string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM websub_subscriptions WHERE topic = $1 ORDER BY created_at`, topic)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListSubscriptions returns a page of every subscription, newest first.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, limit, offset int) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM websub_subscriptions ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *PostgresStore) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT topic FROM websub_subscriptions ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	topics, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning topics: %w", err)
	}
	if topics == nil {
		topics = []string{}
	}
	return topics, nil
}

func (s *PostgresStore) ListLeasesEndingBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM websub_subscriptions WHERE lease_end < $1 ORDER BY lease_end`, t)
	if err != nil {
		return nil, fmt.Errorf("querying expiring leases: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *PostgresStore) ListFailingSince(ctx context.Context, t time.Time) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM websub_subscriptions WHERE error_start IS NOT NULL AND error_start <= $1 ORDER BY error_start`, t)
	if err != nil {
		return nil, fmt.Errorf("querying failing subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// HasInterest reports whether topic is still the feed of a local actor.
// It backs garbage collection of subscriptions.
func (s *PostgresStore) HasInterest(ctx context.Context, topic string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM actors WHERE is_local AND feed_url = $1
		)
	`, topic).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("querying topic interest: %w", err)
	}
	return ok, nil
}
