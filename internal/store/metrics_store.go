package store

import (
	"context"
	"fmt"
)

// FederationStats holds aggregated counts for the ops dashboard.
type FederationStats struct {
	Subscriptions       int `json:"subscriptions"`
	ErroringSubscribers int `json:"erroring_subscriptions"`
	ExpiredLeases       int `json:"expired_leases"`
	Topics              int `json:"topics"`
	DeadLetterCount     int `json:"dead_letter_count"`
	RemoteActors        int `json:"remote_actors"`
	Activities          int `json:"activities"`
}

// GetFederationStats returns aggregated statistics from the database.
func (s *PostgresStore) GetFederationStats(ctx context.Context) (*FederationStats, error) {
	var m FederationStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE error_count > 0) AS erroring,
			COUNT(*) FILTER (WHERE lease_end < NOW()) AS expired,
			COUNT(DISTINCT topic) AS topics
		FROM websub_subscriptions
	`).Scan(&m.Subscriptions, &m.ErroringSubscribers, &m.ExpiredLeases, &m.Topics)
	if err != nil {
		return nil, fmt.Errorf("querying subscription stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL
	`).Scan(&m.DeadLetterCount)
	if err != nil {
		return nil, fmt.Errorf("querying dead letter count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM actors WHERE NOT is_local
	`).Scan(&m.RemoteActors)
	if err != nil {
		return nil, fmt.Errorf("querying remote actors: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM activities
	`).Scan(&m.Activities)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}

	return &m, nil
}
