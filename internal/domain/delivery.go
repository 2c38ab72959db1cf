package domain

import (
	"time"
)

// DeadLetter is a queue item that exhausted its redelivery budget.
type DeadLetter struct {
	ID            string     `json:"id"`
	Site          string     `json:"site"`
	Handler       string     `json:"handler"`
	MessageID     string     `json:"message_id"`
	Payload       []byte     `json:"payload"`
	TotalAttempts int        `json:"total_attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
}
