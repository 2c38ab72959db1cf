package domain

import "time"

// Actor is a local or remote account.
type Actor struct {
	ID           string    `json:"id"`
	URI          string    `json:"uri"`
	Nickname     string    `json:"nickname"`
	DisplayName  string    `json:"display_name,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	ProfileURL   string    `json:"profile_url,omitempty"`
	Inbox        string    `json:"inbox,omitempty"`
	SharedInbox  string    `json:"shared_inbox,omitempty"`
	Outbox       string    `json:"outbox,omitempty"`
	Followers    string    `json:"followers,omitempty"`
	Following    string    `json:"following,omitempty"`
	FeedURL      string    `json:"feed_url,omitempty"`
	PublicKeyPEM string    `json:"public_key_pem,omitempty"`
	IsLocal      bool      `json:"is_local"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ActorKey is the signing key pair of a local actor.
type ActorKey struct {
	ActorID       string
	KeyID         string
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// Follow is a subscription relationship between two actors.
type Follow struct {
	FollowerID string    `json:"follower_id"`
	FollowedID string    `json:"followed_id"`
	URI        string    `json:"uri,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
