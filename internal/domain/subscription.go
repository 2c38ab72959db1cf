package domain

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Lease bounds for WebSub subscriptions.
const (
	MinLease = 24 * time.Hour
	MaxLease = 30 * 24 * time.Hour
)

// Subscription is a WebSub lease held by a remote callback on one of our topics.
type Subscription struct {
	HashKey      string     `json:"hashkey"`
	Topic        string     `json:"topic"`
	Callback     string     `json:"callback"`
	Secret       string     `json:"-"`
	LeaseStart   time.Time  `json:"lease_start"`
	LeaseEnd     time.Time  `json:"lease_end"`
	ErrorCount   int        `json:"error_count"`
	ErrorStart   *time.Time `json:"error_start,omitempty"`
	LastError    *time.Time `json:"last_error,omitempty"`
	LastErrorMsg *string    `json:"last_error_msg,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SubscriptionState is the lifecycle position of a (topic, callback) pair.
type SubscriptionState string

const (
	StateUnsubscribed       SubscriptionState = "unsubscribed"
	StatePendingSubscribe   SubscriptionState = "pending-subscribe"
	StateActive             SubscriptionState = "active"
	StateErroring           SubscriptionState = "erroring"
	StatePendingUnsubscribe SubscriptionState = "pending-unsubscribe"
	StateExpired            SubscriptionState = "expired"
)

// State derives the stored part of the state machine. The pending states
// only exist for the duration of a verification handshake and are never
// stored.
func (s *Subscription) State(now time.Time) SubscriptionState {
	if s == nil {
		return StateUnsubscribed
	}
	if now.After(s.LeaseEnd) {
		return StateExpired
	}
	if s.ErrorCount > 0 {
		return StateErroring
	}
	return StateActive
}

// LeaseSeconds is the length of the stored lease.
func (s *Subscription) LeaseSeconds() int64 {
	return int64(s.LeaseEnd.Sub(s.LeaseStart) / time.Second)
}

// FailingFor reports how long deliveries have been failing without a success.
func (s *Subscription) FailingFor(now time.Time) time.Duration {
	if s.ErrorStart == nil {
		return 0
	}
	return now.Sub(*s.ErrorStart)
}

var hashKeyDomain = [32]byte{
	'f', 'e', 'd', 'e', 'r', 'a', 't', 'i', 'o', 'n', '.', 'w', 'e', 'b', 's', 'u',
	'b', '.', 'h', 'a', 's', 'h', 'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0,
}

// HashKey derives the subscription primary key from its topic and callback.
func HashKey(topic, callback string) string {
	h, err := blake3.NewKeyed(hashKeyDomain[:])
	if err != nil {
		panic("domain: blake3 keyed hasher: " + err.Error())
	}
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(callback))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a short digest used to identify payloads in logs.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
