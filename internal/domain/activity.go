package domain

import "time"

// Verb is the kind of an activity as stored in the ledger.
type Verb string

const (
	VerbCreate   Verb = "Create"
	VerbFollow   Verb = "Follow"
	VerbUndo     Verb = "Undo"
	VerbLike     Verb = "Like"
	VerbAnnounce Verb = "Announce"
	VerbDelete   Verb = "Delete"
)

// Object types referenced from the activity ledger.
const (
	ObjectNote     = "Note"
	ObjectActor    = "Actor"
	ObjectActivity = "Activity"
)

// Protocols an activity can arrive over.
const (
	ProtocolActivityPub = "activitypub"
	ProtocolOStatus     = "ostatus"
	ProtocolLocal       = "local"
)

// Scope is the audience of a note. The zero value means no explicit scope.
type Scope string

const (
	ScopeNone      Scope = ""
	ScopePublic    Scope = "public"
	ScopeUnlisted  Scope = "unlisted"
	ScopeFollowers Scope = "followers"
	ScopeDirect    Scope = "direct"
)

// Note is a piece of content authored by an actor.
type Note struct {
	ID        string     `json:"id"`
	URI       string     `json:"uri"`
	ActorID   string     `json:"actor_id"`
	Content   string     `json:"content"`
	URL       string     `json:"url,omitempty"`
	InReplyTo string     `json:"in_reply_to,omitempty"`
	Scope     Scope      `json:"scope,omitempty"`
	Published time.Time  `json:"published"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	IsLocal   bool       `json:"is_local"`
	CreatedAt time.Time  `json:"created_at"`
}

// Activity is an entry of the activity ledger.
type Activity struct {
	ID         string    `json:"id"`
	URI        string    `json:"uri"`
	Verb       Verb      `json:"verb"`
	ActorID    string    `json:"actor_id"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	Protocol   string    `json:"protocol"`
	IsLocal    bool      `json:"is_local"`
	Published  time.Time `json:"published"`
	CreatedAt  time.Time `json:"created_at"`
}
