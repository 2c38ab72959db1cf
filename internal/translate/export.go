package translate

import (
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
)

// Bundle is a ledger entry together with the entities it refers to.
// Which references are required depends on the verb.
type Bundle struct {
	Activity *domain.Activity
	Actor    *domain.Actor
	Note     *domain.Note  // Create, Like, Announce, Delete
	Followed *domain.Actor // Follow
	Undone   *Bundle       // Undo
}

// ToExternal renders b for protocol. It performs no I/O, and the output
// for a given bundle is always byte-identical.
func (t *Translator) ToExternal(b Bundle, protocol string) ([]byte, error) {
	switch protocol {
	case domain.ProtocolActivityPub:
		v, err := apActivity(b)
		if err != nil {
			return nil, err
		}
		return streams.Marshal(v)
	case domain.ProtocolOStatus:
		e, err := atomEntryOf(b)
		if err != nil {
			return nil, err
		}
		return marshalXML(e)
	}
	return nil, unsupported("protocol %s", protocol)
}

func apActivity(b Bundle) (*streams.Activity, error) {
	if b.Activity == nil || b.Actor == nil {
		return nil, malformed("bundle without activity or actor")
	}
	a := &streams.Activity{Object: streams.Object{
		Type:      string(b.Activity.Verb),
		ID:        b.Activity.URI,
		Published: timePtr(b.Activity.Published),
	}}
	a.Actor = streams.Refs{streams.IRI(b.Actor.URI)}

	switch b.Activity.Verb {
	case domain.VerbCreate:
		if b.Note == nil {
			return nil, malformed("Create bundle without note")
		}
		note := apNote(b.Note, b.Actor)
		a.To, a.CC = note.To, note.CC
		a.Objects = streams.Refs{streams.Embed(note)}
	case domain.VerbFollow:
		if b.Followed == nil {
			return nil, malformed("Follow bundle without followed actor")
		}
		a.Objects = streams.Refs{streams.IRI(b.Followed.URI)}
		a.To = streams.Refs{streams.IRI(b.Followed.URI)}
	case domain.VerbLike, domain.VerbAnnounce:
		if b.Note == nil {
			return nil, malformed("%s bundle without note", b.Activity.Verb)
		}
		a.Objects = streams.Refs{streams.IRI(b.Note.URI)}
		a.To, a.CC = audience(b.Note.Scope, b.Actor.Followers)
	case domain.VerbDelete:
		if b.Note == nil {
			return nil, malformed("Delete bundle without note")
		}
		deleted := b.Activity.Published
		if b.Note.DeletedAt != nil {
			deleted = *b.Note.DeletedAt
		}
		a.Objects = streams.Refs{streams.Embed(&streams.Tombstone{
			Object:     streams.Object{Type: "Tombstone", ID: b.Note.URI},
			FormerType: domain.ObjectNote,
			Deleted:    timePtr(deleted),
		})}
		a.To = streams.Refs{streams.IRI(streams.PublicAudience)}
	case domain.VerbUndo:
		if b.Undone == nil {
			return nil, malformed("Undo bundle without undone activity")
		}
		inner, err := apActivity(*b.Undone)
		if err != nil {
			return nil, err
		}
		a.Objects = streams.Refs{streams.Embed(inner)}
		a.To = inner.To
	default:
		return nil, unsupported("verb %s", b.Activity.Verb)
	}
	return a, nil
}

func apNote(n *domain.Note, author *domain.Actor) *streams.Object {
	o := &streams.Object{
		Type:         domain.ObjectNote,
		ID:           n.URI,
		Content:      n.Content,
		AttributedTo: streams.Refs{streams.IRI(author.URI)},
		Published:    timePtr(n.Published),
	}
	if n.URL != "" {
		o.URL = streams.Refs{streams.IRI(n.URL)}
	}
	if n.InReplyTo != "" {
		o.InReplyTo = streams.Refs{streams.IRI(n.InReplyTo)}
	}
	o.To, o.CC = audience(n.Scope, author.Followers)
	return o
}

// audience addresses a note by scope. A note without an explicit scope is
// addressed publicly.
func audience(scope domain.Scope, followers string) (to, cc streams.Refs) {
	public := streams.Refs{streams.IRI(streams.PublicAudience)}
	var fol streams.Refs
	if followers != "" {
		fol = streams.Refs{streams.IRI(followers)}
	}
	switch scope {
	case domain.ScopeUnlisted:
		return fol, public
	case domain.ScopeFollowers:
		return fol, nil
	case domain.ScopeDirect:
		return nil, nil
	}
	return public, fol
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// KeyID is the identifier of an actor's signing key.
func KeyID(actorURI string) string {
	return actorURI + "#main-key"
}

// ActorDocument renders the ActivityPub representation of a local actor.
func ActorDocument(a *domain.Actor, publicKeyPEM string) ([]byte, error) {
	doc := &streams.Actor{
		Object: streams.Object{
			Type:    "Person",
			ID:      a.URI,
			Name:    a.DisplayName,
			Summary: a.Summary,
		},
		PreferredUsername: a.Nickname,
		Inbox:             a.Inbox,
		Outbox:            a.Outbox,
		Followers:         a.Followers,
		Following:         a.Following,
	}
	if a.ProfileURL != "" {
		doc.URL = streams.Refs{streams.IRI(a.ProfileURL)}
	}
	if a.SharedInbox != "" {
		doc.Endpoints = map[string]string{"sharedInbox": a.SharedInbox}
	}
	if publicKeyPEM != "" {
		doc.PublicKey = &streams.PublicKey{
			ID:           KeyID(a.URI),
			Owner:        a.URI,
			PublicKeyPem: publicKeyPEM,
		}
	}
	return streams.Marshal(doc)
}

// ActorFromValue maps a fetched actor document to a remote domain actor.
func ActorFromValue(doc *streams.Actor) (*domain.Actor, error) {
	if doc.ID == "" {
		return nil, malformed("actor without id")
	}
	if doc.Inbox == "" {
		return nil, malformed("actor %s without inbox", doc.ID)
	}
	a := &domain.Actor{
		URI:         doc.ID,
		Nickname:    doc.PreferredUsername,
		DisplayName: doc.Name,
		Summary:     doc.Summary,
		ProfileURL:  doc.URL.First().ID(),
		Inbox:       doc.Inbox,
		SharedInbox: doc.SharedInbox(),
		Outbox:      doc.Outbox,
		Followers:   doc.Followers,
		Following:   doc.Following,
	}
	if doc.PublicKey != nil {
		if doc.PublicKey.Owner != "" && doc.PublicKey.Owner != doc.ID {
			return nil, malformed("key of %s owned by %s", doc.ID, doc.PublicKey.Owner)
		}
		a.PublicKeyPEM = doc.PublicKey.PublicKeyPem
	}
	return a, nil
}
