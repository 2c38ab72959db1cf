// Package translate maps between the domain model and the two federation
// wire formats: ActivityStreams JSON and Atom entries with activity
// extensions.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
)

// Format is the wire format of an external payload.
type Format int

const (
	FormatActivityPub Format = iota + 1
	FormatAtom
)

func (f Format) protocol() string {
	if f == FormatAtom {
		return domain.ProtocolOStatus
	}
	return domain.ProtocolActivityPub
}

// Provenance says how far a payload can be trusted.
type Provenance int

const (
	ProvenanceRemote Provenance = iota
	ProvenanceLocal
)

// Payload is a raw document as received or fetched.
type Payload struct {
	Format Format
	Body   []byte
}

// Context describes where a payload came from. Sender is the actor the
// transport authenticated, if any.
type Context struct {
	Sender     string
	Provenance Provenance
	Protocol   string
}

// Translator converts external payloads into ledger entries and back.
type Translator struct {
	registry  *streams.Registry
	actors    ActorResolver
	resolvers []ObjectResolver
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a translator. actors may be nil, in which case only locally
// known actors can be referenced.
func New(registry *streams.Registry, actors ActorResolver, logger *slog.Logger) *Translator {
	return &Translator{
		registry: registry,
		actors:   actors,
		logger:   logger,
		tracer:   otel.Tracer("github.com/Priya8975/federation-engine/internal/translate"),
		now:      time.Now,
	}
}

// RegisterObjectResolver adds an importer for embedded object types other
// than Note. Resolvers are consulted in registration order.
func (t *Translator) RegisterObjectResolver(r ObjectResolver) {
	t.resolvers = append(t.resolvers, r)
}

// inbound is a decoded activity plus any author details the wire format
// carried inline.
type inbound struct {
	act      *streams.Activity
	author   *domain.Actor
	protocol string
}

var supportedVerbs = map[string]bool{
	string(domain.VerbCreate):   true,
	string(domain.VerbFollow):   true,
	string(domain.VerbUndo):     true,
	string(domain.VerbLike):     true,
	string(domain.VerbAnnounce): true,
	string(domain.VerbDelete):   true,
}

// FromExternal imports one activity through repo. If an activity with the
// same URI was imported before, the existing ledger entry is returned and
// nothing is written. The caller owns the transaction behind repo.
func (t *Translator) FromExternal(ctx context.Context, repo Repository, p Payload, c Context) (*domain.Activity, error) {
	ctx, span := t.tracer.Start(ctx, "translate.FromExternal")
	defer span.End()

	in, err := t.decode(p)
	if err == nil {
		var act *domain.Activity
		act, err = t.importActivity(ctx, repo, in, c)
		if err == nil {
			span.SetAttributes(attribute.String("activity.uri", act.URI), attribute.String("activity.verb", string(act.Verb)))
			return act, nil
		}
	}

	span.RecordError(err)
	if IsClientFault(err) {
		t.logger.Warn("rejected inbound activity",
			"fingerprint", domain.Fingerprint(p.Body),
			"error", err,
		)
	}
	return nil, err
}

// FromExternalFeed imports every entry of an Atom feed. Entries rejected as
// client faults are logged and skipped; any other failure aborts the import.
func (t *Translator) FromExternalFeed(ctx context.Context, repo Repository, body []byte, c Context) ([]*domain.Activity, error) {
	ctx, span := t.tracer.Start(ctx, "translate.FromExternalFeed")
	defer span.End()

	entries, err := parseFeed(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var imported []*domain.Activity
	for i := range entries {
		in, err := entryToActivity(&entries[i])
		if err == nil {
			var act *domain.Activity
			act, err = t.importActivity(ctx, repo, in, c)
			if err == nil {
				imported = append(imported, act)
				continue
			}
		}
		if !IsClientFault(err) {
			span.RecordError(err)
			return imported, err
		}
		t.logger.Warn("skipping feed entry", "entry_id", entries[i].ID, "error", err)
	}
	return imported, nil
}

func (t *Translator) decode(p Payload) (*inbound, error) {
	switch p.Format {
	case FormatActivityPub:
		v, err := t.registry.Unmarshal(p.Body)
		if err != nil {
			return nil, classify(err)
		}
		act, ok := v.(*streams.Activity)
		if !ok {
			return nil, unsupported("%s is not an activity", v.TypeName())
		}
		return &inbound{act: act, protocol: domain.ProtocolActivityPub}, nil
	case FormatAtom:
		return decodeAtomEntry(p.Body)
	}
	return nil, malformed("unknown payload format %d", p.Format)
}

func classify(err error) error {
	var res *streams.ResolutionError
	if errors.As(err, &res) {
		return &Error{Kind: ErrUnsupported, Err: err}
	}
	return &Error{Kind: ErrMalformed, Err: err}
}

func (t *Translator) importActivity(ctx context.Context, repo Repository, in *inbound, c Context) (*domain.Activity, error) {
	act := in.act
	if act.ID == "" {
		return nil, malformed("%s without id", act.Type)
	}
	if !supportedVerbs[act.Type] {
		return nil, unsupported("verb %s", act.Type)
	}
	actorURI := act.Actor.First().ID()
	if actorURI == "" {
		return nil, malformed("%s without actor", act.Type)
	}
	if c.Provenance == ProvenanceRemote && c.Sender != "" && c.Sender != actorURI {
		return nil, forbidden("activity by %s sent by %s", actorURI, c.Sender)
	}

	existing, err := repo.ActivityByURI(ctx, act.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up activity %s: %w", act.ID, err)
	}
	if existing != nil {
		t.logger.Debug("activity already imported", "uri", act.ID)
		return existing, nil
	}

	actor, err := t.actor(ctx, repo, actorURI, in.author)
	if err != nil {
		return nil, err
	}

	protocol := c.Protocol
	if protocol == "" {
		protocol = in.protocol
	}
	rec := &domain.Activity{
		URI:       act.ID,
		Verb:      domain.Verb(act.Type),
		ActorID:   actor.ID,
		Protocol:  protocol,
		IsLocal:   c.Provenance == ProvenanceLocal,
		Published: t.published(act.Published),
	}

	switch rec.Verb {
	case domain.VerbCreate:
		err = t.importCreate(ctx, repo, act, actor, rec)
	case domain.VerbFollow:
		err = t.importFollow(ctx, repo, act, actor, rec)
	case domain.VerbUndo:
		err = t.importUndo(ctx, repo, act, actor, rec)
	case domain.VerbLike, domain.VerbAnnounce:
		err = t.importReaction(ctx, repo, act, rec)
	case domain.VerbDelete:
		err = t.importDelete(ctx, repo, act, actor, rec)
	}
	if err != nil {
		return nil, err
	}

	if err := repo.InsertActivity(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting activity %s: %w", rec.URI, err)
	}
	return rec, nil
}

// actor finds a known actor or resolves and stores a remote one. hint is
// used when the wire format carried the author inline and resolution fails.
func (t *Translator) actor(ctx context.Context, repo Repository, uri string, hint *domain.Actor) (*domain.Actor, error) {
	a, err := repo.ActorByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("looking up actor %s: %w", uri, err)
	}
	if a != nil {
		return a, nil
	}

	var resolveErr error
	if t.actors != nil {
		a, resolveErr = t.actors.ResolveActor(ctx, uri)
	}
	if resolveErr != nil || a == nil {
		if hint == nil || hint.URI != uri {
			return nil, notFound(resolveErr, "actor %s", uri)
		}
		a = hint
	}
	if a.URI != uri {
		return nil, notFound(nil, "actor %s resolved to %s", uri, a.URI)
	}

	a.IsLocal = false
	if err := repo.InsertActor(ctx, a); err != nil {
		return nil, fmt.Errorf("inserting actor %s: %w", uri, err)
	}
	return a, nil
}

func (t *Translator) importCreate(ctx context.Context, repo Repository, act *streams.Activity, actor *domain.Actor, rec *domain.Activity) error {
	ref := act.Objects.First()
	if ref.Value == nil {
		if ref.IRI == "" {
			return malformed("Create without object")
		}
		return malformed("Create must embed its object")
	}

	if obj, ok := ref.Value.(*streams.Object); ok && obj.Type == domain.ObjectNote {
		note, err := t.importNote(ctx, repo, act, obj, actor, rec.IsLocal)
		if err != nil {
			return err
		}
		rec.ObjectType = domain.ObjectNote
		rec.ObjectID = note.ID
		return nil
	}

	name := ref.Value.TypeName()
	for _, r := range t.resolvers {
		if !r.Claims(name) {
			continue
		}
		typ, id, err := r.Import(ctx, repo, ref.Value, actor)
		if err != nil {
			return err
		}
		rec.ObjectType = typ
		rec.ObjectID = id
		return nil
	}
	return unsupported("object type %s", name)
}

func (t *Translator) importNote(ctx context.Context, repo Repository, act *streams.Activity, obj *streams.Object, actor *domain.Actor, local bool) (*domain.Note, error) {
	if obj.ID == "" {
		return nil, malformed("Note without id")
	}
	if author := obj.AttributedTo.First().ID(); author != "" && author != actor.URI {
		return nil, forbidden("note attributed to %s created by %s", author, actor.URI)
	}

	existing, err := repo.NoteByURI(ctx, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up note %s: %w", obj.ID, err)
	}
	if existing != nil {
		return existing, nil
	}

	content := obj.Content
	if content == "" && len(obj.ContentMap) > 0 {
		langs := make([]string, 0, len(obj.ContentMap))
		for lang := range obj.ContentMap {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		content = obj.ContentMap[langs[0]]
	}
	if content == "" {
		return nil, malformed("Note %s without content", obj.ID)
	}

	to, cc := obj.To, obj.CC
	if len(to)+len(cc) == 0 {
		to, cc = act.To, act.CC
	}
	published := obj.Published
	if published == nil {
		published = act.Published
	}

	note := &domain.Note{
		URI:       obj.ID,
		ActorID:   actor.ID,
		Content:   content,
		URL:       obj.URL.First().ID(),
		InReplyTo: obj.InReplyTo.First().ID(),
		Scope:     scopeOf(to, cc, actor.Followers),
		Published: t.published(published),
		IsLocal:   local,
	}
	if err := repo.InsertNote(ctx, note); err != nil {
		return nil, fmt.Errorf("inserting note %s: %w", note.URI, err)
	}
	return note, nil
}

func (t *Translator) importFollow(ctx context.Context, repo Repository, act *streams.Activity, actor *domain.Actor, rec *domain.Activity) error {
	target := act.Objects.First().ID()
	if target == "" {
		return malformed("Follow without object")
	}
	followed, err := t.actor(ctx, repo, target, nil)
	if err != nil {
		return err
	}

	err = repo.InsertFollow(ctx, &domain.Follow{
		FollowerID: actor.ID,
		FollowedID: followed.ID,
		URI:        act.ID,
		CreatedAt:  rec.Published,
	})
	if err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	rec.ObjectType = domain.ObjectActor
	rec.ObjectID = followed.ID
	return nil
}

func (t *Translator) importUndo(ctx context.Context, repo Repository, act *streams.Activity, actor *domain.Actor, rec *domain.Activity) error {
	ref := act.Objects.First()
	innerURI := ref.ID()
	if innerURI == "" && ref.Value == nil {
		return malformed("Undo without object")
	}

	var followedID string
	if innerURI != "" {
		prior, err := repo.ActivityByURI(ctx, innerURI)
		if err != nil {
			return fmt.Errorf("looking up undone activity %s: %w", innerURI, err)
		}
		if prior != nil {
			if prior.Verb != domain.VerbFollow {
				return unsupported("undo of %s", prior.Verb)
			}
			if prior.ActorID != actor.ID {
				return forbidden("undo of %s by another actor", innerURI)
			}
			followedID = prior.ObjectID
		}
	}

	if followedID == "" {
		inner, ok := ref.Value.(*streams.Activity)
		if !ok {
			return notFound(nil, "undone activity %s", innerURI)
		}
		if inner.Type != string(domain.VerbFollow) {
			return unsupported("undo of %s", inner.Type)
		}
		target := inner.Objects.First().ID()
		followed, err := repo.ActorByURI(ctx, target)
		if err != nil {
			return fmt.Errorf("looking up actor %s: %w", target, err)
		}
		if followed == nil {
			return notFound(nil, "actor %s", target)
		}
		followedID = followed.ID
	}

	if _, err := repo.DeleteFollow(ctx, actor.ID, followedID); err != nil {
		return fmt.Errorf("deleting follow: %w", err)
	}
	rec.ObjectType = domain.ObjectActor
	rec.ObjectID = followedID
	return nil
}

func (t *Translator) importReaction(ctx context.Context, repo Repository, act *streams.Activity, rec *domain.Activity) error {
	uri := act.Objects.First().ID()
	if uri == "" {
		return malformed("%s without object", act.Type)
	}
	note, err := repo.NoteByURI(ctx, uri)
	if err != nil {
		return fmt.Errorf("looking up note %s: %w", uri, err)
	}
	if note == nil {
		return notFound(nil, "note %s", uri)
	}
	rec.ObjectType = domain.ObjectNote
	rec.ObjectID = note.ID
	return nil
}

func (t *Translator) importDelete(ctx context.Context, repo Repository, act *streams.Activity, actor *domain.Actor, rec *domain.Activity) error {
	uri := act.Objects.First().ID()
	if uri == "" {
		return malformed("Delete without object")
	}
	if uri == actor.URI {
		return unsupported("actor deletion")
	}
	note, err := repo.NoteByURI(ctx, uri)
	if err != nil {
		return fmt.Errorf("looking up note %s: %w", uri, err)
	}
	if note == nil {
		return notFound(nil, "note %s", uri)
	}
	if note.ActorID != actor.ID {
		return forbidden("delete of %s by another actor", uri)
	}
	if note.DeletedAt == nil {
		if err := repo.TombstoneNote(ctx, note.ID, rec.Published); err != nil {
			return fmt.Errorf("deleting note %s: %w", uri, err)
		}
	}
	rec.ObjectType = domain.ObjectNote
	rec.ObjectID = note.ID
	return nil
}

func (t *Translator) published(p *time.Time) time.Time {
	if p != nil && !p.IsZero() {
		return p.UTC()
	}
	return t.now().UTC()
}

// scopeOf derives a note scope from its addressing.
func scopeOf(to, cc streams.Refs, followers string) domain.Scope {
	switch {
	case to.Contains(streams.PublicAudience):
		return domain.ScopePublic
	case cc.Contains(streams.PublicAudience):
		return domain.ScopeUnlisted
	case followers != "" && (to.Contains(followers) || cc.Contains(followers)):
		return domain.ScopeFollowers
	case len(to)+len(cc) > 0:
		return domain.ScopeDirect
	}
	return domain.ScopeNone
}
