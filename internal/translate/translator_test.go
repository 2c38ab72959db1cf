package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
)

type memRepo struct {
	actors     map[string]*domain.Actor
	notes      map[string]*domain.Note
	activities map[string]*domain.Activity
	follows    map[[2]string]*domain.Follow
	seq        int
}

func newMemRepo() *memRepo {
	return &memRepo{
		actors:     make(map[string]*domain.Actor),
		notes:      make(map[string]*domain.Note),
		activities: make(map[string]*domain.Activity),
		follows:    make(map[[2]string]*domain.Follow),
	}
}

func (r *memRepo) nextID() string {
	r.seq++
	return fmt.Sprintf("id-%d", r.seq)
}

func (r *memRepo) ActivityByURI(_ context.Context, uri string) (*domain.Activity, error) {
	return r.activities[uri], nil
}

func (r *memRepo) ActorByURI(_ context.Context, uri string) (*domain.Actor, error) {
	return r.actors[uri], nil
}

func (r *memRepo) NoteByURI(_ context.Context, uri string) (*domain.Note, error) {
	return r.notes[uri], nil
}

func (r *memRepo) InsertActor(_ context.Context, a *domain.Actor) error {
	if a.ID == "" {
		a.ID = r.nextID()
	}
	r.actors[a.URI] = a
	return nil
}

func (r *memRepo) InsertNote(_ context.Context, n *domain.Note) error {
	n.ID = r.nextID()
	r.notes[n.URI] = n
	return nil
}

func (r *memRepo) InsertActivity(_ context.Context, a *domain.Activity) error {
	a.ID = r.nextID()
	r.activities[a.URI] = a
	return nil
}

func (r *memRepo) InsertFollow(_ context.Context, f *domain.Follow) error {
	r.follows[[2]string{f.FollowerID, f.FollowedID}] = f
	return nil
}

func (r *memRepo) DeleteFollow(_ context.Context, followerID, followedID string) (bool, error) {
	key := [2]string{followerID, followedID}
	_, ok := r.follows[key]
	delete(r.follows, key)
	return ok, nil
}

func (r *memRepo) TombstoneNote(_ context.Context, noteID string, at time.Time) error {
	for _, n := range r.notes {
		if n.ID == noteID {
			n.DeletedAt = &at
		}
	}
	return nil
}

func (r *memRepo) actorByID(id string) *domain.Actor {
	for _, a := range r.actors {
		if a.ID == id {
			return a
		}
	}
	return nil
}

var (
	alice = domain.Actor{
		URI:       "https://local.example/users/alice",
		Nickname:  "alice",
		Inbox:     "https://local.example/users/alice/inbox",
		Followers: "https://local.example/users/alice/followers",
		IsLocal:   true,
	}
	bob = domain.Actor{
		URI:      "https://remote.example/users/bob",
		Nickname: "bob",
		Inbox:    "https://remote.example/users/bob/inbox",
	}
	published = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func staticActors(actors ...domain.Actor) ActorResolver {
	return ActorResolverFunc(func(_ context.Context, uri string) (*domain.Actor, error) {
		for _, a := range actors {
			if a.URI == uri {
				cp := a
				cp.ID = ""
				return &cp, nil
			}
		}
		return nil, errors.New("actor unreachable")
	})
}

func setupTranslator(t *testing.T, actors ...domain.Actor) *Translator {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tr := New(streams.NewRegistry(), staticActors(actors...), logger)
	tr.now = func() time.Time { return published.Add(time.Hour) }
	return tr
}

func createBundle() Bundle {
	author := alice
	author.ID = "a1"
	return Bundle{
		Activity: &domain.Activity{
			ID:        "act1",
			URI:       "https://local.example/activities/1",
			Verb:      domain.VerbCreate,
			ActorID:   author.ID,
			Published: published,
		},
		Actor: &author,
		Note: &domain.Note{
			ID:        "n1",
			URI:       "https://local.example/notes/1",
			ActorID:   author.ID,
			Content:   "<p>hello fediverse</p>",
			URL:       "https://local.example/notice/1",
			Published: published,
		},
	}
}

func TestRoundTrip_ActivityPub(t *testing.T) {
	tr := setupTranslator(t, alice)
	b := createBundle()

	body, err := tr.ToExternal(b, domain.ProtocolActivityPub)
	require.NoError(t, err)

	repo := newMemRepo()
	got, err := tr.FromExternal(context.Background(), repo,
		Payload{Format: FormatActivityPub, Body: body},
		Context{Sender: alice.URI, Provenance: ProvenanceRemote})
	require.NoError(t, err)

	assert.Equal(t, domain.VerbCreate, got.Verb)
	assert.Equal(t, b.Activity.URI, got.URI)
	assert.Equal(t, domain.ProtocolActivityPub, got.Protocol)
	assert.True(t, published.Equal(got.Published))
	require.NotNil(t, repo.actorByID(got.ActorID))
	assert.Equal(t, alice.URI, repo.actorByID(got.ActorID).URI)

	note := repo.notes[b.Note.URI]
	require.NotNil(t, note)
	assert.Equal(t, got.ObjectID, note.ID)
	assert.Equal(t, b.Note.Content, note.Content)
	assert.Equal(t, b.Note.URL, note.URL)
	assert.Equal(t, domain.ScopePublic, note.Scope)
}

func TestRoundTrip_Atom(t *testing.T) {
	tr := setupTranslator(t)
	b := createBundle()

	body, err := tr.ToExternal(b, domain.ProtocolOStatus)
	require.NoError(t, err)

	repo := newMemRepo()
	got, err := tr.FromExternal(context.Background(), repo,
		Payload{Format: FormatAtom, Body: body}, Context{})
	require.NoError(t, err)

	assert.Equal(t, domain.VerbCreate, got.Verb)
	assert.Equal(t, domain.ProtocolOStatus, got.Protocol)
	actor := repo.actorByID(got.ActorID)
	require.NotNil(t, actor, "actor is created from the entry author")
	assert.Equal(t, alice.URI, actor.URI)
	assert.Equal(t, "alice", actor.Nickname)

	note := repo.notes[b.Note.URI]
	require.NotNil(t, note)
	assert.Equal(t, b.Note.Content, note.Content)
	assert.Equal(t, domain.ScopePublic, note.Scope)
}

func TestToExternal_Stable(t *testing.T) {
	tr := setupTranslator(t)
	b := createBundle()

	for _, protocol := range []string{domain.ProtocolActivityPub, domain.ProtocolOStatus} {
		first, err := tr.ToExternal(b, protocol)
		require.NoError(t, err)
		second, err := tr.ToExternal(b, protocol)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second), protocol)
	}
}

func TestToExternal_DefaultAudienceIsPublic(t *testing.T) {
	tr := setupTranslator(t)
	body, err := tr.ToExternal(createBundle(), domain.ProtocolActivityPub)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, streams.ContextURI, doc["@context"])
	assert.Equal(t, []any{streams.PublicAudience}, doc["to"])
	assert.Equal(t, []any{alice.Followers}, doc["cc"])
	assert.Equal(t, "2024-03-01T12:00:00Z", doc["published"])
}

func TestToExternal_DirectScopeHasNoAudience(t *testing.T) {
	tr := setupTranslator(t)
	b := createBundle()
	b.Note.Scope = domain.ScopeDirect

	body, err := tr.ToExternal(b, domain.ProtocolActivityPub)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.NotContains(t, doc, "to")
	assert.NotContains(t, doc, "cc")
}

func TestToExternal_UnknownProtocol(t *testing.T) {
	tr := setupTranslator(t)
	_, err := tr.ToExternal(createBundle(), "carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFromExternal_Idempotent(t *testing.T) {
	tr := setupTranslator(t, alice)
	body, err := tr.ToExternal(createBundle(), domain.ProtocolActivityPub)
	require.NoError(t, err)

	repo := newMemRepo()
	p := Payload{Format: FormatActivityPub, Body: body}
	first, err := tr.FromExternal(context.Background(), repo, p, Context{})
	require.NoError(t, err)
	second, err := tr.FromExternal(context.Background(), repo, p, Context{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.activities, 1)
	assert.Len(t, repo.notes, 1)
}

func TestFromExternal_FollowAndUndo(t *testing.T) {
	tr := setupTranslator(t, bob)
	repo := newMemRepo()
	local := alice
	require.NoError(t, repo.InsertActor(context.Background(), &local))

	follow := `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/follows/1",
		"type": "Follow",
		"actor": "https://remote.example/users/bob",
		"object": "https://local.example/users/alice"
	}`
	got, err := tr.FromExternal(context.Background(), repo,
		Payload{Format: FormatActivityPub, Body: []byte(follow)},
		Context{Sender: bob.URI})
	require.NoError(t, err)

	assert.Equal(t, domain.VerbFollow, got.Verb)
	assert.Equal(t, domain.ObjectActor, got.ObjectType)
	assert.Equal(t, local.ID, got.ObjectID)
	remote := repo.actors[bob.URI]
	require.NotNil(t, remote)
	assert.False(t, remote.IsLocal)
	assert.Contains(t, repo.follows, [2]string{remote.ID, local.ID})

	undo := `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/undos/1",
		"type": "Undo",
		"actor": "https://remote.example/users/bob",
		"object": {
			"id": "https://remote.example/follows/1",
			"type": "Follow",
			"actor": "https://remote.example/users/bob",
			"object": "https://local.example/users/alice"
		}
	}`
	got, err = tr.FromExternal(context.Background(), repo,
		Payload{Format: FormatActivityPub, Body: []byte(undo)},
		Context{Sender: bob.URI})
	require.NoError(t, err)
	assert.Equal(t, domain.VerbUndo, got.Verb)
	assert.Empty(t, repo.follows)
}

func TestFromExternal_LikeAndDelete(t *testing.T) {
	tr := setupTranslator(t, bob)
	repo := newMemRepo()
	ctx := context.Background()

	create := `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/activities/9",
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"object": {"id": "https://remote.example/notes/9", "type": "Note", "content": "hi"}
	}`
	_, err := tr.FromExternal(ctx, repo, Payload{Format: FormatActivityPub, Body: []byte(create)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeNone, repo.notes["https://remote.example/notes/9"].Scope)

	like := `{"id": "https://remote.example/likes/1", "type": "Like",
		"actor": "https://remote.example/users/bob", "object": "https://remote.example/notes/9"}`
	got, err := tr.FromExternal(ctx, repo, Payload{Format: FormatActivityPub, Body: []byte(like)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, domain.ObjectNote, got.ObjectType)

	del := `{"id": "https://remote.example/deletes/1", "type": "Delete",
		"actor": "https://remote.example/users/bob",
		"object": {"id": "https://remote.example/notes/9", "type": "Tombstone"}}`
	_, err = tr.FromExternal(ctx, repo, Payload{Format: FormatActivityPub, Body: []byte(del)}, Context{})
	require.NoError(t, err)
	assert.NotNil(t, repo.notes["https://remote.example/notes/9"].DeletedAt)

	missing := `{"id": "https://remote.example/likes/2", "type": "Like",
		"actor": "https://remote.example/users/bob", "object": "https://remote.example/notes/404"}`
	_, err = tr.FromExternal(ctx, repo, Payload{Format: FormatActivityPub, Body: []byte(missing)}, Context{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFromExternal_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		ctx  Context
		want error
	}{
		{"invalid json", `{"type":`, Context{}, ErrMalformed},
		{"unknown type", `{"type": "Bogus", "id": "https://remote.example/x"}`, Context{}, ErrUnsupported},
		{"not an activity", `{"type": "Note", "id": "https://remote.example/x", "content": "hi"}`, Context{}, ErrUnsupported},
		{"unsupported verb", `{"type": "Block", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob"}`, Context{}, ErrUnsupported},
		{"missing id", `{"type": "Follow", "actor": "https://remote.example/users/bob", "object": "https://local.example/users/alice"}`, Context{}, ErrMalformed},
		{"missing actor", `{"type": "Follow", "id": "https://remote.example/x", "object": "https://local.example/users/alice"}`, Context{}, ErrMalformed},
		{"invalid attribute", `{"type": "Follow", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob", "published": "soon"}`, Context{}, ErrMalformed},
		{"sender mismatch", `{"type": "Follow", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob", "object": "https://local.example/users/alice"}`,
			Context{Sender: "https://evil.example/users/mallory"}, ErrForbidden},
		{"unresolvable actor", `{"type": "Follow", "id": "https://remote.example/x", "actor": "https://gone.example/users/carol", "object": "https://local.example/users/alice"}`, Context{}, ErrNotFound},
		{"unknown embedded type", `{"type": "Create", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob",
			"object": {"type": "Video", "id": "https://remote.example/v/1"}}`, Context{}, ErrUnsupported},
		{"note without content", `{"type": "Create", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob",
			"object": {"type": "Note", "id": "https://remote.example/n/1"}}`, Context{}, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := setupTranslator(t, bob)
			repo := newMemRepo()
			_, err := tr.FromExternal(context.Background(), repo,
				Payload{Format: FormatActivityPub, Body: []byte(tt.body)}, tt.ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, repo.activities)

			var terr *Error
			assert.True(t, errors.As(err, &terr))
		})
	}
}

type videoResolver struct{ imported []string }

func (r *videoResolver) Claims(typeName string) bool { return typeName == "Video" }

func (r *videoResolver) Import(_ context.Context, _ Repository, obj streams.Value, _ *domain.Actor) (string, string, error) {
	r.imported = append(r.imported, obj.GetID())
	return "Video", "video-1", nil
}

func TestFromExternal_ObjectResolver(t *testing.T) {
	tr := setupTranslator(t, bob)
	vr := &videoResolver{}
	tr.RegisterObjectResolver(vr)

	body := `{"type": "Create", "id": "https://remote.example/x", "actor": "https://remote.example/users/bob",
		"object": {"type": "Video", "id": "https://remote.example/v/1"}}`
	got, err := tr.FromExternal(context.Background(), newMemRepo(),
		Payload{Format: FormatActivityPub, Body: []byte(body)}, Context{})
	require.NoError(t, err)

	assert.Equal(t, "Video", got.ObjectType)
	assert.Equal(t, "video-1", got.ObjectID)
	assert.Equal(t, []string{"https://remote.example/v/1"}, vr.imported)
}

func TestActorDocument_RoundTrip(t *testing.T) {
	a := alice
	a.SharedInbox = "https://local.example/inbox"
	body, err := ActorDocument(&a, "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----\n")
	require.NoError(t, err)

	v, err := streams.NewRegistry().Unmarshal(body)
	require.NoError(t, err)
	doc, ok := v.(*streams.Actor)
	require.True(t, ok)
	assert.Equal(t, KeyID(a.URI), doc.PublicKey.ID)

	got, err := ActorFromValue(doc)
	require.NoError(t, err)
	assert.Equal(t, a.URI, got.URI)
	assert.Equal(t, a.Inbox, got.Inbox)
	assert.Equal(t, a.SharedInbox, got.SharedInbox)
	assert.Contains(t, got.PublicKeyPEM, "PUBLIC KEY")
}

func TestActorFromValue_RejectsForeignKey(t *testing.T) {
	doc := &streams.Actor{
		Object:    streams.Object{Type: "Person", ID: bob.URI},
		Inbox:     bob.Inbox,
		PublicKey: &streams.PublicKey{ID: "https://evil.example/k", Owner: "https://evil.example/u", PublicKeyPem: "x"},
	}
	_, err := ActorFromValue(doc)
	assert.ErrorIs(t, err, ErrMalformed)
}
