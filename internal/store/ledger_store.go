package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/federation-engine/internal/domain"
)

// Ledger is the activity ledger: actors, notes, activities and follows.
// Bound to a transaction it is the translator's repository.
type Ledger struct {
	q querier
}

const actorColumns = `id, uri, nickname, COALESCE(display_name, ''), COALESCE(summary, ''),
	COALESCE(profile_url, ''), COALESCE(inbox, ''), COALESCE(shared_inbox, ''), COALESCE(outbox, ''),
	COALESCE(followers, ''), COALESCE(following, ''), COALESCE(feed_url, ''), COALESCE(public_key_pem, ''),
	is_local, created_at, updated_at`

func scanActor(row pgx.Row) (*domain.Actor, error) {
	var a domain.Actor
	err := row.Scan(
		&a.ID, &a.URI, &a.Nickname, &a.DisplayName, &a.Summary,
		&a.ProfileURL, &a.Inbox, &a.SharedInbox, &a.Outbox,
		&a.Followers, &a.Following, &a.FeedURL, &a.PublicKeyPEM,
		&a.IsLocal, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (l *Ledger) actorWhere(ctx context.Context, cond string, arg any) (*domain.Actor, error) {
	a, err := scanActor(l.q.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE `+cond, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying actor: %w", err)
	}
	return a, nil
}

func (l *Ledger) ActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	return l.actorWhere(ctx, "uri = $1", uri)
}

// LocalActor finds a local account by nickname.
func (l *Ledger) LocalActor(ctx context.Context, nickname string) (*domain.Actor, error) {
	return l.actorWhere(ctx, "is_local AND nickname = $1", nickname)
}

func (l *Ledger) InsertActor(ctx context.Context, a *domain.Actor) error {
	err := l.q.QueryRow(ctx, `
		INSERT INTO actors (uri, nickname, display_name, summary, profile_url, inbox, shared_inbox,
			outbox, followers, following, feed_url, public_key_pem, is_local)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, a.URI, a.Nickname, nullable(a.DisplayName), nullable(a.Summary), nullable(a.ProfileURL),
		nullable(a.Inbox), nullable(a.SharedInbox), nullable(a.Outbox), nullable(a.Followers),
		nullable(a.Following), nullable(a.FeedURL), nullable(a.PublicKeyPEM), a.IsLocal,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting actor: %w", err)
	}
	return nil
}

// ActorKey returns the signing keys of a local actor.
func (l *Ledger) ActorKey(ctx context.Context, actorID string) (*domain.ActorKey, error) {
	var k domain.ActorKey
	err := l.q.QueryRow(ctx, `
		SELECT actor_id, key_id, private_key_pem, public_key_pem FROM actor_keys WHERE actor_id = $1
	`, actorID).Scan(&k.ActorID, &k.KeyID, &k.PrivateKeyPEM, &k.PublicKeyPEM)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying actor key: %w", err)
	}
	return &k, nil
}

func (l *Ledger) InsertActorKey(ctx context.Context, k *domain.ActorKey) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO actor_keys (actor_id, key_id, private_key_pem, public_key_pem)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor_id) DO UPDATE SET
			key_id = EXCLUDED.key_id,
			private_key_pem = EXCLUDED.private_key_pem,
			public_key_pem = EXCLUDED.public_key_pem
	`, k.ActorID, k.KeyID, k.PrivateKeyPEM, k.PublicKeyPEM)
	if err != nil {
		return fmt.Errorf("inserting actor key: %w", err)
	}
	return nil
}

const noteColumns = `id, uri, actor_id, content, COALESCE(url, ''), COALESCE(in_reply_to, ''), scope,
	published, deleted_at, is_local, created_at`

func scanNote(row pgx.Row) (*domain.Note, error) {
	var n domain.Note
	var scope string
	err := row.Scan(&n.ID, &n.URI, &n.ActorID, &n.Content, &n.URL, &n.InReplyTo, &scope,
		&n.Published, &n.DeletedAt, &n.IsLocal, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Scope = domain.Scope(scope)
	return &n, nil
}

func (l *Ledger) noteWhere(ctx context.Context, cond string, arg any) (*domain.Note, error) {
	n, err := scanNote(l.q.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE `+cond, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying note: %w", err)
	}
	return n, nil
}

func (l *Ledger) NoteByURI(ctx context.Context, uri string) (*domain.Note, error) {
	return l.noteWhere(ctx, "uri = $1", uri)
}

func (l *Ledger) NoteByID(ctx context.Context, id string) (*domain.Note, error) {
	return l.noteWhere(ctx, "id = $1", id)
}

func (l *Ledger) InsertNote(ctx context.Context, n *domain.Note) error {
	err := l.q.QueryRow(ctx, `
		INSERT INTO notes (uri, actor_id, content, url, in_reply_to, scope, published, is_local)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, n.URI, n.ActorID, n.Content, nullable(n.URL), nullable(n.InReplyTo), string(n.Scope), n.Published, n.IsLocal,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}
	return nil
}

func (l *Ledger) TombstoneNote(ctx context.Context, noteID string, at time.Time) error {
	_, err := l.q.Exec(ctx, `
		UPDATE notes SET content = '', deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, noteID, at)
	if err != nil {
		return fmt.Errorf("tombstoning note: %w", err)
	}
	return nil
}

const activityColumns = `id, uri, verb, actor_id, object_type, object_id, protocol, is_local, published, created_at`

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	var verb string
	err := row.Scan(&a.ID, &a.URI, &verb, &a.ActorID, &a.ObjectType, &a.ObjectID,
		&a.Protocol, &a.IsLocal, &a.Published, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Verb = domain.Verb(verb)
	return &a, nil
}

func (l *Ledger) ActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	a, err := scanActivity(l.q.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE uri = $1`, uri))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	return a, nil
}

func (l *Ledger) InsertActivity(ctx context.Context, a *domain.Activity) error {
	err := l.q.QueryRow(ctx, `
		INSERT INTO activities (uri, verb, actor_id, object_type, object_id, protocol, is_local, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, a.URI, string(a.Verb), a.ActorID, a.ObjectType, a.ObjectID, a.Protocol, a.IsLocal, a.Published,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// RecentActivities returns an actor's newest ledger entries.
func (l *Ledger) RecentActivities(ctx context.Context, actorID string, limit int) ([]domain.Activity, error) {
	rows, err := l.q.Query(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE actor_id = $1
		ORDER BY published DESC
		LIMIT $2
	`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var acts []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		acts = append(acts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}

	if acts == nil {
		acts = []domain.Activity{}
	}
	return acts, nil
}

func (l *Ledger) InsertFollow(ctx context.Context, f *domain.Follow) error {
	err := l.q.QueryRow(ctx, `
		INSERT INTO follows (follower_id, followed_id, uri)
		VALUES ($1, $2, $3)
		ON CONFLICT (follower_id, followed_id) DO UPDATE SET uri = COALESCE(EXCLUDED.uri, follows.uri)
		RETURNING created_at
	`, f.FollowerID, f.FollowedID, nullable(f.URI)).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	return nil
}

func (l *Ledger) DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	result, err := l.q.Exec(ctx, `
		DELETE FROM follows WHERE follower_id = $1 AND followed_id = $2
	`, followerID, followedID)
	if err != nil {
		return false, fmt.Errorf("deleting follow: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// FollowerInboxes lists the distinct delivery inboxes of an actor's remote
// followers, preferring shared inboxes.
func (l *Ledger) FollowerInboxes(ctx context.Context, actorID string) ([]string, error) {
	rows, err := l.q.Query(ctx, `
		SELECT DISTINCT COALESCE(NULLIF(a.shared_inbox, ''), a.inbox)
		FROM follows f
		JOIN actors a ON a.id = f.follower_id
		WHERE f.followed_id = $1 AND NOT a.is_local AND COALESCE(NULLIF(a.shared_inbox, ''), a.inbox) IS NOT NULL
		ORDER BY 1
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("querying follower inboxes: %w", err)
	}
	inboxes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning follower inboxes: %w", err)
	}
	if inboxes == nil {
		inboxes = []string{}
	}
	return inboxes, nil
}
