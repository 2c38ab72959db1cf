package translate

import (
	"context"
	"time"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
)

// Repository is the persistence the translator writes through. Lookups
// return (nil, nil) when nothing matches. Implementations run inside the
// caller's transaction and never commit.
type Repository interface {
	ActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	ActorByURI(ctx context.Context, uri string) (*domain.Actor, error)
	NoteByURI(ctx context.Context, uri string) (*domain.Note, error)

	InsertActor(ctx context.Context, a *domain.Actor) error
	InsertNote(ctx context.Context, n *domain.Note) error
	InsertActivity(ctx context.Context, a *domain.Activity) error
	InsertFollow(ctx context.Context, f *domain.Follow) error
	DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error)
	TombstoneNote(ctx context.Context, noteID string, at time.Time) error
}

// ActorResolver finds a remote actor that is not yet known locally.
type ActorResolver interface {
	ResolveActor(ctx context.Context, uri string) (*domain.Actor, error)
}

// ActorResolverFunc adapts a function to ActorResolver.
type ActorResolverFunc func(ctx context.Context, uri string) (*domain.Actor, error)

func (f ActorResolverFunc) ResolveActor(ctx context.Context, uri string) (*domain.Actor, error) {
	return f(ctx, uri)
}

// ActorFetcher retrieves an actor document.
type ActorFetcher interface {
	FetchActor(ctx context.Context, uri string) (*streams.Actor, error)
}

// RemoteActors resolves actors by dereferencing their URI.
func RemoteActors(f ActorFetcher) ActorResolver {
	return ActorResolverFunc(func(ctx context.Context, uri string) (*domain.Actor, error) {
		doc, err := f.FetchActor(ctx, uri)
		if err != nil {
			return nil, err
		}
		return ActorFromValue(doc)
	})
}

// ObjectResolver imports an embedded object type of a Create that the
// translator does not handle itself.
type ObjectResolver interface {
	Claims(typeName string) bool
	Import(ctx context.Context, repo Repository, obj streams.Value, author *domain.Actor) (objectType, objectID string, err error)
}
