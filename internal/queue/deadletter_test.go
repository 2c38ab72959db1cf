package queue

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/federation-engine/internal/domain"
)

func TestDirSink_WritesCompressedPayload(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)
	dl := &domain.DeadLetter{Site: "site1", Handler: "hubout", MessageID: "m1", Payload: []byte("frame body")}

	require.NoError(t, sink.Write(context.Background(), dl))
	path := sink.Path(dl)
	assert.Equal(t, filepath.Join(dir, "site1", "hubout", "m1.zst"), path)

	got, err := ReadDeadLetter(path)
	require.NoError(t, err)
	assert.Equal(t, "frame body", string(got))
}

func TestDirSink_PathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)
	path := sink.Path(&domain.DeadLetter{Site: "..", Handler: "a/b", MessageID: "../../etc/passwd"})

	rel, err := filepath.Rel(dir, path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."), "path %s escapes %s", path, dir)
	assert.Len(t, strings.Split(rel, string(filepath.Separator)), 3)
}

func TestMultiSink_WritesToAllAndJoinsErrors(t *testing.T) {
	dir := t.TempDir()
	failing := SinkFunc(func(context.Context, *domain.DeadLetter) error { return errors.New("db down") })
	dl := &domain.DeadLetter{Site: "site1", Handler: "hubout", MessageID: "m1", Payload: []byte("x")}

	err := MultiSink{failing, NewDirSink(dir)}.Write(context.Background(), dl)
	assert.ErrorContains(t, err, "db down")
	assert.FileExists(t, NewDirSink(dir).Path(dl))
}

func TestRedeliveryCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	c := NewRedeliveryCounter(client, time.Hour)

	n, err := c.Incr(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Incr(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Hour, mr.TTL("redelivery:m1"))

	mr.FastForward(time.Hour + time.Second)
	n, err = c.Incr(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "count restarts after expiry")

	require.NoError(t, c.Clear(ctx, "m1"))
	assert.False(t, mr.Exists("redelivery:m1"))
}
