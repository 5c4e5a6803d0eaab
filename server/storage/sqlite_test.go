package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkrehbiel/activitycore/server/activity"
)

func openTestDatabase(t *testing.T) Database {
	t.Helper()
	db := NewDatabase(MemoryConnection(t.Name()), DriverPure)
	require.NoError(t, db.Open())
	t.Cleanup(db.Close)
	return db
}

func TestStore_Upsert(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	note := &activity.Note{ObjectBase: activity.ObjectBase{ID: "https://example.com/n/1", Content: "hello"}}
	require.NoError(t, db.Store(ctx, note))

	note.Content = "goodbye"
	require.NoError(t, db.Store(ctx, note))

	obj, err := db.Load(ctx, "https://example.com/n/1")
	require.NoError(t, err)
	loaded, ok := obj.(*activity.Note)
	require.True(t, ok)
	assert.Equal(t, "goodbye", loaded.Content)
	assert.False(t, loaded.LastUpdated.IsZero())

	all, err := db.Query(ctx, activity.NoteType, Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_NoID(t *testing.T) {
	db := openTestDatabase(t)
	assert.Error(t, db.Store(context.Background(), &activity.Note{}))
}

func TestLoad_NotFound(t *testing.T) {
	db := openTestDatabase(t)
	obj, err := db.Load(context.Background(), "https://example.com/missing")
	assert.NoError(t, err)
	assert.Nil(t, obj)
}

func TestQuery_Filter(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()
	alice, err := activity.NewActor(activity.PersonType, "https://example.com/u/alice", "alice")
	require.NoError(t, err)
	bob, err := activity.NewActor(activity.PersonType, "https://example.com/u/bob", "bob")
	require.NoError(t, err)

	older := activity.NewFollow("https://example.com/f/1", alice, "https://remote.example/u/x")
	older.Published = activity.TimePtr(time.Now().Add(-time.Hour))
	newer := activity.NewFollow("https://example.com/f/2", alice, "https://remote.example/u/y")
	other := activity.NewFollow("https://example.com/f/3", bob, "https://remote.example/u/x")
	for _, f := range []activity.Object{older, newer, other} {
		require.NoError(t, db.Store(ctx, f))
	}

	found, err := db.Query(ctx, activity.FollowType, Filter{Actor: alice.Base().ID}, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "https://example.com/f/2", activity.ID(found[0]))
	assert.Equal(t, "https://example.com/f/1", activity.ID(found[1]))

	found, err = db.Query(ctx, activity.FollowType, Filter{Object: "https://remote.example/u/x"}, 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = db.Query(ctx, activity.NoteType, Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestKeys_FirstWriterWins(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()
	ref := KeyReference("https://example.com/u/alice")

	pem, err := db.LoadKey(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, pem)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := db.CreateKey(ctx, ref, []byte{byte('a' + i)})
			assert.NoError(t, err)
			results[i] = stored
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestKeyReference(t *testing.T) {
	assert.Equal(t, "example.com.u.alice.key", KeyReference("https://example.com/u/alice"))
	assert.Equal(t, "example.com:8080.a.bob.key", KeyReference("http://example.com:8080/a/bob/"))
	assert.Equal(t, "example.com.key", KeyReference("https://example.com"))
}

func TestOpen_BadDriver(t *testing.T) {
	db := NewDatabase(MemoryConnection(t.Name()), "postgres")
	assert.Error(t, db.Open())
}
