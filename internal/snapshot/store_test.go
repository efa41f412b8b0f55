package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// storeContract runs the behavior every backend must share.
func storeContract(t *testing.T, store interfaces.SnapshotStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "class-1", interfaces.KindSnapshot)
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)

	require.NoError(t, store.Put(ctx, "class-1", interfaces.KindSnapshot, []byte(`{"v":1}`)))
	got, err := store.Get(ctx, "class-1", interfaces.KindSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	// Overwrite under the same key.
	require.NoError(t, store.Put(ctx, "class-1", interfaces.KindSnapshot, []byte(`{"v":2}`)))
	got, err = store.Get(ctx, "class-1", interfaces.KindSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	// Kinds are independent per class.
	require.NoError(t, store.Put(ctx, "class-1", interfaces.KindCalendar, []byte(`[]`)))
	got, err = store.Get(ctx, "class-1", interfaces.KindSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	// Classes are independent.
	_, err = store.Get(ctx, "class-2", interfaces.KindSnapshot)
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)

	require.NoError(t, store.Remove(ctx, "class-1", interfaces.KindSnapshot))
	_, err = store.Get(ctx, "class-1", interfaces.KindSnapshot)
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)

	// Removing an absent key is a no-op.
	require.NoError(t, store.Remove(ctx, "class-1", interfaces.KindSnapshot))
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	value := []byte(`{"v":1}`)
	require.NoError(t, store.Put(ctx, "class-1", interfaces.KindSnapshot, value))
	value[2] = 'x' // caller mutation must not leak into the store

	got, err := store.Get(ctx, "class-1", interfaces.KindSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snapshots.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	storeContract(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "class-1", interfaces.KindSnapshot, []byte(`{"v":1}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, "class-1", interfaces.KindSnapshot)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
}

func TestSQLiteStoreCloseIsIdempotent(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snapshots.db"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Put(context.Background(), "class-1", interfaces.KindSnapshot, []byte(`{}`))
	assert.Error(t, err)
}

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("CLASSSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set CLASSSYNC_TEST_REDIS_ADDR to run the Redis backend contract")
	}
	store, err := NewRedisStore(addr, "", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	storeContract(t, store)
}

func TestPutGetJSONRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := types.Snapshot{
		Class:   types.ClassSession{ID: "class-1", Name: "Physics", Code: "PHY10A2024"},
		Members: []types.Member{{ID: "s-1", DisplayName: "Anna", Role: types.RoleStudent}},
	}
	require.NoError(t, PutJSON(ctx, store, "class-1", interfaces.KindSnapshot, snap))

	var got types.Snapshot
	require.NoError(t, GetJSON(ctx, store, "class-1", interfaces.KindSnapshot, &got))
	assert.Equal(t, snap, got)
}

func TestGetJSONMissing(t *testing.T) {
	var got types.Snapshot
	err := GetJSON(context.Background(), NewMemoryStore(), "class-1", interfaces.KindSnapshot, &got)
	assert.ErrorIs(t, err, interfaces.ErrSnapshotNotFound)
}
