package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", []byte(`{"v":1}`)))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, store.Set(ctx, "k", []byte(`{"v":2}`)))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryStore(t *testing.T) {
	testStoreRoundTrip(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestFileStoreAwkwardKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "netguard:queue/v1?weird=yes"
	require.NoError(t, store.Set(ctx, key, []byte("data")))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	val := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", val))
	val[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got, "store must not alias caller buffers")
}

func TestSaverCoalescesBursts(t *testing.T) {
	store := NewMemoryStore()

	var snapshots int64
	saver := NewSaver(store, "k", 20*time.Millisecond, func() ([]byte, error) {
		atomic.AddInt64(&snapshots, 1)
		return []byte("state"), nil
	}, nil)

	for i := 0; i < 50; i++ {
		saver.Mark()
	}

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), "k")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&snapshots),
		"a burst of marks must coalesce into one write")
}

func TestSaverFlush(t *testing.T) {
	store := NewMemoryStore()
	saver := NewSaver(store, "k", time.Hour, func() ([]byte, error) {
		return []byte("state"), nil
	}, nil)

	saver.Mark()
	require.NoError(t, saver.Flush(context.Background()))

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)
}

func TestSaverCloseFlushesPendingState(t *testing.T) {
	store := NewMemoryStore()
	saver := NewSaver(store, "k", time.Hour, func() ([]byte, error) {
		return []byte("final"), nil
	}, nil)

	saver.Mark()
	require.NoError(t, saver.Close())

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("final"), got)
}
