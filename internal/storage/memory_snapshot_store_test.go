package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlens-io/adlens/internal/snapshot"
)

func snapshotKey(variant string) snapshot.Key {
	return snapshot.Key{StoreID: "store-1", Endpoint: "insights", ScopeID: "act_1", Variant: variant}
}

func TestInMemorySnapshotStore_UpsertReplaces(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemorySnapshotStore()

	require.NoError(t, store.Upsert(ctx, snapshotKey("preset=last_7d"), json.RawMessage(`{"v":1}`)))
	require.NoError(t, store.Upsert(ctx, snapshotKey("preset=last_7d"), json.RawMessage(`{"v":2}`)))

	rec, ok, err := store.Get(ctx, snapshotKey("preset=last_7d"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(rec.Payload))
	assert.Equal(t, 1, store.Len())
}

func TestInMemorySnapshotStore_GetMissing(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewInMemorySnapshotStore()

	_, ok, err := store.Get(context.Background(), snapshotKey("nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.GetLatest(context.Background(), "store-1", "insights", "act_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemorySnapshotStore_GetLatest(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemorySnapshotStore(WithMemoryClock(clock))

	require.NoError(t, store.Upsert(ctx, snapshotKey("a"), json.RawMessage(`"a"`)))
	clock.Advance(time.Minute)
	require.NoError(t, store.Upsert(ctx, snapshotKey("b"), json.RawMessage(`"b"`)))

	other := snapshotKey("z")
	other.ScopeID = "act_2"
	require.NoError(t, store.Upsert(ctx, other, json.RawMessage(`"other-scope"`)))

	rec, ok, err := store.GetLatest(ctx, "store-1", "insights", "act_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", rec.Variant)
	assert.Equal(t, clock.Now().UTC(), rec.UpdatedAt)

	// Same timestamp: the later write wins.
	require.NoError(t, store.Upsert(ctx, snapshotKey("a"), json.RawMessage(`"a2"`)))

	rec, ok, err = store.GetLatest(ctx, "store-1", "insights", "act_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"a2"`, string(rec.Payload))
}

func TestInMemorySnapshotStore_ReturnsCopies(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemorySnapshotStore()
	payload := json.RawMessage(`"abc"`)

	require.NoError(t, store.Upsert(ctx, snapshotKey("a"), payload))
	payload[1] = 'X'

	rec, _, err := store.Get(ctx, snapshotKey("a"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(rec.Payload))

	rec.Payload[1] = 'Y'

	again, _, err := store.Get(ctx, snapshotKey("a"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(again.Payload))
}

func TestInMemorySnapshotStore_ConcurrentAccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemorySnapshotStore()

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			key := snapshotKey(fmt.Sprintf("v%d", i%5))
			assert.NoError(t, store.Upsert(ctx, key, json.RawMessage(`1`)))

			_, _, err := store.Get(ctx, key)
			assert.NoError(t, err)

			_, _, err = store.GetLatest(ctx, "store-1", "insights", "act_1")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 5, store.Len())
}
