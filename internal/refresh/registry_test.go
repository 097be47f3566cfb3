package refresh

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlens-io/adlens/internal/storage"
)

func TestRegistry(t *testing.T) {
	snapshots := storage.NewInMemorySnapshotStore()
	builds := 0

	r, err := NewRegistry(func(storeID, window string) (*Scheduler, error) {
		builds++

		if storeID == "broken" {
			return nil, errors.New("no accounts linked")
		}

		return NewScheduler(storeID, window, []Section{{Key: "summary", Kind: KindCore, Run: okRun(`1`)}},
			snapshots, WithLogger(quietLogger()))
	})
	require.NoError(t, err)

	a, err := r.Get("store-1", "preset=last_7d")
	require.NoError(t, err)

	again, err := r.Get("store-1", "preset=last_7d")
	require.NoError(t, err)
	assert.Same(t, a, again)

	other, err := r.Get("store-1", "preset=last_30d")
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	_, err = r.Get("store-0", "preset=last_7d")
	require.NoError(t, err)

	_, err = r.Get("broken", "preset=last_7d")
	require.Error(t, err)

	assert.Equal(t, 4, builds)
	assert.Equal(t, []string{"store-0", "store-1"}, r.Stores())

	found, ok := r.Lookup("store-1", "preset=last_30d")
	assert.True(t, ok)
	assert.Same(t, other, found)

	_, ok = r.Lookup("store-9", "preset=last_7d")
	assert.False(t, ok)
}

func TestNewRegistry_RequiresFactory(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, ErrNoFactory)
}

func TestRegistry_BoundedCapacity(t *testing.T) {
	snapshots := storage.NewInMemorySnapshotStore()
	builds := 0

	r, err := NewRegistry(func(storeID, window string) (*Scheduler, error) {
		builds++

		return NewScheduler(storeID, window, []Section{{Key: "summary", Kind: KindCore, Run: okRun(`1`)}},
			snapshots, WithLogger(quietLogger()))
	}, WithCapacity(2))
	require.NoError(t, err)

	for i := range 50 {
		_, err := r.Get(fmt.Sprintf("store-%d", i), "preset=last_7d")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"store-48", "store-49"}, r.Stores())

	_, ok := r.Lookup("store-0", "preset=last_7d")
	assert.False(t, ok)

	// an evicted pair is rebuilt on demand
	_, err = r.Get("store-0", "preset=last_7d")
	require.NoError(t, err)
	assert.Equal(t, 51, builds)
}

func TestNewRegistry_InvalidCapacity(t *testing.T) {
	_, err := NewRegistry(func(string, string) (*Scheduler, error) { return nil, nil }, WithCapacity(0))
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
