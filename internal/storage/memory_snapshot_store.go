// Package storage provides snapshot store implementations for the adlens service.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/adlens-io/adlens/internal/snapshot"
)

var _ snapshot.Store = (*InMemorySnapshotStore)(nil)

type (
	// InMemorySnapshotStore provides thread-safe in-memory snapshot storage.
	// Used in tests and in deployments without a database.
	InMemorySnapshotStore struct {
		// records maps a full key to its record
		records map[snapshot.Key]*memoryRecord
		// seq orders writes that share a timestamp so the latest write wins
		seq   uint64
		clock clockwork.Clock
		// mutex protects records and seq
		mutex sync.RWMutex
	}

	memoryRecord struct {
		record snapshot.Record
		seq    uint64
	}

	// InMemorySnapshotStoreOption configures optional InMemorySnapshotStore behavior.
	InMemorySnapshotStoreOption func(*InMemorySnapshotStore)
)

// WithMemoryClock sets the clock used to stamp records.
func WithMemoryClock(clock clockwork.Clock) InMemorySnapshotStoreOption {
	return func(s *InMemorySnapshotStore) {
		s.clock = clock
	}
}

// NewInMemorySnapshotStore creates a new thread-safe in-memory snapshot store.
func NewInMemorySnapshotStore(opts ...InMemorySnapshotStoreOption) *InMemorySnapshotStore {
	s := &InMemorySnapshotStore{
		records: make(map[snapshot.Key]*memoryRecord),
		clock:   clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the record stored under key.
func (s *InMemorySnapshotStore) Get(_ context.Context, key snapshot.Key) (snapshot.Record, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.records[key]
	if !exists {
		return snapshot.Record{}, false, nil
	}

	return copyRecord(rec.record), true, nil
}

// GetLatest returns the most recently written record for the scope across all variants.
func (s *InMemorySnapshotStore) GetLatest(
	_ context.Context,
	storeID, endpoint, scopeID string,
) (snapshot.Record, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var latest *memoryRecord

	for key, rec := range s.records {
		if key.StoreID != storeID || key.Endpoint != endpoint || key.ScopeID != scopeID {
			continue
		}

		if latest == nil || newer(rec, latest) {
			latest = rec
		}
	}

	if latest == nil {
		return snapshot.Record{}, false, nil
	}

	return copyRecord(latest.record), true, nil
}

// Upsert creates or replaces the record stored under key.
func (s *InMemorySnapshotStore) Upsert(_ context.Context, key snapshot.Key, payload json.RawMessage) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.seq++

	s.records[key] = &memoryRecord{
		record: snapshot.Record{
			Key:       key,
			Payload:   bytes.Clone(payload),
			UpdatedAt: s.clock.Now().UTC(),
		},
		seq: s.seq,
	}

	return nil
}

// Len returns the number of stored records.
func (s *InMemorySnapshotStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.records)
}

func newer(a, b *memoryRecord) bool {
	if a.record.UpdatedAt.Equal(b.record.UpdatedAt) {
		return a.seq > b.seq
	}

	return a.record.UpdatedAt.After(b.record.UpdatedAt)
}

// copyRecord returns a copy to prevent external modification of the stored payload.
func copyRecord(r snapshot.Record) snapshot.Record {
	r.Payload = bytes.Clone(r.Payload)

	return r
}
