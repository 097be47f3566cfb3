// Package snapshot defines the durable snapshot records that back the fetch cascade
// when the upstream API is slow, throttled or down.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable indicates the snapshot store could not be reached.
// Callers treat it as an empty result; it is never surfaced to end users.
var ErrUnavailable = errors.New("snapshot store unavailable")

// Key identifies one snapshot record. At most one record exists per key.
type Key struct {
	StoreID  string
	Endpoint string
	ScopeID  string
	Variant  string
}

// Record is a stored payload together with the time it was last written.
type Record struct {
	Key
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Store is a keyed get/upsert persistence layer for snapshot records.
//
// Implementations replace records wholesale on Upsert (no merging) and must be safe
// for concurrent use. Lookups report a miss with ok=false and a nil error.
type Store interface {
	// Get returns the record stored under key.
	Get(ctx context.Context, key Key) (Record, bool, error)

	// GetLatest returns the most recently updated record for a scope across all variants.
	GetLatest(ctx context.Context, storeID, endpoint, scopeID string) (Record, bool, error)

	// Upsert creates or replaces the record stored under key.
	Upsert(ctx context.Context, key Key, payload json.RawMessage) error
}
