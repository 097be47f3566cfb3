// Package cache provides the ephemeral response cache consulted before any upstream call.
//
// Entries are stamped with the time they were written and are never evicted for
// staleness: readers compare CachedAt against their own per-endpoint TTL, and the
// fetch cascade can still serve an expired entry when every live path has failed.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
)

const keySeparator = "|"

// Key identifies a cached response.
type Key struct {
	StoreID  string
	Endpoint string
	ScopeID  string
	Variant  string
}

// String returns the storage form of the key. The variant is digested so keys stay bounded.
func (k Key) String() string {
	return scopePrefix(k.StoreID, k.Endpoint, k.ScopeID) + canonicalization.Digest(k.Variant)
}

// Entry is a cached payload together with the time it was stored.
type Entry struct {
	Key      Key             `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	CachedAt time.Time       `json:"cachedAt"`
}

// FreshWithin reports whether the entry is younger than ttl at now.
func (e Entry) FreshWithin(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.CachedAt) < ttl
}

// Cache is an ephemeral key-value store for upstream responses.
//
// Implementations must be safe for concurrent use. Backend failures degrade to
// misses; the cache never returns errors to its callers.
type Cache interface {
	// Get returns the entry stored under key regardless of its age.
	Get(ctx context.Context, key Key) (Entry, bool)

	// Set stores payload under key stamped with at.
	Set(ctx context.Context, key Key, payload json.RawMessage, at time.Time)

	// Freshest returns the most recently stored entry for a scope across all variants.
	Freshest(ctx context.Context, storeID, endpoint, scopeID string) (Entry, bool)
}

// inScope reports whether k belongs to exactly the given scope. Prefix matches
// alone are not enough because IDs may contain the separator.
func (k Key) inScope(storeID, endpoint, scopeID string) bool {
	return k.StoreID == storeID && k.Endpoint == endpoint && k.ScopeID == scopeID
}

func scopePrefix(storeID, endpoint, scopeID string) string {
	return strings.Join([]string{storeID, endpoint, scopeID}, keySeparator) + keySeparator
}
