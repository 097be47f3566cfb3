package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-process cache when no size is configured.
const DefaultMaxEntries = 5000

// ErrInvalidSize is returned when an LRU cache is created with a non-positive size.
var ErrInvalidSize = errors.New("cache size must be positive")

var _ Cache = (*LRUCache)(nil)

// LRUCache is a bounded in-process Cache. When full, the least recently used entry is
// dropped; age alone never removes an entry.
type LRUCache struct {
	entries *lru.Cache[string, Entry]
	// scopes indexes live keys by scope prefix for Freshest lookups
	scopes map[string]map[string]struct{}
	mutex  sync.Mutex
}

// NewLRUCache creates an in-process cache holding at most size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	c := &LRUCache{scopes: make(map[string]map[string]struct{})}

	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, err
	}

	c.entries = entries

	return c, nil
}

// Get returns the entry stored under key.
func (c *LRUCache) Get(_ context.Context, key Key) (Entry, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries.Get(key.String())
	if !ok {
		return Entry{}, false
	}

	return copyEntry(e), true
}

// Set stores payload under key stamped with at.
func (c *LRUCache) Set(_ context.Context, key Key, payload json.RawMessage, at time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	k := key.String()
	prefix := scopePrefix(key.StoreID, key.Endpoint, key.ScopeID)

	c.entries.Add(k, Entry{Key: key, Payload: bytes.Clone(payload), CachedAt: at})

	if c.scopes[prefix] == nil {
		c.scopes[prefix] = make(map[string]struct{})
	}

	c.scopes[prefix][k] = struct{}{}
}

// Freshest returns the most recently stored entry for the scope. Lookups do not
// affect recency.
func (c *LRUCache) Freshest(_ context.Context, storeID, endpoint, scopeID string) (Entry, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var (
		best  Entry
		found bool
	)

	for k := range c.scopes[scopePrefix(storeID, endpoint, scopeID)] {
		e, ok := c.entries.Peek(k)
		if !ok {
			continue
		}

		if !found || e.CachedAt.After(best.CachedAt) {
			best, found = e, true
		}
	}

	if !found {
		return Entry{}, false
	}

	return copyEntry(best), true
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.entries.Len()
}

// onEvict runs inside lru calls made while c.mutex is held.
func (c *LRUCache) onEvict(k string, e Entry) {
	prefix := scopePrefix(e.Key.StoreID, e.Key.Endpoint, e.Key.ScopeID)

	delete(c.scopes[prefix], k)

	if len(c.scopes[prefix]) == 0 {
		delete(c.scopes, prefix)
	}
}

func copyEntry(e Entry) Entry {
	e.Payload = bytes.Clone(e.Payload)

	return e
}
