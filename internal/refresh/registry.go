package refresh

import (
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegistryCapacity bounds the schedulers a registry keeps.
const DefaultRegistryCapacity = 1000

var (
	// ErrNoFactory is returned when a registry is created without a factory.
	ErrNoFactory = errors.New("registry requires a scheduler factory")

	// ErrInvalidCapacity is returned for a non-positive registry capacity.
	ErrInvalidCapacity = errors.New("registry capacity must be positive")
)

type (
	// Factory builds the scheduler for a store and date window.
	Factory func(storeID, window string) (*Scheduler, error)

	// Registry holds one scheduler per (store, window) pair. The least recently
	// used scheduler is dropped once capacity is reached; its composite stays in
	// the snapshot store and is reloaded when the pair comes back.
	Registry struct {
		factory    Factory
		capacity   int
		mutex      sync.Mutex
		schedulers *lru.Cache[registryKey, *Scheduler]
	}

	// RegistryOption configures optional Registry behavior.
	RegistryOption func(*Registry)

	registryKey struct {
		storeID string
		window  string
	}
)

// WithCapacity sets how many schedulers the registry keeps.
func WithCapacity(capacity int) RegistryOption {
	return func(r *Registry) {
		r.capacity = capacity
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}

	r := &Registry{factory: factory, capacity: DefaultRegistryCapacity}

	for _, opt := range opts {
		opt(r)
	}

	if r.capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	schedulers, err := lru.New[registryKey, *Scheduler](r.capacity)
	if err != nil {
		return nil, err
	}

	r.schedulers = schedulers

	return r, nil
}

// Get returns the scheduler for storeID and window, creating it on first use.
func (r *Registry) Get(storeID, window string) (*Scheduler, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := registryKey{storeID: storeID, window: window}
	if s, ok := r.schedulers.Get(key); ok {
		return s, nil
	}

	s, err := r.factory(storeID, window)
	if err != nil {
		return nil, err
	}

	r.schedulers.Add(key, s)

	return s, nil
}

// Lookup returns an existing scheduler without creating one.
func (r *Registry) Lookup(storeID, window string) (*Scheduler, bool) {
	return r.schedulers.Get(registryKey{storeID: storeID, window: window})
}

// Len returns the number of schedulers held.
func (r *Registry) Len() int {
	return r.schedulers.Len()
}

// Stores returns the store IDs with at least one scheduler, sorted.
func (r *Registry) Stores() []string {
	seen := make(map[string]bool)
	stores := make([]string, 0, r.schedulers.Len())

	for _, key := range r.schedulers.Keys() {
		if !seen[key.storeID] {
			seen[key.storeID] = true
			stores = append(stores, key.storeID)
		}
	}

	sort.Strings(stores)

	return stores
}
