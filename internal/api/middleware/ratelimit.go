package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxStores           int     = 10000
	defaultGlobalRPS           int     = 100
	defaultStoreRPS            int     = 20
	defaultAnonymousRPS        int     = 10
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
	storesPathPrefix                   = "/api/v1/stores/"
	retryAfterSeconds                  = "1"
)

type (
	// RateLimiter decides whether a request may proceed. storeID is empty for
	// requests that do not address a store.
	RateLimiter interface {
		Allow(storeID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with token buckets from
	// golang.org/x/time/rate: one global bucket, one per store and one shared
	// by anonymous requests. Store buckets idle past IdleTimeout are dropped.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		anonymous *rate.Limiter
		mu        sync.RWMutex
		perStore  map[string]*storeLimiter
		ticker    *time.Ticker
		done      chan struct{}
		closeOnce sync.Once

		storeRPS    int
		storeBurst  int
		idleTimeout time.Duration
		maxStores   int
	}

	storeLimiter struct {
		limiter    *rate.Limiter
		mu         sync.Mutex
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Close to stop the loop.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	maxStores := config.MaxStores
	if maxStores <= 0 {
		maxStores = defaultMaxStores
	}

	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(rate.Limit(config.GlobalRPS),
			computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		anonymous: rate.NewLimiter(rate.Limit(config.AnonymousRPS),
			computeBurstCapacity(config.AnonymousRPS, config.AnonymousBurst)),
		perStore:    make(map[string]*storeLimiter),
		ticker:      time.NewTicker(cleanupInterval),
		done:        make(chan struct{}),
		storeRPS:    config.StoreRPS,
		storeBurst:  computeBurstCapacity(config.StoreRPS, config.StoreBurst),
		idleTimeout: idleTimeout,
		maxStores:   maxStores,
	}

	go rl.cleanupLoop()

	return rl
}

// computeBurstCapacity returns the override when set, otherwise 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the store or anonymous bucket.
func (rl *InMemoryRateLimiter) Allow(storeID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if storeID == "" {
		return rl.anonymous.Allow()
	}

	sl, ok := rl.store(storeID)
	if !ok {
		// table full: unseen stores share the anonymous bucket
		return rl.anonymous.Allow()
	}

	sl.mu.Lock()
	sl.lastAccess = time.Now()
	sl.mu.Unlock()

	return sl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) store(storeID string) (*storeLimiter, bool) {
	rl.mu.RLock()
	sl, ok := rl.perStore[storeID]
	rl.mu.RUnlock()

	if ok {
		return sl, true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if sl, ok = rl.perStore[storeID]; ok {
		return sl, true
	}

	if len(rl.perStore) >= rl.maxStores {
		return nil, false
	}

	sl = &storeLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.storeRPS), rl.storeBurst),
		lastAccess: time.Now(),
	}
	rl.perStore[storeID] = sl

	if count := len(rl.perStore); count == int(float64(rl.maxStores)*thresholdMultiplier) {
		slog.Warn("Rate limiter approaching max stores limit",
			slog.Int("current_stores", count),
			slog.Int("max_stores", rl.maxStores))
	}

	return sl, true
}

// Stores returns the number of tracked store buckets.
func (rl *InMemoryRateLimiter) Stores() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perStore)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.ticker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

// cleanup removes store buckets not used since now minus the idle timeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for storeID, sl := range rl.perStore {
		sl.mu.Lock()
		idle := now.Sub(sl.lastAccess)
		sl.mu.Unlock()

		if idle > rl.idleTimeout {
			delete(rl.perStore, storeID)
		}
	}
}

// StoreIDFromPath extracts the store ID from /api/v1/stores/{storeID}/... paths.
// The middleware runs before routing, so path values are not yet available.
func StoreIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, storesPathPrefix)
	if !ok {
		return ""
	}

	storeID, _, _ := strings.Cut(rest, "/")

	return storeID
}

// RateLimit returns a middleware that answers 429 with an RFC 7807 body when
// the limiter rejects a request.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(StoreIDFromPath(r.URL.Path)) {
				next.ServeHTTP(w, r)

				return
			}

			detail := "Rate limit exceeded. Please retry after some time."
			w.Header().Set("Retry-After", retryAfterSeconds)

			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
			}
		})
	}
}
