package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStore = "store-1"

func countAllowed(rl RateLimiter, storeID string, n int) int {
	allowed := 0

	for range n {
		if rl.Allow(storeID) {
			allowed++
		}
	}

	return allowed
}

func TestRateLimiter_GlobalLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 10, GlobalBurst: 10, StoreRPS: 50, AnonymousRPS: 2})
	defer rl.Close()

	assert.Equal(t, 10, countAllowed(rl, testStore, 11))
}

func TestRateLimiter_StoreLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, StoreRPS: 5, StoreBurst: 5, AnonymousRPS: 2})
	defer rl.Close()

	assert.Equal(t, 5, countAllowed(rl, testStore, 6))
}

func TestRateLimiter_AnonymousLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, StoreRPS: 50, AnonymousRPS: 2, AnonymousBurst: 2})
	defer rl.Close()

	assert.Equal(t, 2, countAllowed(rl, "", 3))
	assert.True(t, rl.Allow(testStore), "store traffic has its own bucket")
}

func TestRateLimiter_StoreIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, StoreRPS: 5, StoreBurst: 5, AnonymousRPS: 2})
	defer rl.Close()

	assert.Equal(t, 5, countAllowed(rl, "store-1", 6))
	assert.Equal(t, 5, countAllowed(rl, "store-2", 5))
}

func TestRateLimiter_MaxStoresFallsBackToAnonymous(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:      100,
		StoreRPS:       50,
		AnonymousRPS:   1,
		AnonymousBurst: 1,
		MaxStores:      1,
	})
	defer rl.Close()

	require.True(t, rl.Allow("store-1"))
	assert.True(t, rl.Allow("store-2"))
	assert.False(t, rl.Allow("store-3"), "overflow stores share the exhausted anonymous bucket")
	assert.Equal(t, 1, rl.Stores())
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, StoreRPS: 50, AnonymousRPS: 10})
	defer rl.Close()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func(storeID string) {
			defer wg.Done()

			countAllowed(rl, storeID, 10)
		}(fmt.Sprintf("store-%d", i))
	}

	wg.Wait()
	assert.Equal(t, 10, rl.Stores())
}

func TestRateLimiter_CleanupRemovesIdleStores(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, StoreRPS: 50, AnonymousRPS: 10, IdleTimeout: time.Minute})
	defer rl.Close()

	require.True(t, rl.Allow("idle"))
	require.True(t, rl.Allow("active"))

	rl.mu.RLock()
	rl.perStore["idle"].lastAccess = time.Now().Add(-2 * time.Minute)
	rl.mu.RUnlock()

	rl.cleanup(time.Now())

	rl.mu.RLock()
	_, idleExists := rl.perStore["idle"]
	_, activeExists := rl.perStore["active"]
	rl.mu.RUnlock()

	assert.False(t, idleExists)
	assert.True(t, activeExists)
	assert.NoError(t, rl.Close())
}

func TestStoreIDFromPath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/stores/store-1/sections/summary": "store-1",
		"/api/v1/stores/store-2":                  "store-2",
		"/api/v1/stores/":                         "",
		"/health":                                 "",
	}

	for path, want := range tests {
		assert.Equal(t, want, StoreIDFromPath(path), path)
	}
}

type recordingLimiter struct {
	allow bool
	seen  []string
}

func (l *recordingLimiter) Allow(storeID string) bool {
	l.seen = append(l.seen, storeID)

	return l.allow
}

func TestRateLimitMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allowed", func(t *testing.T) {
		limiter := &recordingLimiter{allow: true}
		handler := RateLimit(limiter, slog.Default())(ok)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stores/store-9/refresh", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"store-9"}, limiter.seen)
	})

	t.Run("blocked", func(t *testing.T) {
		handler := Apply(ok, WithCorrelationID(), WithRateLimit(&recordingLimiter{}, slog.Default()))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/store-9/refresh", nil)
		req.Header.Set(CorrelationIDHeader, "req-42")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))

		var problem map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
		assert.Equal(t, "https://adlens.io/problems/429", problem["type"])
		assert.InDelta(t, 429, problem["status"], 0)
		assert.Equal(t, "req-42", problem["correlationId"])
		assert.Equal(t, "/api/v1/stores/store-9/refresh", problem["instance"])
	})

	t.Run("nil limiter is a no-op", func(t *testing.T) {
		handler := Apply(ok, WithRateLimit(nil, slog.Default()))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
