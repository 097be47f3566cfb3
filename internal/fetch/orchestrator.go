// Package fetch implements the cache-and-fallback cascade in front of the upstream APIs.
//
// Tier order for a request:
//  1. Ephemeral cache entry within the endpoint TTL
//  2. With PreferCache: exact snapshot, default-window snapshot, latest pointer,
//     then the scope's most recent snapshot of any variant
//  3. Live fetch, retried once on rate limiting
//  4. On failure: freshest ephemeral entry for the scope, exact snapshot, scope's
//     most recent snapshot, degraded fetch, then a typed error
//
// Tiers are always consulted in this order regardless of their observed latency.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/adlens-io/adlens/internal/cache"
	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/snapshot"
	"github.com/adlens-io/adlens/internal/task"
	"github.com/adlens-io/adlens/internal/upstream"
)

// DefaultRetryDelay is the fixed wait before retrying a rate-limited attempt.
const DefaultRetryDelay = 1500 * time.Millisecond

const snapshotWriteTimeout = 5 * time.Second

var (
	// ErrExhausted is returned when every tier of the cascade failed.
	// It wraps the last live failure, so errors.Is(err, upstream.ErrRateLimited)
	// identifies throttling.
	ErrExhausted = errors.New("all fetch tiers exhausted")

	// ErrUnknownEndpoint is returned for a request naming an unregistered endpoint.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrInvalidRequest is returned when a request lacks a store or scope.
	ErrInvalidRequest = errors.New("invalid fetch request")

	// ErrInvalidEndpoint is returned when registering an endpoint without a name or fetch function.
	ErrInvalidEndpoint = errors.New("endpoint requires a name and a fetch function")

	// ErrNoCache is returned when the orchestrator is created without a cache or snapshot store.
	ErrNoCache = errors.New("orchestrator requires an ephemeral cache and a snapshot store")
)

type (
	// Orchestrator runs the fetch cascade for registered endpoints.
	Orchestrator struct {
		cache      cache.Cache
		snapshots  snapshot.Store
		clock      clockwork.Clock
		logger     *slog.Logger
		retryDelay time.Duration
		endpoints  map[string]Endpoint
		flight     singleflight.Group
		mutex      sync.RWMutex
	}

	// Option configures optional Orchestrator behavior.
	Option func(*Orchestrator)
)

// WithClock sets the clock used for TTL checks, cache stamps and retry waits.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRetryDelay sets the wait before retrying a rate-limited attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryDelay = d
	}
}

// NewOrchestrator creates an orchestrator over an ephemeral cache and a snapshot store.
func NewOrchestrator(c cache.Cache, snapshots snapshot.Store, opts ...Option) (*Orchestrator, error) {
	if c == nil || snapshots == nil {
		return nil, ErrNoCache
	}

	o := &Orchestrator{
		cache:     c,
		snapshots: snapshots,
		clock:     clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		retryDelay: DefaultRetryDelay,
		endpoints:  make(map[string]Endpoint),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Register adds or replaces an endpoint definition.
func (o *Orchestrator) Register(ep Endpoint) error {
	if ep.Name == "" || ep.Fetch == nil {
		return ErrInvalidEndpoint
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.endpoints[ep.Name] = ep.withDefaults()

	return nil
}

// Endpoint returns the registered definition for name.
func (o *Orchestrator) Endpoint(name string) (Endpoint, bool) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	ep, ok := o.endpoints[name]

	return ep, ok
}

// Fetch resolves req through the cascade. It returns either a response, possibly
// stale, or a single final error wrapping ErrExhausted.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.StoreID == "" || req.ScopeID == "" {
		return nil, fmt.Errorf("%w: store and scope are required", ErrInvalidRequest)
	}

	ep, ok := o.Endpoint(req.Endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, req.Endpoint)
	}

	params := req.params()
	variant := params.Canonical()
	cacheKey := cache.Key{StoreID: req.StoreID, Endpoint: ep.Name, ScopeID: req.ScopeID, Variant: variant}
	snapKey := snapshot.Key{StoreID: req.StoreID, Endpoint: ep.Name, ScopeID: req.ScopeID, Variant: variant}

	if e, ok := o.cache.Get(ctx, cacheKey); ok && e.FreshWithin(ep.TTL, o.clock.Now()) {
		return &Response{Data: e.Payload, Meta: Meta{Cached: true}}, nil
	}

	if req.PreferCache {
		if resp := o.preferredSnapshot(ctx, req, params, snapKey); resp != nil {
			return resp, nil
		}
	}

	data, err := o.live(ctx, ep, req, params, cacheKey, snapKey)
	if err == nil {
		return &Response{Data: data}, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o.logger.Warn("Live fetch failed, falling back",
		slog.String("store_id", req.StoreID),
		slog.String("endpoint", ep.Name),
		slog.String("scope_id", req.ScopeID),
		slog.String("error", err.Error()))

	return o.fallback(ctx, ep, req, params, snapKey, err)
}

// preferredSnapshot walks the snapshot tiers in their fixed priority order.
func (o *Orchestrator) preferredSnapshot(
	ctx context.Context,
	req Request,
	params canonicalization.Params,
	key snapshot.Key,
) *Response {
	if rec, ok := o.getSnapshot(ctx, key); ok {
		return staleFromRecord(rec, ReasonSnapshotExact)
	}

	if !req.strict() {
		window := key
		window.Variant = params.WithDefaultWindow().Canonical()

		if window.Variant != key.Variant {
			if rec, ok := o.getSnapshot(ctx, window); ok {
				return staleFromRecord(rec, ReasonSnapshotDefaultWindow)
			}
		}
	}

	for _, variant := range latestVariants(params) {
		latest := key
		latest.Variant = variant

		if rec, ok := o.getSnapshot(ctx, latest); ok {
			return staleFromRecord(rec, ReasonSnapshotLatest)
		}
	}

	if rec, ok := o.getLatest(ctx, key); ok {
		return staleFromRecord(rec, ReasonSnapshotAnyVariant)
	}

	return nil
}

// live performs the upstream fetch with rate-limit retries and persists a success.
// Concurrent identical requests share one upstream call. A caller that gives up
// early gets its context error, but the shared call still completes and warms
// the caches.
func (o *Orchestrator) live(
	ctx context.Context,
	ep Endpoint,
	req Request,
	params canonicalization.Params,
	cacheKey cache.Key,
	snapKey snapshot.Key,
) (json.RawMessage, error) {
	// Detached so one caller leaving does not fail the others sharing the call;
	// the endpoint deadline and ceiling still bound it.
	shared := context.WithoutCancel(ctx)

	ch := o.flight.DoChan(cacheKey.String(), func() (any, error) {
		data, err := o.attempt(shared, ep, ep.Fetch, req, params)
		if err == nil {
			o.persist(shared, ep, params, cacheKey, snapKey, data)
		}

		return data, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		data, _ := res.Val.(json.RawMessage)

		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// attempt calls fn, retrying once after the fixed delay when rate limited. Endpoints
// with OuterRetry repeat that whole attempt once more after twice the delay.
func (o *Orchestrator) attempt(
	ctx context.Context,
	ep Endpoint,
	fn FetchFunc,
	req Request,
	params canonicalization.Params,
) (json.RawMessage, error) {
	data, err := o.retryOnce(ctx, ep, fn, req, params)
	if err == nil || !ep.OuterRetry || !upstream.IsRateLimited(err) {
		return data, err
	}

	if err := o.wait(ctx, 2*o.retryDelay); err != nil {
		return nil, err
	}

	return o.retryOnce(ctx, ep, fn, req, params)
}

func (o *Orchestrator) retryOnce(
	ctx context.Context,
	ep Endpoint,
	fn FetchFunc,
	req Request,
	params canonicalization.Params,
) (json.RawMessage, error) {
	data, err := o.call(ctx, ep, fn, req, params)
	if err == nil || !upstream.IsRateLimited(err) {
		return data, err
	}

	o.logger.Info("Upstream rate limited, retrying once",
		slog.String("endpoint", ep.Name),
		slog.Duration("delay", o.retryDelay))

	if err := o.wait(ctx, o.retryDelay); err != nil {
		return nil, err
	}

	return o.call(ctx, ep, fn, req, params)
}

// call runs one fetch, raced against the endpoint ceiling when one is set.
func (o *Orchestrator) call(
	ctx context.Context,
	ep Endpoint,
	fn FetchFunc,
	req Request,
	params canonicalization.Params,
) (json.RawMessage, error) {
	c := Call{Request: req, Params: params, Deadline: ep.Deadline}

	data, err := task.Run(ctx, ep.Ceiling, func(ctx context.Context) (json.RawMessage, error) {
		return fn(ctx, c)
	})
	if errors.Is(err, task.ErrDeadlineExceeded) {
		return nil, &upstream.Error{Kind: upstream.ErrTimeout, Path: ep.Name, Message: "deep query ceiling reached", Err: err}
	}

	return data, err
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-o.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist writes a live payload to the ephemeral cache and the snapshot variants.
// Snapshot failures are logged and never surfaced.
func (o *Orchestrator) persist(
	ctx context.Context,
	ep Endpoint,
	params canonicalization.Params,
	cacheKey cache.Key,
	snapKey snapshot.Key,
	data json.RawMessage,
) {
	o.cache.Set(ctx, cacheKey, data, o.clock.Now())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotWriteTimeout)
	defer cancel()

	o.upsert(writeCtx, snapKey, data)

	latest := snapKey
	latest.Variant = canonicalization.LatestVariant(params)
	o.upsert(writeCtx, latest, data)

	if mode := canonicalization.ModeLatestVariant(params); mode != "" && ep.HasSignal(data) {
		qualified := snapKey
		qualified.Variant = mode
		o.upsert(writeCtx, qualified, data)
	}
}

func (o *Orchestrator) fallback(
	ctx context.Context,
	ep Endpoint,
	req Request,
	params canonicalization.Params,
	key snapshot.Key,
	liveErr error,
) (*Response, error) {
	if e, ok := o.cache.Freshest(ctx, req.StoreID, ep.Name, req.ScopeID); ok {
		at := e.CachedAt

		return &Response{
			Data: e.Payload,
			Meta: Meta{Cached: true, Stale: true, StaleReason: ReasonFallbackCache, SnapshotAt: &at},
		}, nil
	}

	if rec, ok := o.getSnapshot(ctx, key); ok {
		return staleFromRecord(rec, ReasonFallbackSnapshot), nil
	}

	if rec, ok := o.getLatest(ctx, key); ok {
		return staleFromRecord(rec, ReasonFallbackLatest), nil
	}

	if ep.Degraded != nil {
		data, err := o.call(ctx, ep, ep.Degraded, req, params)
		if err == nil {
			return &Response{
				Data: data,
				Meta: Meta{Stale: true, StaleReason: ReasonDegraded, FallbackMode: FallbackModeBasic},
			}, nil
		}

		o.logger.Warn("Degraded fetch failed",
			slog.String("endpoint", ep.Name),
			slog.String("error", err.Error()))
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrExhausted, ep.Name, liveErr)
}

func (o *Orchestrator) getSnapshot(ctx context.Context, key snapshot.Key) (snapshot.Record, bool) {
	rec, ok, err := o.snapshots.Get(ctx, key)
	if err != nil {
		o.logSnapshotError("Snapshot read failed", key, err)

		return snapshot.Record{}, false
	}

	return rec, ok && len(rec.Payload) > 0
}

func (o *Orchestrator) getLatest(ctx context.Context, key snapshot.Key) (snapshot.Record, bool) {
	rec, ok, err := o.snapshots.GetLatest(ctx, key.StoreID, key.Endpoint, key.ScopeID)
	if err != nil {
		o.logSnapshotError("Latest snapshot read failed", key, err)

		return snapshot.Record{}, false
	}

	return rec, ok && len(rec.Payload) > 0
}

func (o *Orchestrator) upsert(ctx context.Context, key snapshot.Key, data json.RawMessage) {
	if err := o.snapshots.Upsert(ctx, key, data); err != nil {
		o.logSnapshotError("Snapshot upsert failed", key, err)
	}
}

func (o *Orchestrator) logSnapshotError(msg string, key snapshot.Key, err error) {
	level := slog.LevelWarn
	if errors.Is(err, snapshot.ErrUnavailable) {
		level = slog.LevelDebug
	}

	o.logger.Log(context.Background(), level, msg,
		slog.String("store_id", key.StoreID),
		slog.String("endpoint", key.Endpoint),
		slog.String("variant", key.Variant),
		slog.String("error", err.Error()))
}

func latestVariants(params canonicalization.Params) []string {
	variants := make([]string, 0, 2)

	if mode := canonicalization.ModeLatestVariant(params); mode != "" {
		variants = append(variants, mode)
	}

	return append(variants, canonicalization.LatestVariant(params))
}

func staleFromRecord(rec snapshot.Record, reason string) *Response {
	at := rec.UpdatedAt

	return &Response{
		Data: rec.Payload,
		Meta: Meta{Cached: true, Stale: true, StaleReason: reason, SnapshotAt: &at},
	}
}
