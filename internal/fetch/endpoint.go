package fetch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
)

// FallbackModeBasic marks a response produced by an endpoint's degraded fetch.
const FallbackModeBasic = "basic"

// Stale reasons name the cascade tier that served a non-live response.
const (
	ReasonSnapshotExact         = "snapshot_exact"
	ReasonSnapshotDefaultWindow = "snapshot_default_window"
	ReasonSnapshotLatest        = "snapshot_latest"
	ReasonSnapshotAnyVariant    = "snapshot_any_variant"
	ReasonFallbackCache         = "fallback_cache"
	ReasonFallbackSnapshot      = "fallback_snapshot_exact"
	ReasonFallbackLatest        = "fallback_snapshot_latest"
	ReasonDegraded              = "degraded_fetch"
)

const (
	defaultTTL      = 15 * time.Minute
	defaultDeadline = 15 * time.Second
)

type (
	// Call is what an endpoint's fetch function receives: the original request, its
	// parameters with the mode folded in, and the upstream deadline to apply.
	Call struct {
		Request
		Params   canonicalization.Params
		Deadline time.Duration
	}

	// FetchFunc performs one live upstream query for an endpoint.
	FetchFunc func(ctx context.Context, call Call) (json.RawMessage, error)

	// Endpoint describes how one logical upstream endpoint is fetched and cached.
	Endpoint struct {
		Name string

		// TTL is how long an ephemeral cache entry counts as fresh (10–30 minutes).
		TTL time.Duration
		// Deadline is the upstream request deadline handed to Fetch (10–20 seconds).
		Deadline time.Duration
		// Ceiling races deep queries against a wall-clock limit; 0 disables the race.
		Ceiling time.Duration
		// OuterRetry repeats the whole rate-limited attempt once more.
		OuterRetry bool

		Fetch FetchFunc
		// Degraded is an optional reduced-fidelity fetch used as a late fallback.
		Degraded FetchFunc
		// HasSignal decides whether a payload is meaningful enough for the
		// mode-qualified snapshot. Defaults to NonZeroSignal.
		HasSignal func(json.RawMessage) bool
	}

	// Request is a query against one endpoint for one store and scope.
	Request struct {
		StoreID  string
		Endpoint string
		ScopeID  string
		Params   canonicalization.Params
		Mode     string

		// PreferCache serves any snapshot before attempting a live fetch.
		PreferCache bool
		// StrictDate forbids substituting the default date window.
		StrictDate bool
	}

	// Meta describes where a response came from.
	Meta struct {
		Cached       bool       `json:"cached"`
		Stale        bool       `json:"stale"`
		StaleReason  string     `json:"staleReason,omitempty"`
		SnapshotAt   *time.Time `json:"snapshotAt,omitempty"`
		FallbackMode string     `json:"fallbackMode,omitempty"`
	}

	// Response is a payload together with its freshness metadata.
	Response struct {
		Data json.RawMessage `json:"data"`
		Meta
	}
)

// params returns the request parameters with Mode folded in.
func (r Request) params() canonicalization.Params {
	p := r.Params
	if r.Mode != "" {
		p.Mode = r.Mode
	}

	return p
}

// strict reports whether the default-window substitution is off limits.
func (r Request) strict() bool {
	return r.StrictDate || r.Params.IsExplicitRange()
}

func (e Endpoint) withDefaults() Endpoint {
	if e.TTL <= 0 {
		e.TTL = defaultTTL
	}

	if e.Deadline <= 0 {
		e.Deadline = defaultDeadline
	}

	if e.HasSignal == nil {
		e.HasSignal = NonZeroSignal
	}

	return e
}
