// Package attribution maps marketing click identifiers (campaign, ad set and ad
// names carried in UTM parameters) to ad-platform entity IDs.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/upstream"
)

const (
	// DefaultTTL is how long a store's lookup tables are served before a rebuild.
	DefaultTTL = 30 * time.Minute

	// DefaultMaxPages bounds each entity listing.
	DefaultMaxPages = 10

	accountConcurrency = 4
)

var (
	// ErrNoLister is returned when creating a resolver without an entity lister.
	ErrNoLister = errors.New("resolver requires an entity lister")

	// ErrInvalidStore is returned for an empty store ID.
	ErrInvalidStore = errors.New("store ID is required")

	// ErrRebuildFailed is returned when no lookup table could be built and none is cached.
	ErrRebuildFailed = errors.New("attribution lookup rebuild failed")
)

type (
	// Lister lists ad-platform entities for a store. Implemented by upstream.Client.
	Lister interface {
		AdAccounts(ctx context.Context, storeID string) ([]upstream.Entity, error)
		Campaigns(ctx context.Context, storeID, accountID string, maxPages int) ([]upstream.Entity, error)
		AdSets(ctx context.Context, storeID, accountID string, maxPages int) ([]upstream.Entity, error)
		Ads(ctx context.Context, storeID, accountID string, maxPages int) ([]upstream.Entity, error)
	}

	// Resolver serves per-store lookup tables, rebuilding them wholesale after the TTL.
	Resolver struct {
		lister   Lister
		ttl      time.Duration
		maxPages int
		clock    clockwork.Clock
		logger   *slog.Logger
		flight   singleflight.Group
		mutex    sync.RWMutex
		tables   map[string]*LookupMaps
	}

	// Option configures optional Resolver behavior.
	Option func(*Resolver)

	accountEntities struct {
		campaigns []upstream.Entity
		adSets    []upstream.Entity
		ads       []upstream.Entity
		ok        bool
	}
)

var _ Lister = (*upstream.Client)(nil)

// WithTTL sets the lookup table lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithMaxPages bounds each entity listing.
func WithMaxPages(n int) Option {
	return func(r *Resolver) {
		r.maxPages = n
	}
}

// WithClock sets the clock used for table age.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over lister.
func NewResolver(lister Lister, opts ...Option) (*Resolver, error) {
	if lister == nil {
		return nil, ErrNoLister
	}

	r := &Resolver{
		lister:   lister,
		ttl:      DefaultTTL,
		maxPages: DefaultMaxPages,
		clock:    clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		tables: make(map[string]*LookupMaps),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// QueryFromUTM builds a query from landing-page UTM parameters using the
// platform's default URL template: utm_campaign, utm_term (ad set) and
// utm_content (ad).
func QueryFromUTM(values url.Values) Query {
	return Query{
		CampaignName: values.Get("utm_campaign"),
		AdSetName:    values.Get("utm_term"),
		AdName:       values.Get("utm_content"),
	}
}

// Resolve maps q to platform IDs for storeID. Unresolvable fields are nil; an
// error means no lookup table exists for the store at all.
func (r *Resolver) Resolve(ctx context.Context, storeID string, q Query) (Result, error) {
	maps, err := r.Lookup(ctx, storeID)
	if err != nil {
		return Result{}, err
	}

	return maps.Resolve(q), nil
}

// Lookup returns the store's lookup tables, rebuilding them when older than the TTL.
// A failed rebuild keeps serving the previous tables.
func (r *Resolver) Lookup(ctx context.Context, storeID string) (*LookupMaps, error) {
	if storeID == "" {
		return nil, ErrInvalidStore
	}

	r.mutex.RLock()
	current := r.tables[storeID]
	r.mutex.RUnlock()

	if current != nil && r.clock.Since(current.BuiltAt) < r.ttl {
		return current, nil
	}

	ch := r.flight.DoChan(storeID, func() (any, error) {
		return r.rebuild(context.WithoutCancel(ctx), storeID)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			maps, _ := res.Val.(*LookupMaps)

			return maps, nil
		}

		if current != nil {
			r.logger.Warn("Attribution rebuild failed, serving previous tables",
				slog.String("store_id", storeID),
				slog.Duration("age", r.clock.Since(current.BuiltAt)),
				slog.String("error", res.Err.Error()))

			return current, nil
		}

		return nil, res.Err
	case <-ctx.Done():
		if current != nil {
			return current, nil
		}

		return nil, ctx.Err()
	}
}

// Invalidate drops a store's tables so the next lookup rebuilds them.
func (r *Resolver) Invalidate(storeID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.tables, storeID)
}

func (r *Resolver) rebuild(ctx context.Context, storeID string) (*LookupMaps, error) {
	start := r.clock.Now()

	accounts, err := r.lister.AdAccounts(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing ad accounts: %w", ErrRebuildFailed, err)
	}

	results := make([]accountEntities, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(accountConcurrency)

	for i, account := range accounts {
		g.Go(func() error {
			results[i] = r.listAccount(gctx, storeID, account.ID)

			return nil
		})
	}

	_ = g.Wait()

	var campaigns, adSets, ads []upstream.Entity

	listed := 0

	for _, res := range results {
		if !res.ok {
			continue
		}

		listed++
		campaigns = append(campaigns, res.campaigns...)
		adSets = append(adSets, res.adSets...)
		ads = append(ads, res.ads...)
	}

	if len(accounts) > 0 && listed == 0 {
		return nil, fmt.Errorf("%w: all %d ad accounts failed to list", ErrRebuildFailed, len(accounts))
	}

	maps := BuildLookupMaps(campaigns, adSets, ads, r.clock.Now())

	r.mutex.Lock()
	r.tables[storeID] = maps
	r.mutex.Unlock()

	nc, ns, na := maps.Len()
	r.logger.Info("Attribution tables rebuilt",
		slog.String("store_id", storeID),
		slog.Int("accounts", listed),
		slog.Int("campaigns", nc),
		slog.Int("adsets", ns),
		slog.Int("ads", na),
		slog.Duration("duration", r.clock.Since(start)))

	return maps, nil
}

// listAccount lists one account's entities; a failure skips the whole account.
func (r *Resolver) listAccount(ctx context.Context, storeID, accountID string) accountEntities {
	var (
		res accountEntities
		err error
	)

	if res.campaigns, err = r.lister.Campaigns(ctx, storeID, accountID, r.maxPages); err == nil {
		if res.adSets, err = r.lister.AdSets(ctx, storeID, accountID, r.maxPages); err == nil {
			res.ads, err = r.lister.Ads(ctx, storeID, accountID, r.maxPages)
		}
	}

	if err != nil {
		r.logger.Warn("Skipping ad account that failed to list",
			slog.String("store_id", storeID),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))

		return accountEntities{}
	}

	res.ok = true

	return res
}
