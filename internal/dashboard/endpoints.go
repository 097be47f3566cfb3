// Package dashboard defines the analytical sections of the composite view and
// the upstream endpoints that back them.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/upstream"
)

// Endpoint names registered with the orchestrator.
const (
	EndpointInsights   = "insights"
	EndpointCampaigns  = "campaigns"
	EndpointOrders     = "orders"
	EndpointAds        = "ads"
	EndpointTrends     = "trends"
	EndpointBreakdowns = "breakdowns"
)

// ScopeAll aggregates every ad account linked to the store.
const ScopeAll = "all"

// ModeDeep requests the extended field set.
const ModeDeep = "deep"

const (
	insightsMaxPages   = 5
	entityMaxPages     = 10
	degradedMaxPages   = 1
	accountConcurrency = 4
	breakdownsCeiling  = 18 * time.Second
	adsDeadline        = 20 * time.Second
	slowTTL            = 30 * time.Minute
)

var (
	// ErrNoAdsAPI is returned when registering endpoints without an ads client.
	ErrNoAdsAPI = errors.New("dashboard endpoints require an ads API client")

	summaryFields  = []string{"spend", "impressions", "reach", "clicks", "ctr", "cpc", "cpm"}
	deepFields     = []string{"actions", "action_values", "purchase_roas"}
	campaignFields = []string{"campaign_id", "campaign_name", "spend", "impressions", "clicks", "ctr", "cpc"}
	adFields       = []string{
		"ad_id", "ad_name", "adset_id", "campaign_id", "spend", "impressions", "clicks", "ctr", "cpc", "frequency",
	}
	basicAdFields     = []string{"ad_id", "ad_name", "spend", "impressions", "clicks"}
	trendFields       = []string{"spend", "impressions", "clicks"}
	defaultBreakdowns = []string{"age", "gender"}
)

type (
	// AdsAPI is the part of the ad-platform client the dashboard reads from.
	AdsAPI interface {
		AdAccounts(ctx context.Context, storeID string) ([]upstream.Entity, error)
		Insights(
			ctx context.Context,
			storeID, objectID string,
			p canonicalization.Params,
			deadline time.Duration,
			maxPages int,
		) ([]json.RawMessage, error)
	}

	// ShopAPI is the part of the e-commerce client the dashboard reads from.
	ShopAPI interface {
		Orders(
			ctx context.Context,
			storeID string,
			since, until time.Time,
			deadline time.Duration,
			maxPages int,
		) ([]json.RawMessage, error)
	}

	fetchers struct {
		ads   AdsAPI
		shop  ShopAPI
		clock clockwork.Clock
	}

	insightsShape struct {
		level      string
		fields     []string
		breakdowns []string
		extra      map[string]string
		deep       bool
		degraded   bool
	}
)

var (
	_ AdsAPI  = (*upstream.Client)(nil)
	_ ShopAPI = (*upstream.Client)(nil)
)

// RegisterEndpoints registers every dashboard endpoint with orch, applying any
// policy overrides. The orders endpoint is skipped when shop is nil.
func RegisterEndpoints(
	orch *fetch.Orchestrator,
	ads AdsAPI,
	shop ShopAPI,
	policies *fetch.Policies,
	clock clockwork.Clock,
) error {
	if ads == nil {
		return ErrNoAdsAPI
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	f := &fetchers{ads: ads, shop: shop, clock: clock}

	endpoints := []fetch.Endpoint{
		{
			Name:  EndpointInsights,
			Fetch: f.insights(insightsShape{level: "account", fields: summaryFields, deep: true}),
		},
		{
			Name:  EndpointCampaigns,
			Fetch: f.insights(insightsShape{level: "campaign", fields: campaignFields, deep: true}),
		},
		{
			Name:     EndpointAds,
			Deadline: adsDeadline,
			Fetch:    f.insights(insightsShape{level: "ad", fields: adFields, deep: true}),
			Degraded: f.insights(insightsShape{level: "ad", fields: basicAdFields, degraded: true}),
		},
		{
			Name: EndpointTrends,
			TTL:  slowTTL,
			Fetch: f.insights(insightsShape{
				level:  "account",
				fields: trendFields,
				extra:  map[string]string{"time_increment": "1"},
			}),
		},
		{
			Name:       EndpointBreakdowns,
			TTL:        slowTTL,
			Ceiling:    breakdownsCeiling,
			OuterRetry: true,
			Fetch: f.insights(insightsShape{
				level:      "account",
				fields:     summaryFields,
				breakdowns: defaultBreakdowns,
				deep:       true,
			}),
			Degraded: f.insights(insightsShape{
				level:      "account",
				fields:     trendFields,
				breakdowns: defaultBreakdowns[:1],
				degraded:   true,
			}),
		},
	}

	if shop != nil {
		endpoints = append(endpoints, fetch.Endpoint{Name: EndpointOrders, Fetch: f.orders})
	}

	for _, ep := range endpoints {
		if err := orch.Register(policies.Apply(ep)); err != nil {
			return fmt.Errorf("failed to register %s: %w", ep.Name, err)
		}
	}

	return nil
}

// insights builds a fetch that queries every account in scope and concatenates the rows.
// Requested breakdowns override the shape's defaults except in degraded fetches.
func (f *fetchers) insights(shape insightsShape) fetch.FetchFunc {
	return func(ctx context.Context, call fetch.Call) (json.RawMessage, error) {
		p := call.Params
		p.Level = shape.level
		p.Fields = shape.fields
		p.Extra = shape.extra

		if shape.deep && call.Params.Mode == ModeDeep {
			p.Fields = append(slices.Clone(shape.fields), deepFields...)
		}

		if len(shape.breakdowns) > 0 && (len(p.Breakdowns) == 0 || shape.degraded) {
			p.Breakdowns = shape.breakdowns
		}

		accounts, err := f.accounts(ctx, call.StoreID, call.ScopeID)
		if err != nil {
			return nil, err
		}

		maxPages := insightsMaxPages
		if shape.degraded {
			maxPages = degradedMaxPages
		}

		pages := make([][]json.RawMessage, len(accounts))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(accountConcurrency)

		for i, account := range accounts {
			g.Go(func() error {
				page, err := f.ads.Insights(gctx, call.StoreID, account, p, call.Deadline, maxPages)
				if err != nil {
					return err
				}

				pages[i] = page

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		// rows keep account order
		rows := make([]json.RawMessage, 0)
		for _, page := range pages {
			rows = append(rows, page...)
		}

		return json.Marshal(rows)
	}
}

func (f *fetchers) orders(ctx context.Context, call fetch.Call) (json.RawMessage, error) {
	since, until, err := DateRange(call.Params, f.clock.Now())
	if err != nil {
		return nil, err
	}

	rows, err := f.shop.Orders(ctx, call.StoreID, since, until, call.Deadline, entityMaxPages)
	if err != nil {
		return nil, err
	}

	if rows == nil {
		rows = []json.RawMessage{}
	}

	return json.Marshal(rows)
}

// accounts resolves the ad accounts a scope covers.
func (f *fetchers) accounts(ctx context.Context, storeID, scope string) ([]string, error) {
	if scope != "" && scope != ScopeAll {
		return []string{scope}, nil
	}

	entities, err := f.ads.AdAccounts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}

	return ids, nil
}
