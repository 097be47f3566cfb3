package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
)

const (
	orderDateLayout = "2006-01-02"

	// AdsListDeadline is the deadline for paged entity listings.
	AdsListDeadline = 20 * time.Second
)

// Entity is a named ad-platform object: an account, campaign, ad set or ad.
type Entity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CampaignID string `json:"campaign_id,omitempty"` //nolint: tagliatelle
	AdSetID    string `json:"adset_id,omitempty"`    //nolint: tagliatelle
}

// AdAccounts lists the ad accounts linked to a store.
func (c *Client) AdAccounts(ctx context.Context, storeID string) ([]Entity, error) {
	return c.listEntities(ctx, storeID, "me/adaccounts", "id,name", 0)
}

// Campaigns lists an account's campaigns.
func (c *Client) Campaigns(ctx context.Context, storeID, accountID string, maxPages int) ([]Entity, error) {
	return c.listEntities(ctx, storeID, accountID+"/campaigns", "id,name", maxPages)
}

// AdSets lists an account's ad sets.
func (c *Client) AdSets(ctx context.Context, storeID, accountID string, maxPages int) ([]Entity, error) {
	return c.listEntities(ctx, storeID, accountID+"/adsets", "id,name,campaign_id", maxPages)
}

// Ads lists an account's ads.
func (c *Client) Ads(ctx context.Context, storeID, accountID string, maxPages int) ([]Entity, error) {
	return c.listEntities(ctx, storeID, accountID+"/ads", "id,name,campaign_id,adset_id", maxPages)
}

// Insights lists performance rows for an account, campaign, ad set or ad.
func (c *Client) Insights(
	ctx context.Context,
	storeID, objectID string,
	p canonicalization.Params,
	deadline time.Duration,
	maxPages int,
) ([]json.RawMessage, error) {
	return c.List(ctx, Request{
		StoreID:  storeID,
		Path:     objectID + "/insights",
		Query:    InsightsQuery(p),
		Deadline: deadline,
	}, maxPages)
}

// Orders lists a store's orders created within [since, until].
func (c *Client) Orders(
	ctx context.Context,
	storeID string,
	since, until time.Time,
	deadline time.Duration,
	maxPages int,
) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("status", "any")
	q.Set("created_at_min", since.Format(orderDateLayout))
	q.Set("created_at_max", until.Format(orderDateLayout))

	return c.List(ctx, Request{StoreID: storeID, Path: "orders", Query: q, Deadline: deadline}, maxPages)
}

// InsightsQuery renders query parameters for an insights request.
func InsightsQuery(p canonicalization.Params) url.Values {
	q := url.Values{}

	switch {
	case p.IsExplicitRange():
		q.Set("time_range", fmt.Sprintf(`{"since":%q,"until":%q}`, p.Since, p.Until))
	case p.DatePreset != "":
		q.Set("date_preset", p.DatePreset)
	}

	if p.Level != "" {
		q.Set("level", p.Level)
	}

	if len(p.Breakdowns) > 0 {
		q.Set("breakdowns", strings.Join(p.Breakdowns, ","))
	}

	if len(p.Fields) > 0 {
		q.Set("fields", strings.Join(p.Fields, ","))
	}

	for k, v := range p.Extra {
		q.Set(k, v)
	}

	return q
}

func (c *Client) listEntities(
	ctx context.Context,
	storeID, path, fields string,
	maxPages int,
) ([]Entity, error) {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("limit", "500")

	items, err := c.List(ctx, Request{StoreID: storeID, Path: path, Query: q, Deadline: AdsListDeadline}, maxPages)
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(items))

	for _, item := range items {
		var e Entity
		if err := json.Unmarshal(item, &e); err != nil || e.ID == "" {
			continue
		}

		entities = append(entities, e)
	}

	return entities, nil
}
