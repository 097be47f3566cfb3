package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
)

// Section keys of the composite view.
const (
	SectionSummary    = "summary"
	SectionCampaigns  = "campaigns"
	SectionOrders     = "orders"
	SectionAds        = "ads"
	SectionTrends     = "trends"
	SectionBreakdowns = "breakdowns"
)

// ErrUnknownSection is returned for a section key the dashboard does not define.
var ErrUnknownSection = errors.New("unknown section")

type (
	// SectionDef binds a section to its endpoint and scheduling class.
	SectionDef struct {
		Key      string
		Endpoint string
		Kind     refresh.Kind
		Timeout  time.Duration
	}

	// Query selects the data shown by every section of one view.
	Query struct {
		Params      canonicalization.Params
		Scope       string
		Mode        string
		PreferCache bool
		StrictDate  bool
	}

	// Querier runs one fetch through the cascade.
	Querier interface {
		Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error)
		Endpoint(name string) (fetch.Endpoint, bool)
	}

	// Service answers per-section queries and builds refresh sections.
	Service struct {
		orch Querier
	}
)

var _ Querier = (*fetch.Orchestrator)(nil)

// SectionDefs lists the composite view in display order.
var SectionDefs = []SectionDef{
	{Key: SectionSummary, Endpoint: EndpointInsights, Kind: refresh.KindCore},
	{Key: SectionCampaigns, Endpoint: EndpointCampaigns, Kind: refresh.KindCore},
	{Key: SectionOrders, Endpoint: EndpointOrders, Kind: refresh.KindCore},
	{Key: SectionAds, Endpoint: EndpointAds, Kind: refresh.KindExtra},
	{Key: SectionTrends, Endpoint: EndpointTrends, Kind: refresh.KindExtra},
	{Key: SectionBreakdowns, Endpoint: EndpointBreakdowns, Kind: refresh.KindSlow, Timeout: refresh.SlowSectionTimeout},
}

// NewService creates a service over orch.
func NewService(orch Querier) *Service {
	return &Service{orch: orch}
}

// Window returns the canonical date-window variant of q, used to key schedulers
// and persisted composites.
func Window(q Query) string {
	return canonicalization.Params{
		DatePreset: q.Params.DatePreset,
		Since:      q.Params.Since,
		Until:      q.Params.Until,
	}.Canonical()
}

// ParseWindow is the inverse of Window. Unknown pairs are ignored.
func ParseWindow(window string) Query {
	var q Query

	for _, pair := range strings.Split(window, "|") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		switch key {
		case "preset":
			q.Params.DatePreset = value
		case "since":
			q.Params.Since = value
		case "until":
			q.Params.Until = value
		}
	}

	return q
}

// Lookup returns the definition of a section.
func Lookup(key string) (SectionDef, bool) {
	for _, def := range SectionDefs {
		if def.Key == key {
			return def, true
		}
	}

	return SectionDef{}, false
}

// Query fetches one section for a store.
func (s *Service) Query(ctx context.Context, storeID, section string, q Query) (*fetch.Response, error) {
	def, ok := Lookup(section)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, section)
	}

	scope := q.Scope
	if scope == "" {
		scope = ScopeAll
	}

	return s.orch.Fetch(ctx, fetch.Request{
		StoreID:     storeID,
		Endpoint:    def.Endpoint,
		ScopeID:     scope,
		Params:      q.Params,
		Mode:        q.Mode,
		PreferCache: q.PreferCache,
		StrictDate:  q.StrictDate,
	})
}

// Sections returns the refresh sections for a store and query. Sections
// whose endpoint is not registered are left out. Refresh always fetches live.
func (s *Service) Sections(storeID string, q Query) []refresh.Section {
	q.PreferCache = false

	sections := make([]refresh.Section, 0, len(SectionDefs))

	for _, def := range SectionDefs {
		if _, ok := s.orch.Endpoint(def.Endpoint); !ok {
			continue
		}

		key := def.Key
		sections = append(sections, refresh.Section{
			Key:     key,
			Kind:    def.Kind,
			Timeout: def.Timeout,
			Run: func(ctx context.Context) (*fetch.Response, error) {
				return s.Query(ctx, storeID, key, q)
			},
		})
	}

	return sections
}
