package attribution

import (
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/upstream"
)

type (
	// LookupMaps indexes a store's campaigns, ad sets and ads by normalized name.
	// Names that normalize identically but belong to different IDs are left out
	// of the affected table.
	LookupMaps struct {
		campaigns        index[string]
		adSets           index[string]
		adSetsByCampaign index[scopedName]
		ads              index[string]
		adsByCampaign    index[scopedName]
		adsByAdSet       index[scopedName]

		BuiltAt time.Time
	}

	// Query carries the raw names to resolve. Any field may be empty.
	Query struct {
		CampaignName string `json:"campaign,omitempty"`
		AdSetName    string `json:"adset,omitempty"`
		AdName       string `json:"ad,omitempty"`
	}

	// Result holds the resolved platform IDs; unresolved fields are nil.
	Result struct {
		CampaignID *string `json:"campaignId"`
		AdSetID    *string `json:"adSetId"`
		AdID       *string `json:"adId"`
	}

	scopedName struct {
		scope string
		name  string
	}

	index[K comparable] struct {
		ids       map[K]string
		ambiguous map[K]bool
	}
)

func newIndex[K comparable]() index[K] {
	return index[K]{ids: make(map[K]string), ambiguous: make(map[K]bool)}
}

func (ix index[K]) add(key K, id string) {
	if ix.ambiguous[key] {
		return
	}

	if existing, ok := ix.ids[key]; ok && existing != id {
		delete(ix.ids, key)
		ix.ambiguous[key] = true

		return
	}

	ix.ids[key] = id
}

func (ix index[K]) get(key K) (string, bool) {
	id, ok := ix.ids[key]

	return id, ok
}

// BuildLookupMaps builds the six lookup tables from entity lists.
func BuildLookupMaps(campaigns, adSets, ads []upstream.Entity, builtAt time.Time) *LookupMaps {
	m := &LookupMaps{
		campaigns:        newIndex[string](),
		adSets:           newIndex[string](),
		adSetsByCampaign: newIndex[scopedName](),
		ads:              newIndex[string](),
		adsByCampaign:    newIndex[scopedName](),
		adsByAdSet:       newIndex[scopedName](),
		BuiltAt:          builtAt,
	}

	for _, c := range campaigns {
		if name := canonicalization.NormalizeName(c.Name); name != "" && c.ID != "" {
			m.campaigns.add(name, c.ID)
		}
	}

	for _, s := range adSets {
		name := canonicalization.NormalizeName(s.Name)
		if name == "" || s.ID == "" {
			continue
		}

		m.adSets.add(name, s.ID)

		if s.CampaignID != "" {
			m.adSetsByCampaign.add(scopedName{scope: s.CampaignID, name: name}, s.ID)
		}
	}

	for _, a := range ads {
		name := canonicalization.NormalizeName(a.Name)
		if name == "" || a.ID == "" {
			continue
		}

		m.ads.add(name, a.ID)

		if a.CampaignID != "" {
			m.adsByCampaign.add(scopedName{scope: a.CampaignID, name: name}, a.ID)
		}

		if a.AdSetID != "" {
			m.adsByAdSet.add(scopedName{scope: a.AdSetID, name: name}, a.ID)
		}
	}

	return m
}

// Resolve maps q to platform IDs, preferring the most specific scope.
//
// Precedence:
//   - campaign by name
//   - ad set by (campaign, name) when a campaign resolved, then by name
//   - ad by (ad set, name), then (campaign, name), then by name
func (m *LookupMaps) Resolve(q Query) Result {
	var res Result

	if name := canonicalization.NormalizeName(q.CampaignName); name != "" {
		if id, ok := m.campaigns.get(name); ok {
			res.CampaignID = &id
		}
	}

	if name := canonicalization.NormalizeName(q.AdSetName); name != "" {
		res.AdSetID = m.resolveAdSet(res.CampaignID, name)
	}

	if name := canonicalization.NormalizeName(q.AdName); name != "" {
		res.AdID = m.resolveAd(res.CampaignID, res.AdSetID, name)
	}

	return res
}

func (m *LookupMaps) resolveAdSet(campaignID *string, name string) *string {
	if campaignID != nil {
		if id, ok := m.adSetsByCampaign.get(scopedName{scope: *campaignID, name: name}); ok {
			return &id
		}
	}

	if id, ok := m.adSets.get(name); ok {
		return &id
	}

	return nil
}

func (m *LookupMaps) resolveAd(campaignID, adSetID *string, name string) *string {
	if adSetID != nil {
		if id, ok := m.adsByAdSet.get(scopedName{scope: *adSetID, name: name}); ok {
			return &id
		}
	}

	if campaignID != nil {
		if id, ok := m.adsByCampaign.get(scopedName{scope: *campaignID, name: name}); ok {
			return &id
		}
	}

	if id, ok := m.ads.get(name); ok {
		return &id
	}

	return nil
}

// Len returns the number of unambiguous names in the campaign, ad set and ad tables.
func (m *LookupMaps) Len() (campaigns, adSets, ads int) {
	return len(m.campaigns.ids), len(m.adSets.ids), len(m.ads.ids)
}
