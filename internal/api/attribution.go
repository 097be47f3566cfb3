package api

import (
	"fmt"
	"net/http"

	"github.com/adlens-io/adlens/internal/attribution"
)

// ResolveResponse echoes the names that were looked up with the matched IDs.
type ResolveResponse struct {
	Query  attribution.Query  `json:"query"`
	Result attribution.Result `json:"result"`
}

// handleResolveAttribution serves GET /api/v1/stores/{storeID}/attribution/resolve.
// Explicit campaign, adset and ad parameters take precedence over utm_* ones.
func (s *Server) handleResolveAttribution(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	q := attribution.Query{
		CampaignName: values.Get("campaign"),
		AdSetName:    values.Get("adset"),
		AdName:       values.Get("ad"),
	}

	if q == (attribution.Query{}) {
		q = attribution.QueryFromUTM(values)
	}

	if q == (attribution.Query{}) {
		s.writeError(w, r, fmt.Errorf("%w: one of campaign, adset, ad or utm_campaign, utm_term, utm_content is required",
			errInvalidParameter))

		return
	}

	result, err := s.deps.Attribution.Resolve(r.Context(), r.PathValue("storeID"), q)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ResolveResponse{Query: q, Result: result})
}
