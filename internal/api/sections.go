package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/dashboard"
)

// errInvalidParameter marks a malformed query parameter.
var errInvalidParameter = errors.New("invalid query parameter")

// handleSection serves GET /api/v1/stores/{storeID}/sections/{section}.
func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	storeID := r.PathValue("storeID")

	q, err := parseSectionQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp, err := s.deps.Sections.Query(r.Context(), storeID, r.PathValue("section"), q)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// parseSectionQuery reads preset, since, until, breakdowns, mode, scope,
// prefer_cache and strict.
func parseSectionQuery(values url.Values) (dashboard.Query, error) {
	q, err := parseWindowQuery(values)
	if err != nil {
		return dashboard.Query{}, err
	}

	q.Params.Breakdowns = config.ParseCommaSeparatedList(values.Get("breakdowns"))
	q.Scope = values.Get("scope")

	switch mode := values.Get("mode"); mode {
	case "", dashboard.ModeDeep:
		q.Mode = mode
	default:
		return dashboard.Query{}, fmt.Errorf("%w: mode must be empty or %q", errInvalidParameter, dashboard.ModeDeep)
	}

	if q.PreferCache, err = parseBool(values, "prefer_cache"); err != nil {
		return dashboard.Query{}, err
	}

	if q.StrictDate, err = parseBool(values, "strict"); err != nil {
		return dashboard.Query{}, err
	}

	return q, nil
}

// parseWindowQuery reads and validates the date window parameters.
func parseWindowQuery(values url.Values) (dashboard.Query, error) {
	params := canonicalization.Params{
		DatePreset: values.Get("preset"),
		Since:      values.Get("since"),
		Until:      values.Get("until"),
	}

	if _, _, err := dashboard.DateRange(params, time.Now().UTC()); err != nil {
		return dashboard.Query{}, err
	}

	return dashboard.Query{Params: params}, nil
}

func parseBool(values url.Values, key string) (bool, error) {
	raw := values.Get(key)
	if raw == "" {
		return false, nil
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", errInvalidParameter, key, raw)
	}

	return v, nil
}
