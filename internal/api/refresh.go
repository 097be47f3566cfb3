package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

type (
	// RefreshResponse reports a refresh cycle and the scheduler state.
	RefreshResponse struct {
		Cycle     *refresh.Cycle    `json:"cycle,omitempty"`
		Progress  refresh.Progress  `json:"progress"`
		Composite refresh.Composite `json:"composite,omitempty"`
	}

	// RunsResponse lists recorded refresh cycles, newest first.
	RunsResponse struct {
		StoreID string               `json:"storeId"`
		Runs    []storage.RefreshRun `json:"runs"`
	}
)

// handleStartRefresh serves POST /api/v1/stores/{storeID}/refresh. A foreground
// refresh answers 200 once its core sections settle; a background refresh
// answers 202 immediately.
func (s *Server) handleStartRefresh(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	mode, err := refresh.ParseMode(values.Get("mode"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	q, err := parseWindowQuery(values)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	scheduler, err := s.deps.Refresh.Get(r.PathValue("storeID"), dashboard.Window(q))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	cycle, err := scheduler.Refresh(r.Context(), mode)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if mode == refresh.ModeBackground {
		s.writeJSON(w, r, http.StatusAccepted, RefreshResponse{Cycle: cycle, Progress: scheduler.Progress()})

		return
	}

	s.writeJSON(w, r, http.StatusOK, RefreshResponse{
		Cycle:     cycle,
		Progress:  scheduler.Progress(),
		Composite: scheduler.Composite(),
	})
}

// handleRefreshProgress serves GET /api/v1/stores/{storeID}/refresh: section
// states, ETA and the latest composite for the window.
func (s *Server) handleRefreshProgress(w http.ResponseWriter, r *http.Request) {
	q, err := parseWindowQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	scheduler, err := s.deps.Refresh.Get(r.PathValue("storeID"), dashboard.Window(q))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	progress := scheduler.Progress()

	s.writeJSON(w, r, http.StatusOK, RefreshResponse{
		Cycle:     progress.Cycle,
		Progress:  progress,
		Composite: scheduler.Composite(),
	})
}

// handleRefreshRuns serves GET /api/v1/stores/{storeID}/refresh/runs.
func (s *Server) handleRefreshRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Refresh history is not recorded by this deployment"))

		return
	}

	limit := defaultRunsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			s.writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", errInvalidParameter, maxRunsLimit))

			return
		}

		limit = n
	}

	storeID := r.PathValue("storeID")

	runs, err := s.deps.Runs.Recent(r.Context(), storeID, limit)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if runs == nil {
		runs = []storage.RefreshRun{}
	}

	s.writeJSON(w, r, http.StatusOK, RunsResponse{StoreID: storeID, Runs: runs})
}
