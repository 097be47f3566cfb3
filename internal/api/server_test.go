package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlens-io/adlens/internal/attribution"
	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
	"github.com/adlens-io/adlens/internal/upstream"
)

type fakeSections struct {
	mutex   sync.Mutex
	resp    *fetch.Response
	err     error
	storeID string
	section string
	query   dashboard.Query
}

func (f *fakeSections) Query(_ context.Context, storeID, section string, q dashboard.Query) (*fetch.Response, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.storeID, f.section, f.query = storeID, section, q

	return f.resp, f.err
}

type fakeResolver struct {
	result attribution.Result
	err    error
	query  attribution.Query
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, q attribution.Query) (attribution.Result, error) {
	f.query = q

	return f.result, f.err
}

type fakeRuns struct {
	runs  []storage.RefreshRun
	limit int
}

func (f *fakeRuns) Recent(_ context.Context, _ string, limit int) ([]storage.RefreshRun, error) {
	f.limit = limit

	return f.runs, nil
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testConfig() *ServerConfig {
	return &ServerConfig{
		Port:               8080,
		Host:               "127.0.0.1",
		ReadTimeout:        time.Second,
		WriteTimeout:       time.Second,
		ShutdownTimeout:    time.Second,
		LogLevel:           slog.LevelError,
		Version:            "test",
		CORSAllowedOrigins: []string{"*"},
	}
}

func testRegistry(t *testing.T) *refresh.Registry {
	t.Helper()

	registry, err := refresh.NewRegistry(func(storeID, window string) (*refresh.Scheduler, error) {
		run := func(context.Context) (*fetch.Response, error) {
			return &fetch.Response{Data: json.RawMessage(`[{"spend":"5"}]`)}, nil
		}

		return refresh.NewScheduler(storeID, window, []refresh.Section{
			{Key: "summary", Kind: refresh.KindCore, Run: run},
			{Key: "trends", Kind: refresh.KindExtra, Run: run},
		}, storage.NewInMemorySnapshotStore())
	})
	require.NoError(t, err)

	return registry
}

func newTestServer(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()

	if deps.Sections == nil {
		deps.Sections = &fakeSections{resp: &fetch.Response{Data: json.RawMessage(`[]`)}}
	}

	if deps.Refresh == nil {
		deps.Refresh = testRegistry(t)
	}

	if deps.Attribution == nil {
		deps.Attribution = &fakeResolver{}
	}

	return NewServer(testConfig(), deps, nil).Handler()
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()

	assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))

	return problem
}

func TestProbes(t *testing.T) {
	handler := newTestServer(t, Dependencies{})

	rec := serve(handler, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Equal(t, "test", rec.Header().Get(versionHeader))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = serve(handler, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "adlens", health.ServiceName)

	rec = serve(handler, http.MethodGet, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/nowhere", decodeProblem(t, rec).Instance)
}

func TestReady_StorageDown(t *testing.T) {
	handler := newTestServer(t, Dependencies{
		Health: healthFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := serve(handler, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage unavailable", rec.Body.String())
}

func TestSection_Success(t *testing.T) {
	snapshotAt := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	sections := &fakeSections{resp: &fetch.Response{
		Data: json.RawMessage(`[{"spend":"10"}]`),
		Meta: fetch.Meta{Cached: true, Stale: true, StaleReason: fetch.ReasonFallbackSnapshot, SnapshotAt: &snapshotAt},
	}}
	handler := newTestServer(t, Dependencies{Sections: sections})

	rec := serve(handler, http.MethodGet,
		"/api/v1/stores/store-1/sections/summary?preset=last_7d&breakdowns=age,%20gender&mode=deep&scope=act_1&prefer_cache=true&strict=1")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.JSONEq(t, `{
		"data": [{"spend":"10"}],
		"cached": true,
		"stale": true,
		"staleReason": "`+fetch.ReasonFallbackSnapshot+`",
		"snapshotAt": "2024-06-14T10:00:00Z"
	}`, rec.Body.String())

	assert.Equal(t, "store-1", sections.storeID)
	assert.Equal(t, "summary", sections.section)
	assert.Equal(t, dashboard.Query{
		Params: canonicalization.Params{DatePreset: "last_7d", Breakdowns: []string{"age", "gender"}},
		Scope:  "act_1", Mode: "deep", PreferCache: true, StrictDate: true,
	}, sections.query)
}

func TestSection_Errors(t *testing.T) {
	throttled := &upstream.Error{Kind: upstream.ErrRateLimited, Path: "act_1/insights", Status: 429, RetryAfter: 2500 * time.Millisecond}

	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{name: "bad boolean", target: "?prefer_cache=maybe", wantStatus: http.StatusBadRequest},
		{name: "bad mode", target: "?mode=turbo", wantStatus: http.StatusBadRequest},
		{name: "bad preset", target: "?preset=last_century", wantStatus: http.StatusBadRequest},
		{name: "half range", target: "?since=2024-01-01", wantStatus: http.StatusBadRequest},
		{name: "unknown section", err: dashboard.ErrUnknownSection, wantStatus: http.StatusNotFound},
		{
			name:       "exhausted",
			err:        errors.Join(fetch.ErrExhausted, &upstream.Error{Kind: upstream.ErrUpstream, Status: 500}),
			wantStatus: http.StatusBadGateway,
		},
		{name: "throttled", err: errors.Join(fetch.ErrExhausted, throttled), wantStatus: http.StatusTooManyRequests},
		{name: "deadline", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(t, Dependencies{Sections: &fakeSections{err: tt.err}})

			rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/sections/summary"+tt.target)
			require.Equal(t, tt.wantStatus, rec.Code)

			problem := decodeProblem(t, rec)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.NotEmpty(t, problem.CorrelationID)

			if tt.wantStatus == http.StatusTooManyRequests {
				assert.Equal(t, "3", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestRefresh_Foreground(t *testing.T) {
	handler := newTestServer(t, Dependencies{})

	rec := serve(handler, http.MethodPost, "/api/v1/stores/store-1/refresh?preset=last_7d")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RefreshResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	require.NotNil(t, body.Cycle)
	assert.Equal(t, int64(1), body.Cycle.Generation)
	assert.Equal(t, refresh.ModeForeground, body.Cycle.Mode)
	assert.Equal(t, "preset=last_7d", body.Progress.Window)
	assert.Contains(t, body.Composite, "summary")
	assert.NotContains(t, body.Composite, "trends")
}

func TestRefresh_BackgroundAndProgress(t *testing.T) {
	handler := newTestServer(t, Dependencies{})

	rec := serve(handler, http.MethodPost, "/api/v1/stores/store-1/refresh?mode=background")
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/refresh")
		if rec.Code != http.StatusOK {
			return false
		}

		var body RefreshResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			return false
		}

		return !body.Progress.Running && len(body.Composite) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefresh_InvalidMode(t *testing.T) {
	handler := newTestServer(t, Dependencies{})

	rec := serve(handler, http.MethodPost, "/api/v1/stores/store-1/refresh?mode=sometimes")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "sometimes")
}

func TestRefreshRuns(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		rec := serve(newTestServer(t, Dependencies{}), http.MethodGet, "/api/v1/stores/store-1/refresh/runs")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists runs", func(t *testing.T) {
		runs := &fakeRuns{runs: []storage.RefreshRun{{ID: uuid.New(), StoreID: "store-1", Succeeded: 3}}}
		handler := newTestServer(t, Dependencies{Runs: runs})

		rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/refresh/runs?limit=5")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, runs.limit)

		var body RunsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Runs, 1)
		assert.Equal(t, 3, body.Runs[0].Succeeded)
	})

	t.Run("bad limit", func(t *testing.T) {
		handler := newTestServer(t, Dependencies{Runs: &fakeRuns{}})

		for _, limit := range []string{"0", "101", "many"} {
			rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/refresh/runs?limit="+limit)
			assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
		}
	})
}

func TestResolveAttribution(t *testing.T) {
	campaignID := "c-1"

	t.Run("explicit names", func(t *testing.T) {
		resolver := &fakeResolver{result: attribution.Result{CampaignID: &campaignID}}
		handler := newTestServer(t, Dependencies{Attribution: resolver})

		rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/attribution/resolve?campaign=Spring%20Sale&utm_term=ignored")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, attribution.Query{CampaignName: "Spring Sale"}, resolver.query)
		assert.JSONEq(t, `{"query":{"campaign":"Spring Sale"},"result":{"campaignId":"c-1","adSetId":null,"adId":null}}`,
			rec.Body.String())
	})

	t.Run("utm fallback", func(t *testing.T) {
		resolver := &fakeResolver{}
		handler := newTestServer(t, Dependencies{Attribution: resolver})

		rec := serve(handler, http.MethodGet,
			"/api/v1/stores/store-1/attribution/resolve?utm_campaign=spring&utm_term=women&utm_content=video")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, attribution.Query{CampaignName: "spring", AdSetName: "women", AdName: "video"}, resolver.query)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		rec := serve(newTestServer(t, Dependencies{}), http.MethodGet, "/api/v1/stores/store-1/attribution/resolve")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.True(t, strings.Contains(decodeProblem(t, rec).Detail, "utm_campaign"))
	})

	t.Run("rebuild failed", func(t *testing.T) {
		handler := newTestServer(t, Dependencies{Attribution: &fakeResolver{err: attribution.ErrRebuildFailed}})

		rec := serve(handler, http.MethodGet, "/api/v1/stores/store-1/attribution/resolve?ad=x")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())

	cfg.Port = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidPort)

	cfg = testConfig()
	cfg.Host = ""
	require.ErrorIs(t, cfg.Validate(), ErrEmptyHost)

	cfg = testConfig()
	cfg.WriteTimeout = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidWriteTimeout)
}
