package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/adlens-io/adlens/internal/canonicalization"
	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/refresh"
)

type (
	// Registry hands out schedulers per store and window.
	Registry interface {
		Get(storeID, window string) (*refresh.Scheduler, error)
	}

	// Runner triggers background refreshes for every configured store and preset.
	Runner struct {
		registry Registry
		cfg      *Config
		clock    clockwork.Clock
		logger   *slog.Logger
	}

	// Summary counts the cycles of one round. Skipped counts windows whose
	// previous cycle was still running.
	Summary struct {
		Started  int64
		Settled  int64
		Skipped  int64
		Failed   int64
		Sections int64
	}
)

var _ Registry = (*refresh.Registry)(nil)

// NewRunner creates a runner. A nil clock uses the real clock.
func NewRunner(registry Registry, cfg *Config, clock clockwork.Clock, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Runner{registry: registry, cfg: cfg, clock: clock, logger: logger}
}

// Run refreshes immediately and then on every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce starts one background cycle per store and preset and waits, up to
// CycleWait, for each to settle so rounds do not pile up on slow stores.
func (r *Runner) RunOnce(ctx context.Context) Summary {
	var (
		started, settled, skipped, failed, sections atomic.Int64
		group                                       errgroup.Group
	)

	group.SetLimit(r.cfg.Concurrency)

	for _, storeID := range r.cfg.Stores {
		for _, preset := range r.cfg.Presets {
			group.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}

				n, err := r.refresh(ctx, storeID, preset)
				sections.Add(int64(n))

				switch {
				case err == nil:
					started.Add(1)
					settled.Add(1)
				case errors.Is(err, errCycleUnsettled):
					started.Add(1)
				case errors.Is(err, errCycleRunning):
					skipped.Add(1)
				default:
					failed.Add(1)
				}

				return nil
			})
		}
	}

	_ = group.Wait()

	summary := Summary{
		Started:  started.Load(),
		Settled:  settled.Load(),
		Skipped:  skipped.Load(),
		Failed:   failed.Load(),
		Sections: sections.Load(),
	}

	r.logger.Info("Refresh round completed",
		slog.Int64("cycles_started", summary.Started),
		slog.Int64("cycles_settled", summary.Settled),
		slog.Int64("cycles_skipped", summary.Skipped),
		slog.Int64("cycles_failed", summary.Failed),
		slog.Int64("sections", summary.Sections))

	return summary
}

var (
	errCycleUnsettled = errors.New("cycle did not settle in time")
	errCycleRunning   = errors.New("previous cycle still running")
)

// refresh runs one background cycle and reports how many sections it launched.
func (r *Runner) refresh(ctx context.Context, storeID, preset string) (int, error) {
	window := dashboard.Window(dashboard.Query{Params: canonicalization.Params{DatePreset: preset}})

	scheduler, err := r.registry.Get(storeID, window)
	if err != nil {
		r.logger.Error("Failed to create scheduler",
			slog.String("store_id", storeID),
			slog.String("window", window),
			slog.String("error", err.Error()))

		return 0, err
	}

	// a new cycle would supersede the running one and drop its results
	if progress := scheduler.Progress(); progress.Running {
		r.logger.Info("Skipping refresh, previous cycle still running",
			slog.String("store_id", storeID),
			slog.String("window", window),
			slog.Int64("generation", progress.Generation))

		return 0, errCycleRunning
	}

	cycle, err := scheduler.Refresh(ctx, refresh.ModeBackground)
	if err != nil {
		r.logger.Error("Failed to start refresh",
			slog.String("store_id", storeID),
			slog.String("window", window),
			slog.String("error", err.Error()))

		return 0, err
	}

	launched := len(scheduler.Progress().Sections)

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.CycleWait)
	defer cancel()

	if err := cycle.Wait(waitCtx); err != nil {
		r.logger.Warn("Refresh cycle still running",
			slog.String("store_id", storeID),
			slog.String("window", window),
			slog.String("cycle_id", cycle.ID.String()))

		return launched, errCycleUnsettled
	}

	return launched, nil
}
