// Package refresh coordinates concurrent section fetches into one composite view.
//
// Each cycle launches its sections concurrently, races each against its own
// timeout and tags every result with the cycle generation. Results from a
// superseded generation or from a section that already timed out never touch
// scheduler state. One section failing or stalling never blocks, cancels or
// clears its siblings.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/snapshot"
	"github.com/adlens-io/adlens/internal/task"
)

// CompositeEndpoint is the snapshot endpoint under which composites are persisted.
const CompositeEndpoint = "composite"

const (
	compositeIOTimeout = 5 * time.Second
	notifyTimeout      = 10 * time.Second
	maxHistory         = 50
)

var (
	// ErrNoSections is returned when creating a scheduler without sections.
	ErrNoSections = errors.New("scheduler requires at least one section")

	// ErrDuplicateSection is returned when two sections share a key.
	ErrDuplicateSection = errors.New("duplicate section key")

	// ErrInvalidScheduler is returned when the store or snapshot store is missing.
	ErrInvalidScheduler = errors.New("scheduler requires a store and a snapshot store")
)

type (
	// Scheduler runs refresh cycles for one store and date window.
	Scheduler struct {
		storeID    string
		window     string
		sections   []Section
		snapshots  snapshot.Store
		notifier   Notifier
		clock      clockwork.Clock
		logger     *slog.Logger
		defaultETA time.Duration

		mutex      sync.Mutex
		generation int64
		cycle      *Cycle
		states     []SectionState
		history    []time.Duration
		composite  Composite
		loaded     bool
	}

	// Progress is an observable copy of the current cycle.
	Progress struct {
		StoreID    string         `json:"storeId"`
		Window     string         `json:"window"`
		Generation int64          `json:"generation"`
		Cycle      *Cycle         `json:"cycle,omitempty"`
		Running    bool           `json:"running"`
		Sections   []SectionState `json:"sections"`
		Percent    float64        `json:"percent"`
		ETASeconds int            `json:"etaSeconds"`
	}

	// Option configures optional Scheduler behavior.
	Option func(*Scheduler)
)

// WithClock sets the clock used for section timestamps and durations.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithNotifier sets the cycle completion notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithDefaultETA sets the per-section estimate used before any section completed.
func WithDefaultETA(d time.Duration) Option {
	return func(s *Scheduler) {
		s.defaultETA = d
	}
}

// NewScheduler creates a scheduler for storeID over sections. window is the
// canonical date-window variant under which the composite is persisted.
func NewScheduler(
	storeID, window string,
	sections []Section,
	snapshots snapshot.Store,
	opts ...Option,
) (*Scheduler, error) {
	if storeID == "" || snapshots == nil {
		return nil, ErrInvalidScheduler
	}

	if len(sections) == 0 {
		return nil, ErrNoSections
	}

	seen := make(map[string]bool, len(sections))

	for _, sec := range sections {
		if seen[sec.Key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, sec.Key)
		}

		seen[sec.Key] = true
	}

	s := &Scheduler{
		storeID:   storeID,
		window:    window,
		sections:  slices.Clone(sections),
		snapshots: snapshots,
		clock:     clockwork.NewRealClock(),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		defaultETA: DefaultSectionETA,
		composite:  make(Composite),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Refresh starts a new cycle, superseding any cycle still running.
//
// A foreground cycle launches core and slow sections and returns once every core
// section settled. A background cycle launches every section and returns
// immediately; use Cycle.Done or the notifier to observe completion. Section
// failures never surface here. The only error is ctx ending while a foreground
// caller waits, in which case the cycle keeps running.
func (s *Scheduler) Refresh(ctx context.Context, mode Mode) (*Cycle, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	if mode == "" {
		mode = ModeForeground
	}

	s.loadComposite(ctx)

	launched := make([]Section, 0, len(s.sections))

	for _, sec := range s.sections {
		if mode.launches(sec.Kind) {
			launched = append(launched, sec)
		}
	}

	s.mutex.Lock()
	s.generation++
	cycle := newCycle(s.generation, mode, s.clock.Now().UTC(), launched)
	s.cycle = cycle
	s.states = make([]SectionState, len(launched))

	for i, sec := range launched {
		s.states[i] = SectionState{Key: sec.Key, Kind: sec.Kind, Status: StatusPending}
	}
	s.mutex.Unlock()

	s.logger.Info("Refresh cycle started",
		slog.String("store_id", s.storeID),
		slog.String("cycle_id", cycle.ID.String()),
		slog.Int64("generation", cycle.Generation),
		slog.String("mode", string(mode)),
		slog.Int("sections", len(launched)))

	// Sections outlive the caller's wait.
	detached := context.WithoutCancel(ctx)

	for _, sec := range launched {
		go s.run(detached, cycle, sec)
	}

	if mode == ModeBackground {
		return cycle, nil
	}

	select {
	case <-cycle.coreDone:
		return cycle, nil
	case <-ctx.Done():
		return cycle, ctx.Err()
	}
}

// Progress returns a copy of the current cycle state.
func (s *Scheduler) Progress() Progress {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p := Progress{
		StoreID:    s.storeID,
		Window:     s.window,
		Generation: s.generation,
		Cycle:      s.cycle,
		Sections:   make([]SectionState, len(s.states)),
	}

	settled := 0

	for i, st := range s.states {
		p.Sections[i] = copyState(st)

		if st.Status.IsTerminal() {
			settled++
		}
	}

	if total := len(s.states); total > 0 {
		p.Percent = percent(settled, total)
		p.Running = settled < total
		p.ETASeconds = int(math.Ceil((s.averageLocked() * time.Duration(total-settled)).Seconds()))
	}

	return p
}

// Composite returns a copy of the merged section results.
func (s *Scheduler) Composite() Composite {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return Merge(s.composite, nil)
}

func (s *Scheduler) run(ctx context.Context, cycle *Cycle, sec Section) {
	started := s.clock.Now().UTC()
	if !s.transition(cycle.Generation, sec.Key, StatusLoading, started, "") {
		// superseded before it started
		s.finish(ctx, cycle, sec, nil, errSuperseded, started)

		return
	}

	resp, err := task.RunDetached(ctx, sec.timeout(), sec.Run)
	if err == nil && resp == nil {
		err = errEmptyResult
	}

	s.finish(ctx, cycle, sec, resp, err, started)
}

var (
	errSuperseded  = errors.New("superseded by a newer cycle")
	errEmptyResult = errors.New("section returned no result")
)

// finish settles a section. Results from a superseded generation only count
// toward their own cycle's completion.
func (s *Scheduler) finish(
	ctx context.Context,
	cycle *Cycle,
	sec Section,
	resp *fetch.Response,
	err error,
	started time.Time,
) {
	ended := s.clock.Now().UTC()

	s.mutex.Lock()

	current := cycle.Generation == s.generation
	if current {
		status, msg := StatusDone, ""
		if err != nil {
			status, msg = StatusError, err.Error()
		}

		s.setStateLocked(sec.Key, status, ended, msg)

		if err == nil {
			s.recordDurationLocked(ended.Sub(started))
			s.composite = Merge(s.composite, Composite{sec.Key: SectionResult{
				Data:      resp.Data,
				Meta:      resp.Meta,
				UpdatedAt: ended,
			}})
		}
	}

	completed := cycle.settle(sec.Kind, err == nil)

	var (
		event     Event
		composite Composite
	)

	if completed && current {
		event = s.eventLocked(cycle, ended)
		composite = Merge(s.composite, nil)
	}

	s.mutex.Unlock()

	switch {
	case err != nil && current:
		s.logger.Warn("Section failed",
			slog.String("store_id", s.storeID),
			slog.String("section", sec.Key),
			slog.Int64("generation", cycle.Generation),
			slog.String("error", err.Error()))
	case !current:
		s.logger.Debug("Discarding result from superseded cycle",
			slog.String("section", sec.Key),
			slog.Int64("generation", cycle.Generation))
	}

	if completed && current {
		s.complete(ctx, event, composite)
	}
}

func (s *Scheduler) complete(ctx context.Context, event Event, composite Composite) {
	s.persistComposite(ctx, composite)

	s.logger.Info("Refresh cycle completed",
		slog.String("store_id", s.storeID),
		slog.String("cycle_id", event.CycleID.String()),
		slog.Int("succeeded", event.Succeeded),
		slog.Int("failed", event.Failed),
		slog.Duration("duration", event.FinishedAt.Sub(event.StartedAt)))

	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.notifier.RefreshCompleted(notifyCtx, event); err != nil {
		s.logger.Warn("Refresh completion notification failed",
			slog.String("store_id", s.storeID),
			slog.String("cycle_id", event.CycleID.String()),
			slog.String("error", err.Error()))
	}
}

// transition applies a validated status change for the current generation only.
func (s *Scheduler) transition(generation int64, key string, to Status, at time.Time, msg string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if generation != s.generation {
		return false
	}

	return s.setStateLocked(key, to, at, msg)
}

func (s *Scheduler) setStateLocked(key string, to Status, at time.Time, msg string) bool {
	for i := range s.states {
		st := &s.states[i]
		if st.Key != key {
			continue
		}

		if err := ValidateTransition(st.Status, to); err != nil {
			s.logger.Debug("Ignoring section transition",
				slog.String("section", key),
				slog.String("error", err.Error()))

			return false
		}

		st.Status = to
		st.Error = msg

		if to == StatusLoading {
			st.StartedAt = &at
		} else {
			st.EndedAt = &at
		}

		return true
	}

	return false
}

func (s *Scheduler) recordDurationLocked(d time.Duration) {
	s.history = append(s.history, d)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// averageLocked is the mean completed section duration, or the default estimate.
func (s *Scheduler) averageLocked() time.Duration {
	if len(s.history) == 0 {
		return s.defaultETA
	}

	var total time.Duration
	for _, d := range s.history {
		total += d
	}

	return total / time.Duration(len(s.history))
}

func (s *Scheduler) eventLocked(cycle *Cycle, finished time.Time) Event {
	states := make([]SectionState, len(s.states))
	for i, st := range s.states {
		states[i] = copyState(st)
	}

	return Event{
		CycleID:    cycle.ID,
		StoreID:    s.storeID,
		Window:     s.window,
		Mode:       cycle.Mode,
		Generation: cycle.Generation,
		Sections:   states,
		Succeeded:  cycle.succeeded,
		Failed:     cycle.failed,
		StartedAt:  cycle.StartedAt,
		FinishedAt: finished,
	}
}

func (s *Scheduler) compositeKey() snapshot.Key {
	return snapshot.Key{StoreID: s.storeID, Endpoint: CompositeEndpoint, ScopeID: s.storeID, Variant: s.window}
}

// loadComposite seeds the in-memory composite from the snapshot store once.
func (s *Scheduler) loadComposite(ctx context.Context) {
	s.mutex.Lock()
	loaded := s.loaded
	s.mutex.Unlock()

	if loaded {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, compositeIOTimeout)
	defer cancel()

	var stored Composite

	rec, ok, err := s.snapshots.Get(readCtx, s.compositeKey())

	switch {
	case err != nil:
		s.logger.Debug("Composite snapshot unavailable",
			slog.String("store_id", s.storeID),
			slog.String("error", err.Error()))
	case ok:
		if err := json.Unmarshal(rec.Payload, &stored); err != nil {
			s.logger.Warn("Discarding unreadable composite snapshot",
				slog.String("store_id", s.storeID),
				slog.String("error", err.Error()))

			stored = nil
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.loaded {
		return
	}

	// In-memory results are newer than anything persisted.
	s.composite = Merge(stored, s.composite)
	s.loaded = err == nil
}

func (s *Scheduler) persistComposite(ctx context.Context, composite Composite) {
	payload, err := json.Marshal(composite)
	if err != nil {
		s.logger.Error("Failed to encode composite",
			slog.String("store_id", s.storeID),
			slog.String("error", err.Error()))

		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, compositeIOTimeout)
	defer cancel()

	if err := s.snapshots.Upsert(writeCtx, s.compositeKey(), payload); err != nil {
		s.logger.Debug("Composite snapshot not persisted",
			slog.String("store_id", s.storeID),
			slog.String("error", err.Error()))
	}
}

// percent is settled/total as a percentage rounded to two decimals.
func percent(settled, total int) float64 {
	const scale = 100

	return math.Round(float64(settled)*scale*scale/float64(total)) / scale
}

func copyState(st SectionState) SectionState {
	if st.StartedAt != nil {
		t := *st.StartedAt
		st.StartedAt = &t
	}

	if st.EndedAt != nil {
		t := *st.EndedAt
		st.EndedAt = &t
	}

	return st
}
