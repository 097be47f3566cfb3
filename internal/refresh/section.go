package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/adlens-io/adlens/internal/fetch"
)

const (
	// DefaultSectionTimeout bounds how long a cycle waits for one section.
	DefaultSectionTimeout = 55 * time.Second

	// SlowSectionTimeout is the budget for the known-heavy section.
	SlowSectionTimeout = 150 * time.Second

	// DefaultSectionETA seeds the estimate when no section has completed yet.
	DefaultSectionETA = 6 * time.Second
)

// ErrInvalidMode is returned for an unrecognized refresh mode.
var ErrInvalidMode = errors.New("invalid refresh mode")

type (
	// Kind classifies a section for scheduling.
	Kind string

	// Mode selects which sections a cycle launches and whether Refresh blocks.
	Mode string
)

// Section kinds.
const (
	// KindCore sections gate a foreground refresh.
	KindCore Kind = "core"
	// KindSlow sections run in every cycle but never block the caller.
	KindSlow Kind = "slow"
	// KindExtra sections only run in background cycles.
	KindExtra Kind = "extra"
)

// Refresh modes.
const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
)

// ParseMode parses a refresh mode, defaulting to foreground when empty.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeForeground:
		return ModeForeground, nil
	case ModeBackground:
		return ModeBackground, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// launches reports whether a cycle in this mode runs sections of kind k.
func (m Mode) launches(k Kind) bool {
	return m == ModeBackground || k != KindExtra
}

type (
	// Section is one independently fetchable query of a composite view.
	Section struct {
		Key     string
		Kind    Kind
		Timeout time.Duration
		Run     func(ctx context.Context) (*fetch.Response, error)
	}

	// SectionState is the observable state of one section in the current cycle.
	SectionState struct {
		Key       string     `json:"key"`
		Kind      Kind       `json:"kind"`
		Status    Status     `json:"status"`
		StartedAt *time.Time `json:"startedAt,omitempty"`
		EndedAt   *time.Time `json:"endedAt,omitempty"`
		Error     string     `json:"error,omitempty"`
	}

	// SectionResult is the last known value of a section inside a composite.
	SectionResult struct {
		Data json.RawMessage `json:"data"`
		fetch.Meta
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Composite maps section keys to their last known results.
	Composite map[string]SectionResult
)

func (s Section) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}

	return DefaultSectionTimeout
}

// Merge combines fresh section results into prev using the preserve policy:
// sections present in fresh with data overwrite, everything else keeps its
// previous value. Neither argument is modified.
func Merge(prev, fresh Composite) Composite {
	merged := make(Composite, len(prev)+len(fresh))
	maps.Copy(merged, prev)

	for key, result := range fresh {
		if len(result.Data) == 0 || string(result.Data) == "null" {
			continue
		}

		merged[key] = result
	}

	return merged
}
