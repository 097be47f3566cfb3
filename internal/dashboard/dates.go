package dashboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/adlens-io/adlens/internal/canonicalization"
)

// DateLayout is the calendar date format used in explicit ranges.
const DateLayout = "2006-01-02"

// ErrInvalidDateRange is returned for an unknown preset or malformed explicit range.
var ErrInvalidDateRange = errors.New("invalid date range")

// presetDays maps rolling presets to their length in days, ending yesterday.
var presetDays = map[string]int{
	"last_3d":  3,
	"last_7d":  7,
	"last_14d": 14,
	"last_28d": 28,
	"last_30d": 30,
	"last_90d": 90,
}

// DateRange resolves p to inclusive calendar days in now's location. An empty
// query resolves to the default window.
func DateRange(p canonicalization.Params, now time.Time) (since, until time.Time, err error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if p.IsExplicitRange() {
		return explicitRange(p, today)
	}

	preset := p.DatePreset
	if preset == "" {
		preset = canonicalization.DefaultWindowPreset
	}

	if days, ok := presetDays[preset]; ok {
		return today.AddDate(0, 0, -days), today.AddDate(0, 0, -1), nil
	}

	switch preset {
	case "today":
		return today, today, nil
	case "yesterday":
		y := today.AddDate(0, 0, -1)

		return y, y, nil
	case "this_month":
		return today.AddDate(0, 0, 1-today.Day()), today, nil
	case "last_month":
		first := today.AddDate(0, 0, 1-today.Day())

		return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1), nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidDateRange, preset)
}

func explicitRange(p canonicalization.Params, today time.Time) (since, until time.Time, err error) {
	if p.Since == "" || p.Until == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: since and until are both required", ErrInvalidDateRange)
	}

	since, err = time.ParseInLocation(DateLayout, p.Since, today.Location())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: since: %w", ErrInvalidDateRange, err)
	}

	until, err = time.ParseInLocation(DateLayout, p.Until, today.Location())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: until: %w", ErrInvalidDateRange, err)
	}

	if until.Before(since) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: until precedes since", ErrInvalidDateRange)
	}

	return since, until, nil
}
