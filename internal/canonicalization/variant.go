package canonicalization

import (
	"encoding/hex"
	"maps"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultWindowPreset is the broader date window used when an exact variant is unavailable.
	DefaultWindowPreset = "last_30d"

	// EmptyVariant is the canonical form of a query without distinguishing parameters.
	EmptyVariant = "default"

	latestPrefix = "latest"
	digestBytes  = 16
)

// Reserved parameter names. Extra parameters using one of these names are ignored.
const (
	paramBreakdowns = "breakdowns"
	paramFields     = "fields"
	paramLevel      = "level"
	paramMode       = "mode"
	paramPreset     = "preset"
	paramSince      = "since"
	paramUntil      = "until"
)

// Params holds the distinguishing parameters of an upstream query.
// Two Params values that differ only in slice or map ordering describe the same query.
type Params struct {
	DatePreset string
	Since      string
	Until      string
	Level      string
	Mode       string
	Breakdowns []string
	Fields     []string
	Extra      map[string]string
}

// Canonical returns the deterministic, order-independent variant string for the query.
//
// Format: "key=value" pairs sorted by key and joined with "|". List values are
// de-duplicated, sorted and joined with ",". Empty values are omitted.
//
// Example:
//
//	Params{DatePreset: "last_7d", Breakdowns: []string{"gender", "age"}}.Canonical()
//	// "breakdowns=age,gender|preset=last_7d"
func (p Params) Canonical() string {
	return join(p.pairs(true, true), EmptyVariant)
}

// IsExplicitRange reports whether the query names an explicit since/until range.
func (p Params) IsExplicitRange() bool {
	return p.Since != "" || p.Until != ""
}

// WithDefaultWindow returns a copy with the date range replaced by DefaultWindowPreset.
func (p Params) WithDefaultWindow() Params {
	c := p.clone()
	c.DatePreset = DefaultWindowPreset
	c.Since = ""
	c.Until = ""

	return c
}

// LatestVariant returns the "latest" pointer variant for the query: the query's
// non-date, non-mode parameters under the latest prefix.
func LatestVariant(p Params) string {
	return join(append([]string{latestPrefix}, p.pairs(false, false)...), latestPrefix)
}

// ModeLatestVariant returns the mode-qualified latest pointer, or "" when the query has no mode.
func ModeLatestVariant(p Params) string {
	if strings.TrimSpace(p.Mode) == "" {
		return ""
	}

	return join(append([]string{latestPrefix}, p.pairs(false, true)...), latestPrefix)
}

// Digest returns a short, fixed-length hex digest of a canonical string.
func Digest(s string) string {
	sum := blake2b.Sum256([]byte(s))

	return hex.EncodeToString(sum[:digestBytes])
}

func (p Params) pairs(includeDates, includeMode bool) []string {
	values := map[string]string{
		paramLevel:      clean(p.Level),
		paramBreakdowns: list(p.Breakdowns),
		paramFields:     list(p.Fields),
	}

	if includeDates {
		values[paramPreset] = clean(p.DatePreset)
		values[paramSince] = clean(p.Since)
		values[paramUntil] = clean(p.Until)
	}

	if includeMode {
		values[paramMode] = clean(p.Mode)
	}

	for k, v := range p.Extra {
		key := clean(k)
		if key == "" || isReserved(key) {
			continue
		}

		values[key] = strings.TrimSpace(v)
	}

	pairs := make([]string, 0, len(values))

	for _, key := range slices.Sorted(maps.Keys(values)) {
		if values[key] == "" {
			continue
		}

		pairs = append(pairs, key+"="+values[key])
	}

	return pairs
}

func (p Params) clone() Params {
	c := p
	c.Breakdowns = slices.Clone(p.Breakdowns)
	c.Fields = slices.Clone(p.Fields)
	c.Extra = maps.Clone(p.Extra)

	return c
}

func isReserved(key string) bool {
	switch key {
	case paramBreakdowns, paramFields, paramLevel, paramMode, paramPreset, paramSince, paramUntil:
		return true
	}

	return false
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func list(values []string) string {
	cleaned := make([]string, 0, len(values))

	for _, v := range values {
		if c := clean(v); c != "" {
			cleaned = append(cleaned, c)
		}
	}

	slices.Sort(cleaned)

	return strings.Join(slices.Compact(cleaned), ",")
}

func join(pairs []string, empty string) string {
	if len(pairs) == 0 {
		return empty
	}

	return strings.Join(pairs, "|")
}
