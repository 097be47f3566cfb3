package fetch

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// NonZeroSignal reports whether payload holds at least one non-zero metric.
//
// Numbers and numeric strings count; identifier fields ("id", "*_id") and date
// fields ("date_*") are ignored because they are non-zero in every row.
func NonZeroSignal(payload json.RawMessage) bool {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}

	return hasSignal(v, "")
}

func hasSignal(v any, key string) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if hasSignal(child, k) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if hasSignal(child, key) {
				return true
			}
		}
	case json.Number:
		return !ignoredKey(key) && nonZero(t.String())
	case string:
		return !ignoredKey(key) && nonZero(t)
	}

	return false
}

func ignoredKey(key string) bool {
	k := strings.ToLower(key)

	return k == "id" || strings.HasSuffix(k, "_id") || strings.HasPrefix(k, "date_")
}

func nonZero(s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)

	return err == nil && f != 0
}
