// Package canonicalization provides the canonical forms shared by cache keys and
// attribution lookups: order-independent query variants and normalized entity names.
package canonicalization

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeName reduces a campaign, ad set or ad name to its comparison form.
//
// Normalization rules:
//  1. Surrounding whitespace is trimmed
//  2. Percent-encoded sequences are decoded (input that fails to decode is kept as-is)
//  3. Letters are lower-cased
//  4. Every run of non-alphanumeric characters becomes a single space
//  5. Leading and trailing separators are dropped
//
// The same function is applied to indexed names and to incoming query values, so
// "Summer%20Sale%20-%202024" and "summer sale 2024" compare equal.
//
// Examples:
//   - NormalizeName("  Spring_Launch  ") → "spring launch"
//   - NormalizeName("Retargeting%20%E2%80%93%20EU") → "retargeting eu"
//   - NormalizeName("BF//Promo!!") → "bf promo"
func NormalizeName(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}

	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}

	// Casers carry state and are not safe for concurrent use.
	s = cases.Lower(language.Und).String(s)

	var b strings.Builder

	b.Grow(len(s))

	separator := false

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			separator = true

			continue
		}

		if separator && b.Len() > 0 {
			b.WriteByte(' ')
		}

		separator = false

		b.WriteRune(r)
	}

	return b.String()
}
