// Package cycleid converts awareness-cycle identifiers between their
// canonical numeric form and the base-36 display form used by the console.
package cycleid

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is the canonical numeric form of a cycle identifier.
type ID uint64

// Format returns the lowercase base-36 display form of id.
func Format(id ID) string {
	return strconv.FormatUint(uint64(id), 36)
}

// Parse decodes a base-36 display form back to its canonical numeric form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("cycleid: empty identifier")
	}
	n, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("cycleid: %q is not a base-36 identifier: %w", s, err)
	}
	return ID(n), nil
}

// Coerce returns the numeric wire form for a possibly display-encoded
// identifier. Decimal strings are assumed to already be numeric and pass
// through untouched. Anything else is decoded as base-36; if that fails the
// input is returned unchanged with ok=false so the caller can log the
// fallback instead of crashing on a malformed id.
func Coerce(s string) (wire string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return s, false
	}
	if isDecimal(s) {
		return s, true
	}
	id, err := Parse(s)
	if err != nil {
		return s, false
	}
	return strconv.FormatUint(uint64(id), 10), true
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
