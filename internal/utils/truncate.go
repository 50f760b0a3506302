// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "unicode/utf8"

// TruncateRunes returns s truncated to at most max runes. A max <= 0
// disables truncation. Truncation operates on runes, not bytes, so
// multi-byte characters are never split.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
