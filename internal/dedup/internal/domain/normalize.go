// Package domain contains the core data types and pure functions of the
// notification deduplication engine: text normalization, fingerprinting,
// similarity scoring, dedup policies and the bloom prefilter.
package domain

import (
	"strings"
	"unicode"
)

// DefaultCategory is the category used when a notification has none.
const DefaultCategory = "general"

// Normalize canonicalizes text for comparison. It lower-cases the input,
// strips every rune that is not a letter, digit, underscore or whitespace,
// collapses whitespace runs into a single space and trims the result.
// Empty input yields empty output.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}

// NormalizeCategory returns the trimmed, lower-cased category, or
// DefaultCategory when the category is empty.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return DefaultCategory
	}
	return c
}
