// Package refcode canonicalizes campaign tracking codes and scores how
// closely a code resembles a campaign name.
package refcode

import (
	"strings"
	"unicode"
)

// Normalize strips separators and casing from a free-text identifier so two
// codes can be compared for equality. Total function, never fails.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize splits an identifier into lowercase word tokens on any
// non-alphanumeric separator. Empty tokens are dropped.
func Tokenize(raw string) []string {
	return strings.FieldsFunc(strings.ToLower(strings.TrimSpace(raw)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
