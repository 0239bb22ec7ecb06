// Package normalize canonicalizes series tags and titles for index lookups.
// Two strings that differ only in case, whitespace, punctuation, or hyphens
// normalize to the same value and land in the same index bucket.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Normalize maps a tag or title to its canonical lookup key: Unicode case
// folding followed by removal of every rune that is not a letter or digit
// (whitespace, punctuation, underscores, and hyphens all drop out). The
// result is deterministic and idempotent. An all-punctuation input
// normalizes to the empty string, which is a legal (degenerate) bucket.
func Normalize(s string) string {
	folded := cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
