// Package textnorm normalizes text ahead of any word-level comparison.
//
// Expected and spoken text must pass through the exact same normalization
// before alignment or scoring — comparing a normalized sequence against a raw
// one is the most common scoring bug class, so every comparison site in the
// engine goes through this package.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize lower-cases s, strips every character outside the letter/digit
// alphabet (keeping spaces so word boundaries survive), and collapses
// surrounding whitespace. Deterministic and pure.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens normalizes s and splits it into words, dropping empty tokens.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}
