// Package phoneme approximates the sounds of a written word as a coarse token
// sequence and compares such sequences positionally.
//
// This is a digraph-table heuristic, not a linguistically accurate phonemic
// transcription: known multi-letter spellings are replaced by sound markers,
// then the remaining letters are fused into vowel-run and consonant-run
// tokens. The downstream score calibration (the 85/95 similarity thresholds)
// assumes this specific heuristic's error distribution, so its behaviour is a
// fixed contract — a known limitation, not a bug to fix.
package phoneme

import (
	"math"
	"strings"
	"unicode"
)

// soundRule maps a multi-letter spelling to its sound marker. Rules are
// applied left to right, non-overlapping, first match wins per position, so
// longer spellings must sort before their prefixes.
type soundRule struct {
	seq    string
	marker string
}

// soundRules is the fixed replacement table. Trigraphs first so they win over
// the digraphs they contain.
var soundRules = []soundRule{
	{"tch", "CH"},
	{"dge", "JH"},
	{"igh", "AY"},
	{"th", "TH"},
	{"sh", "SH"},
	{"ch", "CH"},
	{"ph", "F"},
	{"wh", "W"},
	{"ng", "NG"},
	{"ck", "K"},
	{"qu", "KW"},
	{"ee", "IY"},
	{"ea", "IY"},
	{"oo", "UW"},
	{"ai", "AY"},
	{"ay", "AY"},
	{"oa", "OW"},
	{"ow", "OW"},
	{"ou", "AW"},
	{"oi", "OY"},
	{"oy", "OY"},
	{"au", "AO"},
	{"aw", "AO"},
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// Approximate maps word to an ordered sequence of coarse phoneme-like tokens.
// Deterministic; never returns a token containing whitespace. An empty or
// letter-free word yields an empty sequence.
func Approximate(word string) []string {
	// Lower-case and strip everything that is not a letter.
	var letters strings.Builder
	for _, r := range strings.ToLower(word) {
		if unicode.IsLetter(r) {
			letters.WriteRune(r)
		}
	}
	w := letters.String()
	if w == "" {
		return nil
	}

	// Replace known spellings with space-delimited sound markers.
	var marked strings.Builder
	for i := 0; i < len(w); {
		matched := false
		for _, rule := range soundRules {
			if strings.HasPrefix(w[i:], rule.seq) {
				marked.WriteString(" " + rule.marker + " ")
				i += len(rule.seq)
				matched = true
				break
			}
		}
		if !matched {
			marked.WriteByte(w[i])
			i++
		}
	}

	// Re-scan: markers pass through, remaining letters fuse into vowel runs
	// and consonant runs.
	// Markers are upper-case; leftover letter chunks are lower-case.
	var tokens []string
	for _, chunk := range strings.Fields(marked.String()) {
		if chunk[0] >= 'A' && chunk[0] <= 'Z' {
			tokens = append(tokens, chunk)
			continue
		}
		tokens = append(tokens, fuseRuns(chunk)...)
	}
	return tokens
}

// fuseRuns groups consecutive vowels into one token and consecutive
// consonants into one token, upper-casing the result.
func fuseRuns(chunk string) []string {
	var tokens []string
	var run strings.Builder
	var runVowel bool
	flush := func() {
		if run.Len() > 0 {
			tokens = append(tokens, strings.ToUpper(run.String()))
			run.Reset()
		}
	}
	for _, r := range chunk {
		v := isVowel(r)
		if run.Len() > 0 && v != runVowel {
			flush()
		}
		runVowel = v
		run.WriteRune(r)
	}
	flush()
	return tokens
}

// Compare scores how closely actual reproduces expected, as a percentage of
// the expected sequence with two-decimal precision. Tokens are compared
// positionally with single-position slack: the token at position i matches if
// it equals actual[i-1], actual[i], or actual[i+1]. An empty expected
// sequence scores 0.
func Compare(expected, actual []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	matches := 0
	for i, tok := range expected {
		for j := i - 1; j <= i+1; j++ {
			if j >= 0 && j < len(actual) && actual[j] == tok {
				matches++
				break
			}
		}
	}
	pct := float64(matches) / float64(len(expected)) * 100
	return math.Round(pct*100) / 100
}
