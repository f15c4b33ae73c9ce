// Package align matches spoken words against expected words under
// edit-distance tolerance.
//
// The matcher is windowed rather than globally optimal: for the expected word
// at position i only spoken words in [i-2, i+2] are considered. This trades
// alignment optimality for O(n) cost and tolerates the small insertions and
// deletions typical of disfluent reading.
package align

import "github.com/antzucaro/matchr"

const (
	// exactThreshold is the similarity percentage at or above which a word
	// pair counts as an exact match.
	exactThreshold = 95

	// softThreshold is the similarity percentage at or above which a word
	// pair counts as a soft (close) match.
	softThreshold = 60

	// window is how far either side of the expected position the matcher
	// searches for a spoken candidate.
	window = 2
)

// Match describes how one expected word aligned against the spoken sequence.
// Derived per scoring pass, never persisted.
type Match struct {
	// Expected is the expected word at this position.
	Expected string

	// Spoken is the minimum-distance spoken candidate within the search
	// window, or "" when the window held no spoken words at all.
	Spoken string

	// Similarity is the match quality in [0,100].
	Similarity float64
}

// Exact reports whether the match is close enough to count as correct.
func (m Match) Exact() bool { return m.Similarity >= exactThreshold }

// Soft reports whether the match is a near miss rather than a mismatch.
func (m Match) Soft() bool { return !m.Exact() && m.Similarity >= softThreshold }

// Distance returns the Levenshtein edit distance between a and b with unit
// insert, delete, and substitute costs.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity converts the edit distance between an expected word and a
// candidate into a percentage of the expected word's length, floored at zero.
func Similarity(expected, candidate string) float64 {
	n := len(expected)
	if n == 0 {
		n = 1
	}
	d := Distance(expected, candidate)
	sim := float64(len(expected)-d) / float64(n) * 100
	if sim < 0 {
		return 0
	}
	return sim
}

// MatchWords aligns each expected word against the spoken words. Both slices
// must already be normalized (see textnorm). The result has exactly one entry
// per expected word, in expected order.
func MatchWords(expected, spoken []string) []Match {
	out := make([]Match, 0, len(expected))
	for i, exp := range expected {
		best := Match{Expected: exp}
		lo := max(0, i-window)
		hi := min(len(spoken), i+window+1)
		for j := lo; j < hi; j++ {
			sim := Similarity(exp, spoken[j])
			if best.Spoken == "" || sim > best.Similarity {
				best.Spoken = spoken[j]
				best.Similarity = sim
			}
		}
		out = append(out, best)
	}
	return out
}
