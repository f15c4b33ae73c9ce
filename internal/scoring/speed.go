package scoring

import "math"

// speedBucket is one step of the reading-speed grading table.
type speedBucket struct {
	// MinWpm is the lowest adjusted words-per-minute this bucket covers.
	MinWpm int
	// Score is the reading-speed score awarded, in [0,100].
	Score int
	// Label is the pace description shown alongside the score.
	Label string
}

// speedBuckets is ordered by descending MinWpm; the first bucket whose
// minimum is at or below the adjusted wpm wins. The last bucket has MinWpm 0
// and catches everything slower. Scores decrease monotonically down the
// table, so a faster reading never grades below a slower one.
var speedBuckets = []speedBucket{
	{MinWpm: 140, Score: 100, Label: "Very Fast"},
	{MinWpm: 110, Score: 95, Label: "Fast"},
	{MinWpm: 80, Score: 90, Label: "On Pace"},
	{MinWpm: 60, Score: 80, Label: "Moderate"},
	{MinWpm: 40, Score: 70, Label: "Slow"},
	{MinWpm: 20, Score: 60, Label: "Very Slow"},
	{MinWpm: 0, Score: 50, Label: "Halting"},
}

// adjustWpm dampens the measured rate for very short utterances. A one-word
// card read quickly would otherwise extrapolate to an absurd wpm; the factor
// scales from 0.65 at one word up to 1.0 at ten or more words.
func adjustWpm(wpm, wordCount int) float64 {
	return float64(wpm) * (0.65 + 0.35*math.Min(1, float64(wordCount)/10))
}

// gradeSpeed maps a raw wpm and word count to the bucket score and label.
func gradeSpeed(wpm, wordCount int) (score int, label string) {
	adjusted := adjustWpm(wpm, wordCount)
	for _, b := range speedBuckets {
		if adjusted >= float64(b.MinWpm) {
			return b.Score, b.Label
		}
	}
	last := speedBuckets[len(speedBuckets)-1]
	return last.Score, last.Label
}
