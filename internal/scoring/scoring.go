// Package scoring implements the assessment scoring engine. Score is a pure
// function over the expected text, the transcript, voice activity timing, and
// whatever the transcription provider natively reported. It never errors:
// empty inputs and zero durations are clamped, not rejected, so a bad
// recording attempt still produces a well-formed (if low) score.
package scoring

import (
	"math"

	"github.com/remedialab/lectura/internal/align"
	"github.com/remedialab/lectura/internal/phoneme"
	"github.com/remedialab/lectura/pkg/textnorm"
	"github.com/remedialab/lectura/pkg/types"
)

// Inputs carries everything one scoring pass needs.
type Inputs struct {
	// ExpectedText is the card sentence the student was asked to read.
	ExpectedText string

	// SpokenText is the transcript returned by the provider.
	SpokenText string

	// Timing is the voice activity summary for the attempt.
	Timing types.VADTiming

	// Provider holds the primary provider's native sub-scores. Nil on the
	// fallback path, where all scores derive from text alignment.
	Provider *types.SubScores

	// ProviderWords is the provider's per-word breakdown after omission
	// repair. When empty, per-word feedback is derived from alignment.
	ProviderWords []types.WordFeedback

	// Confidence is the fallback provider's confidence scalar in [0,1].
	// Ignored when Provider is non-nil.
	Confidence float64
}

// Grade is the categorical outcome derived from the average score.
type Grade struct {
	Label  string
	Remark string
}

// gradeBands is checked top-down; the first band at or below AverageScore
// wins.
var gradeBands = []struct {
	Min   int
	Grade Grade
}{
	{90, Grade{Label: "Excellent", Remark: "Outstanding reading. Keep it up!"}},
	{80, Grade{Label: "Very Good", Remark: "Great work! A little more practice makes perfect."}},
	{70, Grade{Label: "Good", Remark: "Good effort. Keep practicing to build confidence."}},
	{60, Grade{Label: "Fair", Remark: "Getting there. Try reading this passage again."}},
	{0, Grade{Label: "Poor", Remark: "Needs more practice. Listen to the playback and try again."}},
}

// Result is the outcome of one scoring pass.
type Result struct {
	// WordAccuracy is the alignment-derived accuracy in [0,100].
	WordAccuracy int

	// PhonemeAccuracy is the phoneme-level accuracy in [0,100], kept at two
	// decimals unlike the other outputs.
	PhonemeAccuracy float64

	// PronScore is the pronunciation composite in [0,100].
	PronScore int

	// Correctness is the correctness percentage in [0,100].
	Correctness int

	// FluencyScore is the pause-ratio derived fluency in [0,100].
	FluencyScore int

	// CompletenessScore reflects how much of the card was read, in [0,100].
	CompletenessScore int

	// ReadingSpeedWpm is the raw words-per-minute over the speech span.
	ReadingSpeedWpm int

	// ReadingSpeedScore is the bucket score for the adjusted wpm.
	ReadingSpeedScore int

	// SpeedLabel is the pace description for the matched bucket.
	SpeedLabel string

	// AverageScore is the overall score in [0,100].
	AverageScore int

	// Grade is the categorical band for AverageScore.
	Grade Grade

	// Words has exactly one entry per expected word.
	Words []types.WordFeedback
}

// Score runs the full scoring pass. It is stateless and safe for concurrent
// use.
func Score(in Inputs) Result {
	expected := textnorm.Tokens(in.ExpectedText)
	spoken := textnorm.Tokens(in.SpokenText)
	total := len(expected)

	matches := align.MatchWords(expected, spoken)
	var exact, soft int
	for _, m := range matches {
		switch {
		case m.Exact():
			exact++
		case m.Soft():
			soft++
		}
	}
	wordAccuracy := (float64(exact) + 0.6*float64(soft)) / float64(max(1, total)) * 100

	words := in.ProviderWords
	if len(words) == 0 {
		words = feedbackFromMatches(matches)
	}
	var omitted int
	for _, w := range words {
		if w.ErrorType == types.ErrorOmitted {
			omitted++
		}
	}
	completeness := clamp(100 - round(float64(omitted)/float64(max(1, total))*100))

	phonemeAccuracy := phoneme.Compare(phonemeTokens(expected), phonemeTokens(spoken))

	speechMs := in.Timing.SpeechEnd.Milliseconds() - in.Timing.SpeechStart.Milliseconds()
	if in.Timing.SpeechStart < 0 {
		speechMs = 0
	}
	speechMs = max(1, speechMs)
	pauseRatio := math.Min(1, float64(in.Timing.Silence.Milliseconds())/float64(speechMs))
	fluency := clamp(round((1 - pauseRatio) * 100))

	wpm := round(float64(total) / (float64(speechMs) / 1000) * 60)
	speedScore, speedLabel := gradeSpeed(wpm, total)

	var pron, correctness int
	if in.Provider != nil {
		pron = clamp(round(in.Provider.Pronunciation))
		correctness = clamp(round(0.6*in.Provider.Accuracy + 0.4*wordAccuracy))
	} else {
		pron = clamp(round(0.5*wordAccuracy + 0.35*phonemeAccuracy + 0.15*in.Confidence*100))
		correctness = clamp(round(wordAccuracy))
	}

	average := clamp(round(float64(pron+correctness+speedScore) / 3))

	return Result{
		WordAccuracy:      clamp(round(wordAccuracy)),
		PhonemeAccuracy:   phonemeAccuracy,
		PronScore:         pron,
		Correctness:       correctness,
		FluencyScore:      fluency,
		CompletenessScore: completeness,
		ReadingSpeedWpm:   wpm,
		ReadingSpeedScore: speedScore,
		SpeedLabel:        speedLabel,
		AverageScore:      average,
		Grade:             gradeFor(average),
		Words:             words,
	}
}

// Slide converts a Result into the persisted per-card record.
func (r Result) Slide(cardIndex int, sentence, transcription string) types.SlideScore {
	return types.SlideScore{
		CardIndex:         cardIndex,
		Sentence:          sentence,
		PronScore:         r.PronScore,
		Correctness:       r.Correctness,
		FluencyScore:      r.FluencyScore,
		CompletenessScore: r.CompletenessScore,
		ReadingSpeedWpm:   r.ReadingSpeedWpm,
		ReadingSpeedScore: r.ReadingSpeedScore,
		AverageScore:      r.AverageScore,
		Transcription:     transcription,
	}
}

// feedbackFromMatches derives per-word feedback from alignment similarity.
// Similarity at or above 85 counts as correct, exactly zero as omitted, and
// anything between as mispronounced.
func feedbackFromMatches(matches []align.Match) []types.WordFeedback {
	words := make([]types.WordFeedback, 0, len(matches))
	for _, m := range matches {
		et := types.ErrorMispronounced
		switch {
		case m.Similarity >= 85:
			et = types.ErrorNone
		case m.Similarity == 0:
			et = types.ErrorOmitted
		}
		words = append(words, types.WordFeedback{
			Word:          m.Expected,
			AccuracyScore: m.Similarity,
			ErrorType:     et,
		})
	}
	return words
}

// phonemeTokens flattens a word sequence into one phoneme token stream.
func phonemeTokens(words []string) []string {
	var tokens []string
	for _, w := range words {
		tokens = append(tokens, phoneme.Approximate(w)...)
	}
	return tokens
}

func gradeFor(average int) Grade {
	for _, b := range gradeBands {
		if average >= b.Min {
			return b.Grade
		}
	}
	return gradeBands[len(gradeBands)-1].Grade
}

func round(v float64) int {
	return int(math.Round(v))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
