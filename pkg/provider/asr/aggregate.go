package asr

import (
	"strings"
	"time"

	"github.com/remedialab/lectura/pkg/textnorm"
	"github.com/remedialab/lectura/pkg/types"
)

// MergeSegments combines the segments of one recording attempt into a single
// AggregateResult. Texts are concatenated in arrival order, per-word results
// are concatenated in arrival order, and provider sub-scores are merged by
// word-count-weighted average so a long accurate segment outweighs a short
// noisy one. Segments without sub-scores contribute text and words only.
func MergeSegments(segments []types.SpeechSegment) types.AggregateResult {
	var (
		texts      []string
		words      []types.WordFeedback
		sum        types.SubScores
		confSum    float64
		confWeight int
		weight     int
		totalWords int
		duration   = durationOf(segments)
	)

	for _, seg := range segments {
		n := len(textnorm.Tokens(seg.RawText))
		if n == 0 {
			continue
		}
		texts = append(texts, strings.TrimSpace(seg.RawText))
		words = append(words, seg.Words...)
		totalWords += n
		if seg.Confidence > 0 {
			confSum += seg.Confidence * float64(n)
			confWeight += n
		}
		if seg.Scores != nil {
			sum.Pronunciation += seg.Scores.Pronunciation * float64(n)
			sum.Accuracy += seg.Scores.Accuracy * float64(n)
			sum.Fluency += seg.Scores.Fluency * float64(n)
			sum.Completeness += seg.Scores.Completeness * float64(n)
			weight += n
		}
	}

	res := types.AggregateResult{
		Text:      strings.Join(texts, " "),
		WordCount: totalWords,
		Words:     words,
		Duration:  duration,
	}
	if confWeight > 0 {
		res.Confidence = confSum / float64(confWeight)
	}
	if weight > 0 {
		res.Scores = &types.SubScores{
			Pronunciation: sum.Pronunciation / float64(weight),
			Accuracy:      sum.Accuracy / float64(weight),
			Fluency:       sum.Fluency / float64(weight),
			Completeness:  sum.Completeness / float64(weight),
		}
	}
	return res
}

func durationOf(segments []types.SpeechSegment) (total time.Duration) {
	for _, seg := range segments {
		if d := seg.End - seg.Start; d > 0 {
			total += d
		}
	}
	return total
}

// RepairOmissions aligns the provider's per-word feedback against the
// normalized expected word sequence, re-inserting expected words the provider
// never emitted as zero-score omissions. The result always has exactly
// len(expectedWords) entries, in expected order, so the UI can render a
// stable word list.
//
// Alignment is positional with one word of lookahead: when the current spoken
// word does not match the current expected word but does match the next one,
// the expected word was skipped; otherwise the spoken word is treated as an
// attempt at the expected word.
func RepairOmissions(expectedWords []string, spoken []types.WordFeedback) []types.WordFeedback {
	out := make([]types.WordFeedback, 0, len(expectedWords))
	j := 0
	for i, exp := range expectedWords {
		switch {
		case j < len(spoken) && textnorm.Normalize(spoken[j].Word) == exp:
			w := spoken[j]
			w.Word = exp
			if w.ErrorType == "" {
				w.ErrorType = types.ErrorNone
			}
			out = append(out, w)
			j++
		case j < len(spoken) && i+1 < len(expectedWords) &&
			textnorm.Normalize(spoken[j].Word) == expectedWords[i+1]:
			// The provider jumped ahead: this expected word was omitted.
			out = append(out, omitted(exp))
		case j < len(spoken):
			// Different word at this position — count it as the attempt.
			w := spoken[j]
			w.Word = exp
			if w.ErrorType == "" || w.ErrorType == types.ErrorNone {
				w.ErrorType = types.ErrorMispronounced
			}
			out = append(out, w)
			j++
		default:
			out = append(out, omitted(exp))
		}
	}
	return out
}

func omitted(word string) types.WordFeedback {
	return types.WordFeedback{Word: word, AccuracyScore: 0, ErrorType: types.ErrorOmitted}
}
