package asr_test

import (
	"testing"
	"time"

	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/textnorm"
	"github.com/remedialab/lectura/pkg/types"
)

func TestMergeSegments_WeightedAverage(t *testing.T) {
	t.Parallel()

	segs := []types.SpeechSegment{
		{
			RawText: "the cat sat",
			Start:   0, End: 1500 * time.Millisecond,
			Scores: &types.SubScores{Pronunciation: 90, Accuracy: 90, Fluency: 90, Completeness: 100},
		},
		{
			RawText: "on the mat",
			Start:   1500 * time.Millisecond, End: 3 * time.Second,
			Scores: &types.SubScores{Pronunciation: 60, Accuracy: 60, Fluency: 60, Completeness: 100},
		},
	}
	res := asr.MergeSegments(segs)

	if res.Text != "the cat sat on the mat" {
		t.Errorf("Text = %q, want concatenation in arrival order", res.Text)
	}
	if res.WordCount != 6 {
		t.Errorf("WordCount = %d, want 6", res.WordCount)
	}
	if res.Scores == nil {
		t.Fatal("Scores = nil, want weighted average")
	}
	// Equal word counts → plain average of 90 and 60.
	if res.Scores.Pronunciation != 75 {
		t.Errorf("Pronunciation = %v, want 75", res.Scores.Pronunciation)
	}
	if res.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", res.Duration)
	}
}

func TestMergeSegments_UnevenWeights(t *testing.T) {
	t.Parallel()

	segs := []types.SpeechSegment{
		{RawText: "one", Scores: &types.SubScores{Accuracy: 100}},
		{RawText: "two three four", Scores: &types.SubScores{Accuracy: 60}},
	}
	res := asr.MergeSegments(segs)
	// (100*1 + 60*3) / 4 = 70.
	if res.Scores.Accuracy != 70 {
		t.Errorf("Accuracy = %v, want 70", res.Scores.Accuracy)
	}
}

func TestMergeSegments_EmptyAndScorelessSegments(t *testing.T) {
	t.Parallel()

	res := asr.MergeSegments(nil)
	if res.WordCount != 0 || res.Scores != nil || res.Text != "" {
		t.Errorf("empty merge = %+v, want zero result", res)
	}

	// Fallback-style segments carry no sub-scores.
	res = asr.MergeSegments([]types.SpeechSegment{
		{RawText: "hello there"},
		{RawText: "   "},
	})
	if res.Scores != nil {
		t.Errorf("Scores = %+v, want nil without provider sub-scores", res.Scores)
	}
	if res.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", res.WordCount)
	}
}

func TestRepairOmissions_PerfectReading(t *testing.T) {
	t.Parallel()

	expected := textnorm.Tokens("The cat sat.")
	spoken := []types.WordFeedback{
		{Word: "the", AccuracyScore: 98},
		{Word: "cat", AccuracyScore: 95},
		{Word: "sat", AccuracyScore: 97},
	}
	out := asr.RepairOmissions(expected, spoken)
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	for i, w := range out {
		if w.ErrorType != types.ErrorNone {
			t.Errorf("word %d (%q): errorType = %q, want None", i, w.Word, w.ErrorType)
		}
	}
}

func TestRepairOmissions_TrailingWordsOmitted(t *testing.T) {
	t.Parallel()

	expected := []string{"the", "dog", "ran", "to", "the", "park"}
	spoken := []types.WordFeedback{
		{Word: "the", AccuracyScore: 90},
		{Word: "dog", AccuracyScore: 90},
		{Word: "ran", AccuracyScore: 90},
	}
	out := asr.RepairOmissions(expected, spoken)
	if len(out) != 6 {
		t.Fatalf("got %d entries, want 6", len(out))
	}
	omittedCount := 0
	for _, w := range out {
		if w.ErrorType == types.ErrorOmitted {
			omittedCount++
			if w.AccuracyScore != 0 {
				t.Errorf("omitted word %q has accuracy %v, want 0", w.Word, w.AccuracyScore)
			}
		}
	}
	if omittedCount != 3 {
		t.Errorf("omitted count = %d, want 3", omittedCount)
	}
}

func TestRepairOmissions_MiddleWordSkipped(t *testing.T) {
	t.Parallel()

	expected := []string{"the", "big", "dog"}
	spoken := []types.WordFeedback{
		{Word: "the", AccuracyScore: 95},
		{Word: "dog", AccuracyScore: 92},
	}
	out := asr.RepairOmissions(expected, spoken)
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	if out[1].Word != "big" || out[1].ErrorType != types.ErrorOmitted {
		t.Errorf("middle entry = %+v, want omitted %q", out[1], "big")
	}
	if out[2].Word != "dog" || out[2].ErrorType != types.ErrorNone {
		t.Errorf("last entry = %+v, want matched %q", out[2], "dog")
	}
}

func TestRepairOmissions_SubstitutedWord(t *testing.T) {
	t.Parallel()

	expected := []string{"the", "cat"}
	spoken := []types.WordFeedback{
		{Word: "the", AccuracyScore: 95},
		{Word: "cap", AccuracyScore: 40},
	}
	out := asr.RepairOmissions(expected, spoken)
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	if out[1].Word != "cat" {
		t.Errorf("substituted entry keeps spoken word %q, want expected %q", out[1].Word, "cat")
	}
	if out[1].ErrorType != types.ErrorMispronounced {
		t.Errorf("substituted entry errorType = %q, want Mispronunciation", out[1].ErrorType)
	}
}
