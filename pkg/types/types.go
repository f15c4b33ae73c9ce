// Package types defines the shared data model used across all Lectura packages.
//
// These types form the lingua franca between the voice activity detector, the
// transcription providers, the scoring engine, and the session tracker. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// ExpectedCard is one sentence-reading unit within a multi-card assessment
// session. Cards are immutable content items: created from seed data or a
// persisted content key, read-only for the duration of a session.
type ExpectedCard struct {
	// Sentence is the target text the student is asked to read aloud.
	Sentence string `yaml:"sentence" json:"sentence"`

	// HighlightWords are words the UI emphasises while the card is shown.
	// Order matters; the slice may be empty.
	HighlightWords []string `yaml:"highlight_words" json:"highlightWords,omitempty"`
}

// ErrorType classifies how an expected word was realised by the reader.
type ErrorType string

const (
	// ErrorNone marks a word read accurately.
	ErrorNone ErrorType = "None"

	// ErrorMispronounced marks a word that was attempted but poorly matched.
	ErrorMispronounced ErrorType = "Mispronunciation"

	// ErrorOmitted marks an expected word with no corresponding spoken word.
	ErrorOmitted ErrorType = "Omission"
)

// WordFeedback is per-word assessment feedback, ordered to match the expected
// sentence rather than the raw spoken order. Omitted words are re-inserted
// positionally so the feedback list always has exactly one entry per expected
// word.
type WordFeedback struct {
	// Word is the expected word (normalized form).
	Word string `json:"word"`

	// AccuracyScore is the per-word accuracy in [0,100]. Negative when the
	// provider reported no per-word score (fallback path).
	AccuracyScore float64 `json:"accuracyScore"`

	// ErrorType classifies the realisation of this word.
	ErrorType ErrorType `json:"errorType"`
}

// SubScores are provider-native pronunciation assessment dimensions, each in
// [0,100]. Present only on the primary (cloud) provider path.
type SubScores struct {
	Pronunciation float64 `json:"pronScore"`
	Accuracy      float64 `json:"accuracyScore"`
	Fluency       float64 `json:"fluencyScore"`
	Completeness  float64 `json:"completenessScore"`
}

// SpeechSegment is one incremental recognition result produced by a
// transcription provider. Multiple segments from a single recording attempt are
// merged into one AggregateResult.
type SpeechSegment struct {
	// Start and End bound the segment within the attempt.
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`

	// RawText is the recognised text for this segment.
	RawText string `json:"rawText"`

	// Scores holds provider-native sub-scores. Nil when the provider does not
	// assess pronunciation (fallback path).
	Scores *SubScores `json:"scores,omitempty"`

	// Words is the provider's per-word breakdown in spoken order. May be nil.
	Words []WordFeedback `json:"words,omitempty"`

	// Confidence is the provider's confidence for this segment in (0,1].
	// Zero when unreported.
	Confidence float64 `json:"confidence,omitempty"`
}

// AggregateResult is the merged outcome of one recording attempt: segment
// texts concatenated in arrival order, sub-scores combined by word-count
// weighted average, and the per-word feedback repaired so that omitted
// expected words appear positionally.
type AggregateResult struct {
	// Text is the full transcript of the attempt.
	Text string `json:"text"`

	// WordCount is the number of recognised words across all segments.
	WordCount int `json:"wordCount"`

	// Scores holds the weighted-average sub-scores. Nil on the fallback path.
	Scores *SubScores `json:"scores,omitempty"`

	// Words is the omission-repaired per-word feedback, one entry per
	// expected word. Nil when the provider has no word-level output.
	Words []WordFeedback `json:"words,omitempty"`

	// Confidence is the provider's overall confidence in (0,1]. Zero when the
	// provider does not report confidence.
	Confidence float64 `json:"confidence"`

	// Duration is the total speech duration covered by the attempt.
	Duration time.Duration `json:"duration"`
}

// VADTiming is the voice activity summary for one recording attempt, produced
// by the detector when capture ends.
type VADTiming struct {
	// SpeechStart is when the first voiced window was observed, relative to
	// capture start. Negative when no speech was ever detected.
	SpeechStart time.Duration `json:"speechStart"`

	// SpeechEnd is when capture ended, set explicitly by the caller.
	SpeechEnd time.Duration `json:"speechEnd"`

	// Silence is the accumulated silence between voiced stretches, counted
	// only after the debounce window elapses.
	Silence time.Duration `json:"cumulativeSilence"`
}

// SlideScore is the recorded assessment outcome for one card in a session.
// At most one SlideScore exists per CardIndex — re-recording a card replaces
// its score rather than appending.
type SlideScore struct {
	CardIndex         int    `json:"cardIndex"`
	Sentence          string `json:"sentence"`
	PronScore         int    `json:"pronScore"`
	Correctness       int    `json:"correctness"`
	FluencyScore      int    `json:"fluencyScore"`
	CompletenessScore int    `json:"completenessScore"`
	ReadingSpeedWpm   int    `json:"readingSpeedWpm"`
	ReadingSpeedScore int    `json:"readingSpeedScore"`
	AverageScore      int    `json:"averageScore"`
	Transcription     string `json:"transcription"`
}

// SessionLockState is the persisted completion marker for a
// (subject, activity, student) triple. LastIndex is monotonically
// non-decreasing; Completed becomes true only once and never reverts.
type SessionLockState struct {
	Completed bool      `json:"completed"`
	LastIndex int       `json:"lastIndex"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionKey identifies a session lock.
type SessionKey struct {
	Subject   string `json:"subject"`
	Activity  string `json:"activity"`
	StudentID string `json:"studentId"`
}

// SessionStatus summarises a student's standing for a session key, as
// reported to teacher dashboards.
type SessionStatus struct {
	StudentID   string `json:"studentId"`
	Completed   bool   `json:"completed"`
	HasProgress bool   `json:"hasProgress"`
}
