// Package assess coordinates a reading assessment end to end: it owns the
// microphone, runs voice activity detection over the capture stream, feeds
// audio to the transcription provider, scores the finalized transcript, and
// records the outcome on the session tracker.
//
// One Engine drives at most one recording attempt at a time. The microphone
// is exclusively owned by the active attempt: starting a new attempt first
// tears down the previous one, and every asynchronous provider event is gated
// by the attempt's id and closed flag so a superseded attempt can never leak
// results into its successor.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remedialab/lectura/internal/content"
	"github.com/remedialab/lectura/internal/observe"
	"github.com/remedialab/lectura/internal/scoring"
	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/pkg/audio"
	"github.com/remedialab/lectura/pkg/provider/asr"
	"github.com/remedialab/lectura/pkg/provider/tts"
	"github.com/remedialab/lectura/pkg/types"
	"github.com/remedialab/lectura/pkg/vad"
)

// ErrNoActiveAttempt is returned by FinishAttempt when no recording is in
// progress.
var ErrNoActiveAttempt = errors.New("assess: no active recording attempt")

// Microphone opens capture streams. Each open stream is owned by exactly one
// recording attempt.
type Microphone interface {
	Open(ctx context.Context) (audio.InputStream, error)
}

// MicrophoneFunc adapts a function to the Microphone interface.
type MicrophoneFunc func(ctx context.Context) (audio.InputStream, error)

// Open implements [Microphone].
func (f MicrophoneFunc) Open(ctx context.Context) (audio.InputStream, error) { return f(ctx) }

// Config configures an [Engine].
type Config struct {
	// Microphone supplies capture streams. Must not be nil.
	Microphone Microphone

	// Recognizer is the transcription provider, normally a
	// resilience.ASRFallback wrapping the primary and fallback backends.
	// Must not be nil.
	Recognizer asr.Provider

	// Speaker synthesises playback clips. Nil disables the speak feature.
	Speaker tts.Provider

	// Cards resolves content keys to card decks. Must not be nil.
	Cards *content.Source

	// Tracker is the session state machine. Must not be nil.
	Tracker *session.Tracker

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// VAD tunes voice activity detection. Zero values use the defaults.
	VAD vad.Config

	// SampleRate of capture audio in Hz. Defaults to 16000.
	SampleRate int

	// Channels of capture audio. Defaults to 1.
	Channels int

	// Language is the recognition language tag. Defaults to "en-US".
	Language string

	// MaxAttempt bounds one recording attempt. Defaults to 120 s.
	MaxAttempt time.Duration
}

// Engine orchestrates assessment sessions. All methods are safe for
// concurrent use.
type Engine struct {
	mic        Microphone
	recognizer asr.Provider
	speaker    tts.Provider
	cards      *content.Source
	tracker    *session.Tracker
	metrics    *observe.Metrics
	vadCfg     vad.Config
	sampleRate int
	channels   int
	language   string
	maxAttempt time.Duration

	mu      sync.Mutex
	current *attempt
	lastKey types.SessionKey
	seq     atomic.Uint64
}

// attempt is one in-flight recording. The id and closed flag gate every
// asynchronous event path so stale completions are dropped.
type attempt struct {
	id        uint64
	cardIndex int
	card      types.ExpectedCard
	handle    asr.AttemptHandle
	monitor   *vad.Monitor
	started   time.Time
	closed    atomic.Bool

	liveMu sync.Mutex
	live   []string
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Microphone == nil {
		return nil, errors.New("assess: Microphone must not be nil")
	}
	if cfg.Recognizer == nil {
		return nil, errors.New("assess: Recognizer must not be nil")
	}
	if cfg.Cards == nil {
		return nil, errors.New("assess: Cards must not be nil")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("assess: Tracker must not be nil")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.MaxAttempt <= 0 {
		cfg.MaxAttempt = 120 * time.Second
	}
	return &Engine{
		mic:        cfg.Microphone,
		recognizer: cfg.Recognizer,
		speaker:    cfg.Speaker,
		cards:      cfg.Cards,
		tracker:    cfg.Tracker,
		metrics:    cfg.Metrics,
		vadCfg:     cfg.VAD,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		language:   cfg.Language,
		maxAttempt: cfg.MaxAttempt,
	}, nil
}

// StartSession loads the deck for contentKey and begins a session for key.
func (e *Engine) StartSession(ctx context.Context, key types.SessionKey, contentKey string) error {
	cards, err := e.cards.LoadCards(contentKey)
	if err != nil {
		return fmt.Errorf("assess: load cards: %w", err)
	}
	if err := e.tracker.Begin(ctx, key, cards); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastKey = key
	e.mu.Unlock()
	e.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"student", key.StudentID,
		"activity", key.Activity,
		"cards", len(cards),
		"resume_index", e.tracker.CurrentIndex())
	return nil
}

// StartAttempt acquires the microphone and begins recording the current
// card. Any prior attempt is torn down first; its late events are dropped.
// A retry after a no-speech finalization reuses the tracker's Recording
// state.
func (e *Engine) StartAttempt(ctx context.Context) error {
	card, err := e.cardForAttempt()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Exclusive microphone ownership: the previous attempt must release the
	// device before the new one acquires it.
	e.teardownLocked()

	stream, err := e.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("assess: open microphone: %w", err)
	}

	handle, err := e.recognizer.StartAttempt(ctx, asr.AttemptConfig{
		ReferenceText: card.Sentence,
		SampleRate:    e.sampleRate,
		Channels:      e.channels,
		Language:      e.language,
		MaxDuration:   e.maxAttempt,
	})
	if err != nil {
		stream.Close()
		return fmt.Errorf("assess: start recognition: %w", err)
	}

	att := &attempt{
		id:        e.seq.Add(1),
		cardIndex: e.tracker.CurrentIndex(),
		card:      card,
		handle:    handle,
		started:   time.Now(),
	}
	att.monitor = vad.NewMonitor(vad.NewDetector(e.vadCfg), stream, handle.SendAudio)
	att.monitor.Start()
	go e.collectSegments(att)

	e.current = att
	e.metrics.ActiveAttempts.Add(ctx, 1)
	slog.Debug("attempt started", "attempt", att.id, "card", att.cardIndex)
	return nil
}

// cardForAttempt resolves the card to record, entering the Recording state
// when the tracker is not already in it.
func (e *Engine) cardForAttempt() (types.ExpectedCard, error) {
	if e.tracker.State() == session.StateRecording {
		card, ok := e.tracker.CurrentCard()
		if !ok {
			return types.ExpectedCard{}, ErrNoActiveAttempt
		}
		return card, nil
	}
	return e.tracker.StartRecording()
}

// collectSegments drains streaming recognition events for att. Events
// arriving after the attempt closed, or after a newer attempt started, are
// discarded.
func (e *Engine) collectSegments(att *attempt) {
	for seg := range att.handle.Segments() {
		if att.closed.Load() || !e.isCurrent(att.id) {
			// A closed attempt never becomes current again; discard the
			// remainder so the provider can finish and close the channel.
			audio.Drain(att.handle.Segments())
			return
		}
		att.liveMu.Lock()
		att.live = append(att.live, seg.RawText)
		att.liveMu.Unlock()
	}
}

func (e *Engine) isCurrent(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.current.id == id
}

// LiveTranscript returns the text recognized so far in the active attempt,
// one entry per segment in arrival order.
func (e *Engine) LiveTranscript() []string {
	e.mu.Lock()
	att := e.current
	e.mu.Unlock()
	if att == nil {
		return nil
	}
	att.liveMu.Lock()
	defer att.liveMu.Unlock()
	out := make([]string, len(att.live))
	copy(out, att.live)
	return out
}

// FinishAttempt stops capture, finalizes recognition, scores the transcript,
// and records the result on the tracker.
//
// A finalization that recognized no words returns [asr.ErrNoSpeech] without
// recording a score; the tracker stays in Recording so the student can retry
// via StartAttempt.
func (e *Engine) FinishAttempt(ctx context.Context) (scoring.Result, error) {
	e.mu.Lock()
	att := e.current
	e.current = nil
	e.mu.Unlock()

	if att == nil {
		return scoring.Result{}, ErrNoActiveAttempt
	}
	defer e.metrics.ActiveAttempts.Add(ctx, -1)
	defer att.handle.Close()

	timing := att.monitor.Stop()

	finalizeStart := time.Now()
	agg, err := att.handle.Finalize(ctx)
	att.closed.Store(true)
	e.metrics.FinalizeDuration.Record(ctx, time.Since(finalizeStart).Seconds())

	if err != nil {
		if errors.Is(err, asr.ErrNoSpeech) {
			e.metrics.RecordNoSpeechRetry(ctx)
			slog.Info("no speech recognized, prompting retry", "attempt", att.id, "card", att.cardIndex)
			return scoring.Result{}, err
		}
		return scoring.Result{}, fmt.Errorf("assess: finalize attempt: %w", err)
	}

	result := scoring.Score(scoring.Inputs{
		ExpectedText:  att.card.Sentence,
		SpokenText:    agg.Text,
		Timing:        timing,
		Provider:      agg.Scores,
		ProviderWords: agg.Words,
		Confidence:    agg.Confidence,
	})

	if err := e.tracker.RecordScore(ctx, result.Slide(att.cardIndex, att.card.Sentence, agg.Text)); err != nil {
		return scoring.Result{}, err
	}

	e.metrics.AttemptDuration.Record(ctx, time.Since(att.started).Seconds())
	e.metrics.RecordCardScored(ctx, result.Grade.Label)
	slog.Info("card scored",
		"attempt", att.id,
		"card", att.cardIndex,
		"average", result.AverageScore,
		"band", result.Grade.Label)
	return result, nil
}

// CancelAttempt discards the active attempt without scoring. Cancelling when
// nothing is recording is a no-op.
func (e *Engine) CancelAttempt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// teardownLocked releases the current attempt's resources. Must be called
// with e.mu held.
func (e *Engine) teardownLocked() {
	if e.current == nil {
		return
	}
	att := e.current
	e.current = nil

	// Mark closed before stopping so in-flight events are dropped, not
	// applied.
	att.closed.Store(true)
	att.monitor.Stop()
	att.handle.Close()
	e.metrics.ActiveAttempts.Add(context.Background(), -1)
	slog.Debug("attempt cancelled", "attempt", att.id)
}

// Advance moves the session to the next card, or to the summary after the
// last one.
func (e *Engine) Advance() error {
	return e.tracker.Advance()
}

// Finish saves the session with the given teacher feedback.
func (e *Engine) Finish(ctx context.Context, teacherFeedback string) error {
	slides := e.tracker.Slides()
	if err := e.tracker.Save(ctx, teacherFeedback); err != nil {
		return err
	}
	e.metrics.ActiveSessions.Add(ctx, -1)
	key := e.sessionKey()
	e.metrics.RecordSessionCompleted(ctx, key.Subject, key.Activity)
	slog.Info("session saved", "student", key.StudentID, "cards", len(slides))
	return nil
}

// StopSession aborts the session from any state: the active attempt is torn
// down, transient scores are cleared, and the tracker returns to Idle.
func (e *Engine) StopSession(ctx context.Context) {
	e.CancelAttempt()
	// A blocked session never passed the gauge increment in StartSession, so
	// only states reached through it count the session down.
	if st := e.tracker.State(); st != session.StateIdle && st != session.StateBlocked {
		e.metrics.ActiveSessions.Add(ctx, -1)
	}
	e.tracker.Stop()
}

// AudioFormat reports the capture format the engine expects: sample rate in
// Hz and channel count. Transports framing raw PCM must match it.
func (e *Engine) AudioFormat() (sampleRate, channels int) {
	return e.sampleRate, e.channels
}

// Tracker exposes the underlying session state machine, primarily for
// read-side queries from the transport layer.
func (e *Engine) Tracker() *session.Tracker {
	return e.tracker
}

// Speak synthesises text for playback. Playback never affects scoring.
func (e *Engine) Speak(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if e.speaker == nil {
		return nil, errors.New("assess: no speech synthesis backend configured")
	}
	start := time.Now()
	clip, err := e.speaker.Synthesize(ctx, text, voice)
	e.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("assess: synthesize: %w", err)
	}
	return clip, nil
}

// sessionKey returns the key recorded at StartSession time, for metric and
// log labels.
func (e *Engine) sessionKey() types.SessionKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastKey
}
