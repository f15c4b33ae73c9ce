// Package session tracks the lifecycle of one reading assessment session:
// which student is being assessed, which card is active, which cards already
// have scores, and whether the session is locked against re-entry.
//
// The Tracker is a state machine. A session moves
// Idle → Selecting → Recording → Scored → … → Summary → Saved, with Blocked
// as a terminal state entered when a completed lock already exists for the
// student. Stop returns to Idle from any state and clears transient scores.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/remedialab/lectura/pkg/types"
)

// State names one position in the session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateRecording State = "recording"
	StateScored    State = "scored"
	StateSummary   State = "summary"
	StateSaved     State = "saved"
	StateBlocked   State = "blocked"
)

var (
	// ErrSessionCompleted is returned when a completed lock blocks entry into
	// the session. Not retryable without administrative reset.
	ErrSessionCompleted = errors.New("session: already completed for this student")

	// ErrUnscored is returned when advancing past a card that has no
	// recorded score yet.
	ErrUnscored = errors.New("session: current card must be scored before advancing")

	// ErrFeedbackRequired is returned by Save when the session is
	// lock-enabled and no teacher feedback was supplied.
	ErrFeedbackRequired = errors.New("session: teacher feedback required to save a locked session")

	// ErrNoCards is returned by Begin when the card deck is empty.
	ErrNoCards = errors.New("session: card deck is empty")
)

// TransitionError reports an operation attempted in the wrong state.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: cannot %s in state %q", e.Op, e.State)
}

// Option is a functional option for configuring a Tracker.
type Option func(*Tracker)

// WithLock enables session locking: a completed session blocks re-entry, and
// saving requires teacher feedback.
func WithLock() Option {
	return func(t *Tracker) { t.lockEnabled = true }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is the session state machine.
type Tracker struct {
	store       Store
	lockEnabled bool
	now         func() time.Time

	mu     sync.Mutex
	state  State
	key    types.SessionKey
	cards  []types.ExpectedCard
	cursor int
	slides map[int]types.SlideScore
}

// NewTracker creates an idle Tracker persisting through store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		state:  StateIdle,
		slides: make(map[int]types.SlideScore),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Begin starts a session for the student identified by key, reading cards in
// order. When a completed lock exists the session enters Blocked and
// ErrSessionCompleted is returned. When an in-progress lock exists the
// session resumes at the card after the last scored one.
func (t *Tracker) Begin(ctx context.Context, key types.SessionKey, cards []types.ExpectedCard) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return &TransitionError{Op: "begin", State: t.state}
	}
	if len(cards) == 0 {
		return ErrNoCards
	}

	if t.lockEnabled {
		lock, err := t.store.FetchLock(ctx, key)
		if err != nil {
			return fmt.Errorf("session: fetch lock: %w", err)
		}
		if lock != nil {
			if lock.Completed {
				t.state = StateBlocked
				t.key = key
				return ErrSessionCompleted
			}
			t.cursor = min(lock.LastIndex+1, len(cards)-1)
		}
	}

	t.key = key
	t.cards = cards
	t.state = StateSelecting
	return nil
}

// StartRecording moves into the Recording state for the current card.
// Permitted from Selecting (first recording) and from Scored (re-recording
// the current card; its score will be replaced).
func (t *Tracker) StartRecording() (types.ExpectedCard, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateSelecting && t.state != StateScored {
		return types.ExpectedCard{}, &TransitionError{Op: "record", State: t.state}
	}
	t.state = StateRecording
	return t.cards[t.cursor], nil
}

// RecordScore stores the scoring outcome for the card being recorded and
// moves to Scored. Re-recording replaces the card's previous score. Progress
// is persisted to the session lock when locking is enabled.
func (t *Tracker) RecordScore(ctx context.Context, slide types.SlideScore) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRecording {
		return &TransitionError{Op: "score", State: t.state}
	}

	slide.CardIndex = t.cursor
	t.slides[t.cursor] = slide
	t.state = StateScored

	if t.lockEnabled {
		err := t.store.UpsertLock(ctx, t.key, types.SessionLockState{
			LastIndex: t.cursor,
			UpdatedAt: t.now(),
		})
		if err != nil {
			return fmt.Errorf("session: persist progress: %w", err)
		}
	}
	return nil
}

// Advance moves to the next card, or to Summary when the last card has been
// scored. The current card must already have a recorded score.
func (t *Tracker) Advance() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateScored {
		return &TransitionError{Op: "advance", State: t.state}
	}
	if _, ok := t.slides[t.cursor]; !ok {
		return ErrUnscored
	}

	if t.cursor == len(t.cards)-1 {
		t.state = StateSummary
		return nil
	}
	t.cursor++
	t.state = StateRecording
	return nil
}

// Save persists all accumulated slides plus teacher feedback and marks the
// session lock completed. Lock-enabled sessions require non-empty feedback.
func (t *Tracker) Save(ctx context.Context, teacherFeedback string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateSummary {
		return &TransitionError{Op: "save", State: t.state}
	}
	if t.lockEnabled && teacherFeedback == "" {
		return ErrFeedbackRequired
	}

	slides := t.sortedSlidesLocked()
	if err := t.store.SaveSlides(ctx, t.key.StudentID, slides, teacherFeedback); err != nil {
		return fmt.Errorf("session: save slides: %w", err)
	}

	var sum int
	for _, s := range slides {
		sum += s.AverageScore
	}
	entry := PerformanceEntry{
		StudentID:    t.key.StudentID,
		Subject:      t.key.Subject,
		Activity:     t.key.Activity,
		AverageScore: sum / max(1, len(slides)),
		CardCount:    len(slides),
		RecordedAt:   t.now(),
	}
	if err := t.store.SavePerformance(ctx, entry); err != nil {
		return fmt.Errorf("session: save performance: %w", err)
	}

	if t.lockEnabled {
		err := t.store.UpsertLock(ctx, t.key, types.SessionLockState{
			Completed: true,
			LastIndex: t.cursor,
			UpdatedAt: t.now(),
		})
		if err != nil {
			return fmt.Errorf("session: complete lock: %w", err)
		}
	}

	t.state = StateSaved
	return nil
}

// Stop resets the tracker to Idle from any state, clearing transient scores
// and the card cursor. Callers tear down audio resources separately before
// calling Stop. Stopping an idle tracker is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateIdle
	t.key = types.SessionKey{}
	t.cards = nil
	t.cursor = 0
	t.slides = make(map[int]types.SlideScore)
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CurrentCard returns the card the cursor points at. ok is false when no
// session is active.
func (t *Tracker) CurrentCard() (card types.ExpectedCard, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateIdle || t.state == StateBlocked || len(t.cards) == 0 {
		return types.ExpectedCard{}, false
	}
	return t.cards[t.cursor], true
}

// CurrentIndex returns the zero-based index of the card the cursor points
// at. Meaningful only while a session is active.
func (t *Tracker) CurrentIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Slides returns the accumulated scores ordered by card index. The returned
// slice is a copy.
func (t *Tracker) Slides() []types.SlideScore {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedSlidesLocked()
}

func (t *Tracker) sortedSlidesLocked() []types.SlideScore {
	slides := make([]types.SlideScore, 0, len(t.slides))
	for _, s := range t.slides {
		slides = append(slides, s)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].CardIndex < slides[j].CardIndex })
	return slides
}
