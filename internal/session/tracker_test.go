package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/pkg/types"
)

// fakeStore is an in-memory Store recording every call.
type fakeStore struct {
	mu sync.Mutex

	lock        *types.SessionLockState
	fetchErr    error
	saveErr     error
	upsertCalls []types.SessionLockState
	savedSlides []types.SlideScore
	savedNotes  string
	perfEntries []session.PerformanceEntry
}

func (f *fakeStore) SaveSlides(_ context.Context, _ string, slides []types.SlideScore, feedback string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedSlides = slides
	f.savedNotes = feedback
	return nil
}

func (f *fakeStore) SavePerformance(_ context.Context, entry session.PerformanceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perfEntries = append(f.perfEntries, entry)
	return nil
}

func (f *fakeStore) FetchStatus(_ context.Context, _, _ string, ids []string) ([]types.SessionStatus, error) {
	out := make([]types.SessionStatus, len(ids))
	for i, id := range ids {
		out[i] = types.SessionStatus{StudentID: id}
	}
	return out, nil
}

func (f *fakeStore) FetchLock(_ context.Context, _ types.SessionKey) (*types.SessionLockState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock, f.fetchErr
}

func (f *fakeStore) UpsertLock(_ context.Context, _ types.SessionKey, state types.SessionLockState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls = append(f.upsertCalls, state)
	return nil
}

var _ session.Store = (*fakeStore)(nil)

func testCards(n int) []types.ExpectedCard {
	cards := make([]types.ExpectedCard, n)
	for i := range cards {
		cards[i] = types.ExpectedCard{Sentence: "card sentence"}
	}
	return cards
}

func testKey() types.SessionKey {
	return types.SessionKey{Subject: "english", Activity: "reading-1", StudentID: "s-42"}
}

func scoreCurrentCard(t *testing.T, tr *session.Tracker, avg int) {
	t.Helper()
	if _, err := tr.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := tr.RecordScore(context.Background(), types.SlideScore{AverageScore: avg}); err != nil {
		t.Fatalf("RecordScore() error = %v", err)
	}
}

func TestFullSessionLifecycle(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	tr := session.NewTracker(store, session.WithLock(),
		session.WithClock(func() time.Time { return time.Unix(1000, 0) }))

	if err := tr.Begin(context.Background(), testKey(), testCards(2)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := tr.State(); got != session.StateSelecting {
		t.Fatalf("state = %q, want selecting", got)
	}

	scoreCurrentCard(t, tr, 90)
	if err := tr.Advance(); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	scoreCurrentCard(t, tr, 70)
	if err := tr.Advance(); err != nil {
		t.Fatalf("Advance() past last card error = %v", err)
	}
	if got := tr.State(); got != session.StateSummary {
		t.Fatalf("state = %q, want summary", got)
	}

	if err := tr.Save(context.Background(), "great improvement"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := tr.State(); got != session.StateSaved {
		t.Errorf("state = %q, want saved", got)
	}

	if len(store.savedSlides) != 2 || store.savedNotes != "great improvement" {
		t.Errorf("saved %d slides, notes %q", len(store.savedSlides), store.savedNotes)
	}
	if len(store.perfEntries) != 1 || store.perfEntries[0].AverageScore != 80 {
		t.Errorf("performance entries = %+v", store.perfEntries)
	}
	final := store.upsertCalls[len(store.upsertCalls)-1]
	if !final.Completed || final.LastIndex != 1 {
		t.Errorf("final lock = %+v, want completed at index 1", final)
	}
}

func TestCompletedLockBlocksEntry(t *testing.T) {
	t.Parallel()

	store := &fakeStore{lock: &types.SessionLockState{Completed: true, LastIndex: 4}}
	tr := session.NewTracker(store, session.WithLock())

	err := tr.Begin(context.Background(), testKey(), testCards(5))
	if !errors.Is(err, session.ErrSessionCompleted) {
		t.Fatalf("Begin() error = %v, want ErrSessionCompleted", err)
	}
	if got := tr.State(); got != session.StateBlocked {
		t.Errorf("state = %q, want blocked", got)
	}
	if _, err := tr.StartRecording(); err == nil {
		t.Error("StartRecording() in blocked state should fail")
	}
}

func TestInProgressLockResumes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{lock: &types.SessionLockState{LastIndex: 1}}
	tr := session.NewTracker(store, session.WithLock())

	if err := tr.Begin(context.Background(), testKey(), testCards(5)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, ok := tr.CurrentCard(); !ok {
		t.Fatal("CurrentCard() should report an active card")
	}
	if got := tr.CurrentIndex(); got != 2 {
		t.Errorf("resumed at card %d, want 2", got)
	}
}

func TestRerecordingReplacesScore(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{})
	if err := tr.Begin(context.Background(), testKey(), testCards(3)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	scoreCurrentCard(t, tr, 40)
	scoreCurrentCard(t, tr, 85) // retry the same card

	slides := tr.Slides()
	if len(slides) != 1 {
		t.Fatalf("got %d slides after re-record, want 1", len(slides))
	}
	if slides[0].AverageScore != 85 {
		t.Errorf("AverageScore = %d, want the replacement 85", slides[0].AverageScore)
	}
}

func TestUpsertKeepsCardIndexesUnique(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{})
	if err := tr.Begin(context.Background(), testKey(), testCards(3)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		scoreCurrentCard(t, tr, 70)
		scoreCurrentCard(t, tr, 75)
		if err := tr.Advance(); err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
	}

	seen := map[int]bool{}
	for _, s := range tr.Slides() {
		if seen[s.CardIndex] {
			t.Fatalf("duplicate CardIndex %d", s.CardIndex)
		}
		seen[s.CardIndex] = true
	}
	if len(seen) != 3 {
		t.Errorf("got %d distinct cards, want 3", len(seen))
	}
}

func TestAdvanceRequiresScore(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{})
	if err := tr.Begin(context.Background(), testKey(), testCards(2)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tr.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	err := tr.Advance()
	var te *session.TransitionError
	if !errors.As(err, &te) {
		t.Errorf("Advance() while recording error = %v, want TransitionError", err)
	}
}

func TestSaveRequiresFeedbackWhenLocked(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{}, session.WithLock())
	if err := tr.Begin(context.Background(), testKey(), testCards(1)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	scoreCurrentCard(t, tr, 80)
	if err := tr.Advance(); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	if err := tr.Save(context.Background(), ""); !errors.Is(err, session.ErrFeedbackRequired) {
		t.Errorf("Save() error = %v, want ErrFeedbackRequired", err)
	}
	if err := tr.Save(context.Background(), "well done"); err != nil {
		t.Errorf("Save() with feedback error = %v", err)
	}
}

func TestStopResetsFromAnyState(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{})
	if err := tr.Begin(context.Background(), testKey(), testCards(2)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	scoreCurrentCard(t, tr, 60)

	tr.Stop()
	if got := tr.State(); got != session.StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if slides := tr.Slides(); len(slides) != 0 {
		t.Errorf("transient slides survived Stop: %+v", slides)
	}
	if _, ok := tr.CurrentCard(); ok {
		t.Error("CurrentCard() should report no active card after Stop")
	}

	// The tracker is reusable after Stop.
	if err := tr.Begin(context.Background(), testKey(), testCards(1)); err != nil {
		t.Errorf("Begin() after Stop error = %v", err)
	}
}

func TestBeginRejectsEmptyDeck(t *testing.T) {
	t.Parallel()

	tr := session.NewTracker(&fakeStore{})
	if err := tr.Begin(context.Background(), testKey(), nil); !errors.Is(err, session.ErrNoCards) {
		t.Errorf("Begin() error = %v, want ErrNoCards", err)
	}
}
