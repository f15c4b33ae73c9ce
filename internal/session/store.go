package session

import (
	"context"
	"time"

	"github.com/remedialab/lectura/pkg/types"
)

// PerformanceEntry is one student's overall outcome for a finished session,
// recorded alongside the per-card slides for reporting.
type PerformanceEntry struct {
	StudentID    string    `json:"studentId"`
	Subject      string    `json:"subject"`
	Activity     string    `json:"activity"`
	AverageScore int       `json:"averageScore"`
	CardCount    int       `json:"cardCount"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Store is the persistence sink for session outcomes and locks.
//
// Implementations must treat malformed persisted lock state as absent state:
// FetchLock returns (nil, nil) rather than an error when the stored payload
// cannot be decoded.
type Store interface {
	// SaveSlides persists all accumulated per-card scores for a student,
	// together with optional free-text teacher feedback.
	SaveSlides(ctx context.Context, studentID string, slides []types.SlideScore, teacherFeedback string) error

	// SavePerformance records the session-level outcome.
	SavePerformance(ctx context.Context, entry PerformanceEntry) error

	// FetchStatus reports each student's standing for the given subject and
	// activity. Students with no recorded state appear with both flags false.
	FetchStatus(ctx context.Context, subject, activity string, studentIDs []string) ([]types.SessionStatus, error)

	// FetchLock returns the persisted lock for key, or nil when no usable
	// lock exists.
	FetchLock(ctx context.Context, key types.SessionKey) (*types.SessionLockState, error)

	// UpsertLock writes the lock state for key. The write is monotone:
	// LastIndex never decreases and Completed never reverts to false,
	// regardless of the values passed in.
	UpsertLock(ctx context.Context, key types.SessionKey, state types.SessionLockState) error
}
