package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remedialab/lectura/internal/session"
	"github.com/remedialab/lectura/pkg/types"
)

// Compile-time interface check.
var _ session.Store = (*Store)(nil)

// Store is the PostgreSQL-backed session store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSlides implements [session.Store]. All slides are written in one
// transaction; a re-saved card index replaces the previous row.
func (s *Store) SaveSlides(ctx context.Context, studentID string, slides []types.SlideScore, teacherFeedback string) error {
	const q = `
		INSERT INTO session_slides (student_id, card_index, sentence, scores, feedback)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, card_index) DO UPDATE SET
		    sentence    = EXCLUDED.sentence,
		    scores      = EXCLUDED.scores,
		    feedback    = EXCLUDED.feedback,
		    recorded_at = now()`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, slide := range slides {
		payload, err := json.Marshal(slide)
		if err != nil {
			return fmt.Errorf("session store: encode slide %d: %w", slide.CardIndex, err)
		}
		if _, err := tx.Exec(ctx, q, studentID, slide.CardIndex, slide.Sentence, payload, teacherFeedback); err != nil {
			return fmt.Errorf("session store: save slide %d: %w", slide.CardIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: commit: %w", err)
	}
	return nil
}

// SavePerformance implements [session.Store].
func (s *Store) SavePerformance(ctx context.Context, entry session.PerformanceEntry) error {
	const q = `
		INSERT INTO performance (student_id, subject, activity, average_score, card_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		entry.StudentID,
		entry.Subject,
		entry.Activity,
		entry.AverageScore,
		entry.CardCount,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: save performance: %w", err)
	}
	return nil
}

// FetchStatus implements [session.Store]. Students with no lock row and no
// slides appear with both flags false.
func (s *Store) FetchStatus(ctx context.Context, subject, activity string, studentIDs []string) ([]types.SessionStatus, error) {
	const q = `
		SELECT sid,
		       COALESCE((l.state->>'completed')::bool, false)      AS completed,
		       EXISTS (SELECT 1 FROM session_slides ss WHERE ss.student_id = sid) AS has_progress
		FROM   unnest($1::text[]) AS sid
		LEFT   JOIN session_locks l
		       ON l.subject = $2 AND l.activity = $3 AND l.student_id = sid`

	rows, err := s.pool.Query(ctx, q, studentIDs, subject, activity)
	if err != nil {
		return nil, fmt.Errorf("session store: fetch status: %w", err)
	}
	defer rows.Close()

	var out []types.SessionStatus
	for rows.Next() {
		var st types.SessionStatus
		if err := rows.Scan(&st.StudentID, &st.Completed, &st.HasProgress); err != nil {
			return nil, fmt.Errorf("session store: scan status: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session store: status rows: %w", err)
	}
	return out, nil
}

// FetchLock implements [session.Store]. A stored payload that fails to
// decode is treated as absent state, not an error.
func (s *Store) FetchLock(ctx context.Context, key types.SessionKey) (*types.SessionLockState, error) {
	const q = `
		SELECT state
		FROM   session_locks
		WHERE  subject = $1 AND activity = $2 AND student_id = $3`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, key.Subject, key.Activity, key.StudentID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: fetch lock: %w", err)
	}
	return decodeLock(raw), nil
}

// UpsertLock implements [session.Store]. The row is merged monotonically
// under a row lock: LastIndex never decreases and Completed never reverts.
func (s *Store) UpsertLock(ctx context.Context, key types.SessionKey, state types.SessionLockState) error {
	const sel = `
		SELECT state
		FROM   session_locks
		WHERE  subject = $1 AND activity = $2 AND student_id = $3
		FOR    UPDATE`
	const upsert = `
		INSERT INTO session_locks (subject, activity, student_id, state, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject, activity, student_id) DO UPDATE SET
		    state      = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, sel, key.Subject, key.Activity, key.StudentID).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session store: lock row: %w", err)
	}

	merged := mergeLock(decodeLock(raw), state)
	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("session store: encode lock: %w", err)
	}

	if _, err := tx.Exec(ctx, upsert, key.Subject, key.Activity, key.StudentID, payload, merged.UpdatedAt); err != nil {
		return fmt.Errorf("session store: upsert lock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: commit: %w", err)
	}
	return nil
}

// decodeLock parses a stored lock payload leniently: nil, empty, and
// malformed payloads all read as absent state.
func decodeLock(raw []byte) *types.SessionLockState {
	if len(raw) == 0 {
		return nil
	}
	var state types.SessionLockState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil
	}
	return &state
}

// mergeLock applies the monotonicity rules: LastIndex only increases,
// Completed only becomes true.
func mergeLock(prev *types.SessionLockState, next types.SessionLockState) types.SessionLockState {
	if prev == nil {
		return next
	}
	merged := next
	if prev.LastIndex > merged.LastIndex {
		merged.LastIndex = prev.LastIndex
	}
	merged.Completed = prev.Completed || next.Completed
	return merged
}
