// Package postgres provides a PostgreSQL-backed implementation of
// [session.Store].
//
// Three tables back the session model: session_slides holds per-card scores,
// performance holds session-level outcomes, and session_locks holds the
// completion markers keyed by (subject, activity, student). The lock payload
// is stored as JSONB; a payload that fails to decode is treated as absent
// state rather than an error, so a schema change never strands a student.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSlides = `
CREATE TABLE IF NOT EXISTS session_slides (
    student_id   TEXT         NOT NULL,
    card_index   INT          NOT NULL,
    sentence     TEXT         NOT NULL,
    scores       JSONB        NOT NULL DEFAULT '{}',
    feedback     TEXT         NOT NULL DEFAULT '',
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (student_id, card_index)
);

CREATE INDEX IF NOT EXISTS idx_session_slides_student
    ON session_slides (student_id);
`

const ddlPerformance = `
CREATE TABLE IF NOT EXISTS performance (
    id            BIGSERIAL    PRIMARY KEY,
    student_id    TEXT         NOT NULL,
    subject       TEXT         NOT NULL,
    activity      TEXT         NOT NULL,
    average_score INT          NOT NULL,
    card_count    INT          NOT NULL,
    recorded_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_performance_student
    ON performance (student_id);

CREATE INDEX IF NOT EXISTS idx_performance_activity
    ON performance (subject, activity);
`

const ddlLocks = `
CREATE TABLE IF NOT EXISTS session_locks (
    subject     TEXT         NOT NULL,
    activity    TEXT         NOT NULL,
    student_id  TEXT         NOT NULL,
    state       JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (subject, activity, student_id)
);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSlides,
		ddlPerformance,
		ddlLocks,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
