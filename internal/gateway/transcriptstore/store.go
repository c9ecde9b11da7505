// Package transcriptstore persists final recognition results to PostgreSQL.
//
// The gateway appends one row per final transcript; interim results are never
// stored. [EnsureSchema] is idempotent and safe to run on every start.
//
// Usage:
//
//	store, err := transcriptstore.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, transcript)
package transcriptstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON transcripts (session_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at);
`

// Entry is one stored final transcript.
type Entry struct {
	ID         int64
	SessionID  string
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// Store is a PostgreSQL-backed log of final transcripts. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, verifies the connection,
// and runs [EnsureSchema].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// EnsureSchema creates the transcripts table and its indexes if they do not
// exist. It is idempotent and safe to call on every application start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcript store: ensure schema: %w", err)
	}
	return nil
}

// Append stores one final transcript. Interim transcripts are rejected so a
// miswired caller cannot flood the table with superseded results.
func (s *Store) Append(ctx context.Context, t voxtypes.Transcript) error {
	if !t.IsFinal {
		return fmt.Errorf("transcript store: append: transcript for session %s is not final", t.SessionID)
	}

	const q = `
		INSERT INTO transcripts (session_id, text, confidence)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, t.SessionID, t.Text, t.Confidence); err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent transcripts for sessionID, newest first.
// A limit of 0 or less applies no cap.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	q := `
		SELECT id, session_id, text, confidence, created_at
		FROM   transcripts
		WHERE  session_id = $1
		ORDER  BY created_at DESC, id DESC`

	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Ping verifies database connectivity. Used by the gateway's readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		if err := row.Scan(&e.ID, &e.SessionID, &e.Text, &e.Confidence, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
