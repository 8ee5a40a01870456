package trace

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 500

// Store persists trace data to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and prunes old ones.
func (s *Store) CreateSession(ctx context.Context, id, identity string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, identity, started_at) VALUES ($1, $2, $3)`,
		id, identity, startedAt.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	return err
}

// EndSession records when and why the session ended.
func (s *Store) EndSession(ctx context.Context, id, reason string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1, end_reason = $2 WHERE id = $3`,
		endedAt.UTC(), reason, id,
	)
	return err
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, started_at, audio_bytes, outcome) VALUES ($1, $2, $3, $4, 'running')`,
		r.ID, r.SessionID, r.StartedAt.UTC(), r.AudioBytes,
	)
	return err
}

// FinishRun sets the run's duration and outcome.
func (s *Store) FinishRun(ctx context.Context, id string, durationMs float64, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET duration_ms = $1, outcome = $2 WHERE id = $3`,
		durationMs, outcome, id,
	)
	return err
}

// CreateSpan inserts a span.
func (s *Store) CreateSpan(ctx context.Context, sp Span) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spans (id, run_id, name, started_at, duration_ms, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sp.ID, sp.RunID, sp.Name, sp.StartedAt.UTC(), sp.DurationMs, sp.Status, sp.Error,
	)
	return err
}

// ErrNotFound is returned by the lookups when no row matches.
var ErrNotFound = errors.New("trace: not found")

// ListSessions returns one page of sessions, newest first, with run counts,
// plus the total number of sessions kept.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	sessions, err := collect(ctx, s.db, scanSession, `
		SELECT s.id, s.identity, s.started_at, s.ended_at, s.end_reason,
		       (SELECT COUNT(*) FROM runs r WHERE r.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	return sessions, total, err
}

// GetSession returns a session and its runs in start order.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Run, error) {
	sessions, err := collect(ctx, s.db, scanSession, `
		SELECT id, identity, started_at, ended_at, end_reason,
		       (SELECT COUNT(*) FROM runs WHERE session_id = $1)
		FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, nil, err
	}
	if len(sessions) == 0 {
		return nil, nil, ErrNotFound
	}
	runs, err := collect(ctx, s.db, scanRun, `
		SELECT r.id, r.session_id, r.started_at, r.audio_bytes, r.duration_ms, r.outcome,
		       (SELECT COUNT(*) FROM spans sp WHERE sp.run_id = r.id)
		FROM runs r
		WHERE r.session_id = $1
		ORDER BY r.started_at`, id)
	return &sessions[0], runs, err
}

// GetRun returns one run of a session and its spans in start order.
func (s *Store) GetRun(ctx context.Context, sessionID, runID string) (*Run, []Span, error) {
	runs, err := collect(ctx, s.db, scanRun, `
		SELECT id, session_id, started_at, audio_bytes, duration_ms, outcome,
		       (SELECT COUNT(*) FROM spans WHERE run_id = $1)
		FROM runs WHERE id = $1 AND session_id = $2`, runID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if len(runs) == 0 {
		return nil, nil, ErrNotFound
	}
	spans, err := collect(ctx, s.db, scanSpan, `
		SELECT id, run_id, name, started_at, duration_ms, status, error_msg
		FROM spans WHERE run_id = $1
		ORDER BY started_at`, runID)
	return &runs[0], spans, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// collect runs query and maps every row through scan.
func collect[T any](ctx context.Context, db *sql.DB, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.Identity, &sess.StartedAt, &endedAt, &sess.EndReason, &sess.RunCount)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return sess, err
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.SessionID, &r.StartedAt, &r.AudioBytes, &r.DurationMs, &r.Outcome, &r.SpanCount)
	return r, err
}

func scanSpan(row rowScanner) (Span, error) {
	var sp Span
	err := row.Scan(&sp.ID, &sp.RunID, &sp.Name, &sp.StartedAt, &sp.DurationMs, &sp.Status, &sp.Error)
	return sp, err
}
