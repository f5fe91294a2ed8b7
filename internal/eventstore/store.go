package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps so that text comparison orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run summarizes one pipeline run.
type Run struct {
	RunID      string    `json:"run_id"`
	Scope      string    `json:"scope"`
	Chunks     int       `json:"chunks"`
	Missing    int       `json:"missing"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Event is one recorded chunk state transition.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	ChunkID   string    `json:"chunk_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed timeline of runs and chunk transitions.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Transitions arrive from both stage workers at once.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    chunk_count INTEGER NOT NULL,
    missing_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    finished_at TEXT
);
CREATE TABLE IF NOT EXISTS chunk_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    chunk_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunk_events_run ON chunk_events(run_id, id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

func (s *Store) now() string {
	return s.clock().UTC().Format(timeLayout)
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, runID, scope string, chunks int) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, scope, chunk_count, status, created_at)
		 VALUES(?, ?, ?, 'running', ?)
		 ON CONFLICT(run_id) DO UPDATE SET scope=excluded.scope, chunk_count=excluded.chunk_count`,
		runID, scope, chunks, s.now())
	return err
}

// RecordTransition appends a chunk state change to the run's timeline.
func (s *Store) RecordTransition(ctx context.Context, runID, chunkID, from, to, detail string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_events(run_id, chunk_id, from_state, to_state, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		runID, chunkID, from, to, detail, s.now())
	return err
}

// FinishRun stores the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, missing int) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, missing_count = ?, finished_at = ? WHERE run_id = ?`,
		status, missing, s.now(), runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish unknown run %s", runID)
	}
	return nil
}

// GetRun loads one run summary.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if s.disabled() {
		return Run{}, sql.ErrNoRows
	}
	var (
		r        Run
		created  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, scope, chunk_count, missing_count, status, created_at, finished_at
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Scope, &r.Chunks, &r.Missing, &r.Status, &created, &finished)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt = parseTime(created)
	if finished.Valid {
		r.FinishedAt = parseTime(finished.String)
	}
	return r, nil
}

// ListRunEvents retrieves up to limit transitions for a run in the order they
// were recorded.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, chunk_id, from_state, to_state, detail, created_at
		 FROM chunk_events WHERE run_id = ? ORDER BY id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			detail  sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.ChunkID, &e.From, &e.To, &detail, &created); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().Format(timeLayout)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}
