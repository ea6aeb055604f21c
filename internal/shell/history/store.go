// Package history persists a queryable record of provisioning runs and
// lifecycle transitions in SQLite. Persistence failures here are advisory:
// callers log them and carry on, the in-memory operation is never aborted
// because the history file could not be written.
package history

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Phase event statuses.
const (
	PhaseStarted   = "started"
	PhaseSucceeded = "succeeded"
	PhaseFailed    = "failed"
)

// =============================================================================
// Records
// =============================================================================

// Run is one provisioning run.
type Run struct {
	RunID      string  `db:"run_id" json:"run_id"`
	TargetDir  string  `db:"target_dir" json:"target_dir"`
	Success    *bool   `db:"success" json:"success,omitempty"`
	Message    string  `db:"message" json:"message,omitempty"`
	StartedAt  string  `db:"started_at" json:"started_at"`
	FinishedAt *string `db:"finished_at" json:"finished_at,omitempty"`
}

// PhaseEvent is one phase outcome inside a run.
type PhaseEvent struct {
	RunID     string `db:"run_id" json:"run_id"`
	Phase     string `db:"phase" json:"phase"`
	Status    string `db:"status" json:"status"`
	Message   string `db:"message" json:"message,omitempty"`
	Timestamp string `db:"timestamp" json:"timestamp"`
}

// LifecycleEvent is one recorded state transition.
type LifecycleEvent struct {
	FromState string `db:"from_state" json:"from_state"`
	ToState   string `db:"to_state" json:"to_state"`
	Event     string `db:"event" json:"event"`
	Message   string `db:"message" json:"message,omitempty"`
	Timestamp string `db:"timestamp" json:"timestamp"`
}

// =============================================================================
// Store
// =============================================================================

// Store is the SQLite-backed history store.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database and runs migrations.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{NoTxWrap: true})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// Provisioning Runs
// =============================================================================

// RecordRunStart inserts a new provisioning run.
func (s *Store) RecordRunStart(ctx context.Context, runID, targetDir string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provisioning_runs (run_id, target_dir, started_at) VALUES (?, ?, ?)`,
		runID, targetDir, now())
	return err
}

// RecordPhase inserts a phase event for a run.
func (s *Store) RecordPhase(ctx context.Context, runID, phase, status, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_events (run_id, phase, status, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		runID, phase, status, message, now())
	return err
}

// RecordRunFinish marks a run complete.
func (s *Store) RecordRunFinish(ctx context.Context, runID string, success bool, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_runs SET success = ?, message = ?, finished_at = ? WHERE run_id = ?`,
		boolToInt(success), message, now(), runID)
	return err
}

// ListRuns returns the most recent provisioning runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		`SELECT run_id, target_dir, success, message, started_at, finished_at
		 FROM provisioning_runs ORDER BY id DESC LIMIT ?`, limit)
	return runs, err
}

// ListPhaseEvents returns the phase events of one run in order.
func (s *Store) ListPhaseEvents(ctx context.Context, runID string) ([]PhaseEvent, error) {
	var events []PhaseEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT run_id, phase, status, message, timestamp
		 FROM phase_events WHERE run_id = ? ORDER BY id ASC`, runID)
	return events, err
}

// =============================================================================
// Lifecycle Events
// =============================================================================

// RecordTransition inserts a lifecycle state transition.
func (s *Store) RecordTransition(ctx context.Context, from, to, event, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (from_state, to_state, event, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		from, to, event, message, now())
	return err
}

// ListTransitions returns the most recent lifecycle transitions, newest first.
func (s *Store) ListTransitions(ctx context.Context, limit int) ([]LifecycleEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var events []LifecycleEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT from_state, to_state, event, message, timestamp
		 FROM lifecycle_events ORDER BY id DESC LIMIT ?`, limit)
	return events, err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
