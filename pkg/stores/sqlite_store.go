package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/mailsync/mailsync/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// defaultListLimit applies when ListRuns is called with a non-positive limit.
const defaultListLimit = 20

// SQLiteStore is a Journal backed by a local SQLite file.
type SQLiteStore struct {
	db          *sqlx.DB
	path        string
	busyTimeout time.Duration
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file. ":memory:" keeps the journal in memory.
	Path string

	// BusyTimeout bounds how long a writer waits for a lock.
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a store. Call Init and Migrate before use, or use
// Open to do all three.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return &SQLiteStore{path: cfg.Path, busyTimeout: cfg.BusyTimeout}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database, creating its directory if needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate&_time_format=sqlite",
		s.path, s.busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared across queries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("opening journal: %w", err)
	}

	if s.path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun stores a run and its per-change results in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *engine.ApplyReport, meta RunMeta) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("recording run: report has no run ID")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run := Run{
		ID:          report.RunID,
		Document:    meta.Document,
		Target:      meta.Target,
		Status:      report.Status,
		DryRun:      report.DryRun,
		Applied:     report.Summary.Applied,
		Failed:      report.Summary.Failed,
		Skipped:     report.Summary.Skipped,
		StartedAt:   report.StartedAt.UTC(),
		CompletedAt: report.CompletedAt.UTC(),
	}

	const insertRun = `
		INSERT INTO runs (
			id, document, target, status, dry_run,
			applied, failed, skipped, started_at, completed_at
		) VALUES (
			:id, :document, :target, :status, :dry_run,
			:applied, :failed, :skipped, :started_at, :completed_at
		)`
	if _, err := tx.NamedExecContext(ctx, insertRun, run); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	const insertResult = `
		INSERT INTO change_results (
			run_id, seq, resource, key, change_type, outcome,
			attempts, error, error_code, duration_ms
		) VALUES (
			:run_id, :seq, :resource, :key, :change_type, :outcome,
			:attempts, :error, :error_code, :duration_ms
		)`
	for i, res := range report.Results {
		rec := newChangeRecord(run.ID, i, res)
		if _, err := tx.NamedExecContext(ctx, insertResult, rec); err != nil {
			return fmt.Errorf("inserting result %d of run %s: %w", i, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without their results.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	runs := []Run{}
	const query = `
		SELECT id, document, target, status, dry_run,
		       applied, failed, skipped, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a run with its results in diff order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	const query = `
		SELECT id, document, target, status, dry_run,
		       applied, failed, skipped, started_at, completed_at
		FROM runs
		WHERE id = ?`
	err := s.db.GetContext(ctx, &run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}

	const results = `
		SELECT run_id, seq, resource, key, change_type, outcome,
		       attempts, error, error_code, duration_ms
		FROM change_results
		WHERE run_id = ?
		ORDER BY seq`
	if err := s.db.SelectContext(ctx, &run.Results, results, id); err != nil {
		return nil, fmt.Errorf("getting results of run %s: %w", id, err)
	}
	return &run, nil
}

func newChangeRecord(runID string, seq int, res engine.ChangeResult) ChangeRecord {
	rec := ChangeRecord{
		RunID:      runID,
		Seq:        seq,
		Resource:   res.Change.Resource,
		Key:        res.Change.Key,
		ChangeType: res.Change.Type,
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
		DurationMS: res.Duration.Milliseconds(),
	}
	switch {
	case res.Error != nil:
		rec.Error = res.Error.Error()
		rec.ErrorCode = res.Error.Code
	case res.SkipReason != "":
		rec.Error = res.SkipReason
	}
	return rec
}
