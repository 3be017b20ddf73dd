// Package journal records runs and their batch outcomes in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunStatus is the final state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// BatchStatus is the outcome of one batch.
type BatchStatus string

// Batch statuses.
const (
	BatchStatusSuccess BatchStatus = "success"
	BatchStatusFailed  BatchStatus = "failed"
)

// Run is one recorded run.
type Run struct {
	ID         string
	Provider   string
	Script     string
	Mode       string
	Status     RunStatus
	ExitClass  core.ExitClass
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// Batch is one recorded batch outcome.
type Batch struct {
	RunID      string
	Number     int
	File       string
	Line       int
	Status     BatchStatus
	Error      string
	Duration   time.Duration
	ExecutedAt time.Time
}

// Journal is an open journal database.
type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations. Use ":memory:" for a throwaway journal.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// a second connection would see a different in-memory database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logger}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("journal opened", slog.String("path", path))
	return j, nil
}

func (j *Journal) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(j.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the applied migration version.
func (j *Journal) Version() (int64, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersion(j.db)
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// StartRun records a new running run.
func (j *Journal) StartRun(ctx context.Context, provider, script, mode string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Provider:  provider,
		Script:    script,
		Mode:      mode,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	j.logger.Debug("starting run", slog.String("id", run.ID), slog.String("script", script))

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, provider, script, mode, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Provider, run.Script, run.Mode, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// RecordBatch stores the outcome of one batch.
func (j *Journal) RecordBatch(ctx context.Context, b Batch) error {
	if b.ExecutedAt.IsZero() {
		b.ExecutedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_batches (run_id, number, file, line, status, error, duration_ms, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RunID, b.Number, b.File, b.Line, string(b.Status), b.Error, b.Duration.Milliseconds(), b.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record batch %d: %w", b.Number, err)
	}
	return nil
}

// FinishRun stores the final classification of a run.
func (j *Journal) FinishRun(ctx context.Context, id string, class core.ExitClass, cancelled bool, errText string) error {
	status := RunStatusSucceeded
	switch {
	case cancelled:
		status = RunStatusCancelled
	case class != core.ExitSuccess:
		status = RunStatusFailed
	}

	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exit_class = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(status), int(class), time.Now().UTC(), errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}
