package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

const runColumns = `id, provider, script, mode, status, exit_class, started_at, finished_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		status     string
		class      int
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Provider, &run.Script, &run.Mode, &status, &class,
		&run.StartedAt, &finishedAt, &run.Error); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.ExitClass = core.ExitClass(class)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Batches returns the recorded batches of a run in order.
func (j *Journal) Batches(ctx context.Context, runID string) ([]Batch, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, number, file, line, status, error, duration_ms, executed_at
		 FROM run_batches WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var (
			b      Batch
			status string
			ms     int64
		)
		if err := rows.Scan(&b.RunID, &b.Number, &b.File, &b.Line, &status, &b.Error, &ms, &b.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Status = BatchStatus(status)
		b.Duration = time.Duration(ms) * time.Millisecond
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
