package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sweep run statuses.
const (
	SweepRunning     = "running"
	SweepCompleted   = "completed"
	SweepInterrupted = "interrupted"
)

// SweepRun is the persisted record of one batch evaluation.
// EvaluatedAt is the single instant every item in the run is scored at;
// a resumed run keeps it so the result matches an uninterrupted one.
type SweepRun struct {
	ID           string
	EvaluatedAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	Checkpoint   string // last item id fully processed
	Evaluated    int
	Transitioned int
	Failed       int
}

// CreateSweepRun records the start of a sweep.
func (db *DB) CreateSweepRun(ctx context.Context, id string, evaluatedAt time.Time) (*SweepRun, error) {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, evaluated_at, started_at, status)
		VALUES (?, ?, ?, ?)
	`, id, millis(evaluatedAt), millis(now), SweepRunning)
	if err != nil {
		return nil, fmt.Errorf("create sweep run: %w", err)
	}
	return &SweepRun{
		ID:          id,
		EvaluatedAt: fromMillis(millis(evaluatedAt)),
		StartedAt:   fromMillis(millis(now)),
		Status:      SweepRunning,
	}, nil
}

// CheckpointSweepRun stores progress after a page has been processed.
func (db *DB) CheckpointSweepRun(ctx context.Context, run *SweepRun) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sweep_runs SET checkpoint = ?, evaluated = ?, transitioned = ?, failed = ?
		WHERE id = ?
	`, run.Checkpoint, run.Evaluated, run.Transitioned, run.Failed, run.ID)
	if err != nil {
		return fmt.Errorf("checkpoint sweep run: %w", err)
	}
	return nil
}

// FinishSweepRun records the final counters and status of a run.
func (db *DB) FinishSweepRun(ctx context.Context, run *SweepRun, status string) error {
	run.Status = status
	run.FinishedAt = fromMillis(time.Now().UnixMilli())
	_, err := db.ExecContext(ctx, `
		UPDATE sweep_runs SET status = ?, finished_at = ?, checkpoint = ?,
			evaluated = ?, transitioned = ?, failed = ?
		WHERE id = ?
	`, status, millis(run.FinishedAt), run.Checkpoint,
		run.Evaluated, run.Transitioned, run.Failed, run.ID)
	if err != nil {
		return fmt.Errorf("finish sweep run: %w", err)
	}
	return nil
}

// ReopenSweepRun marks an interrupted run as running again.
func (db *DB) ReopenSweepRun(ctx context.Context, run *SweepRun) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sweep_runs SET status = ?, finished_at = NULL WHERE id = ?
	`, SweepRunning, run.ID)
	if err != nil {
		return fmt.Errorf("reopen sweep run: %w", err)
	}
	run.Status = SweepRunning
	run.FinishedAt = time.Time{}
	return nil
}

const sweepColumns = `id, evaluated_at, started_at, finished_at, status, checkpoint, evaluated, transitioned, failed`

// GetSweepRun returns a run by id, or nil if not found.
func (db *DB) GetSweepRun(ctx context.Context, id string) (*SweepRun, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweep_runs WHERE id = ?`, id)
	run, err := scanSweepRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sweep run: %w", err)
	}
	return run, nil
}

// ListSweepRuns returns the most recent runs, newest first.
func (db *DB) ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sweepColumns+` FROM sweep_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		run, err := scanSweepRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sweep run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanSweepRun(row rowScanner) (*SweepRun, error) {
	var run SweepRun
	var evaluatedAt, startedAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(&run.ID, &evaluatedAt, &startedAt, &finishedAt, &run.Status,
		&run.Checkpoint, &run.Evaluated, &run.Transitioned, &run.Failed); err != nil {
		return nil, err
	}
	run.EvaluatedAt = fromMillis(evaluatedAt)
	run.StartedAt = fromMillis(startedAt)
	run.FinishedAt = fromNullMillis(finishedAt)
	return &run, nil
}
