package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobRun is the persisted state of a periodic job. It lets the scheduler
// catch up on runs missed while the process was down.
type JobRun struct {
	Name      string
	Schedule  string
	Runs      int64
	LastError string
	LastRun   time.Time
	NextRun   time.Time
}

// SaveJobRun inserts or updates the state of a job.
func (s *SQLiteStorage) SaveJobRun(ctx context.Context, run *JobRun) error {
	if run == nil || run.Name == "" {
		return fmt.Errorf("%w: job name cannot be empty", ErrInvalidInput)
	}
	if run.NextRun.IsZero() {
		return fmt.Errorf("%w: next run cannot be zero", ErrInvalidInput)
	}

	var lastRun sql.NullInt64
	if !run.LastRun.IsZero() {
		lastRun = sql.NullInt64{Int64: run.LastRun.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (name, schedule, runs, last_error, last_run, next_run, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schedule = excluded.schedule,
			runs = excluded.runs,
			last_error = excluded.last_error,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			updated_at = excluded.updated_at`,
		run.Name, run.Schedule, run.Runs, run.LastError, lastRun,
		run.NextRun.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the persisted state of every job, ordered by name.
func (s *SQLiteStorage) ListJobRuns(ctx context.Context) ([]*JobRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, schedule, runs, last_error, last_run, next_run
		FROM job_runs
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	runs := []*JobRun{}
	for rows.Next() {
		var run JobRun
		var lastRun sql.NullInt64
		var nextRun int64
		if err := rows.Scan(&run.Name, &run.Schedule, &run.Runs, &run.LastError, &lastRun, &nextRun); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		if lastRun.Valid {
			run.LastRun = time.UnixMilli(lastRun.Int64).UTC()
		}
		run.NextRun = time.UnixMilli(nextRun).UTC()
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}
	return runs, nil
}
