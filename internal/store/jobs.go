package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncJob inserts a job definition or updates an existing one. Scheduling
// state (next_due_at, last_run_at) and the admin enabled flag of an existing
// row are preserved.
func (s *SQLiteStore) SyncJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	if job.NextDueAt.IsZero() {
		job.NextDueAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, kind, connector_id, interval_seconds, schedule, granularity,
			lookback_periods, validate, enabled, next_due_at, last_run_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			connector_id = excluded.connector_id,
			interval_seconds = excluded.interval_seconds,
			schedule = excluded.schedule,
			granularity = excluded.granularity,
			lookback_periods = excluded.lookback_periods,
			validate = excluded.validate,
			updated_at = excluded.updated_at`,
		job.ID,
		string(job.Kind),
		job.ConnectorID,
		job.IntervalSeconds,
		nullString(job.Schedule),
		nullString(job.Granularity),
		job.LookbackPeriods,
		boolInt(job.Validate),
		boolInt(job.Enabled),
		formatTime(job.NextDueAt),
		formatTime(now),
		formatTime(now),
	)
	return err
}

const selectJobCols = `id, kind, connector_id, interval_seconds, schedule, granularity,
	lookback_periods, validate, enabled, next_due_at, last_run_at, created_at, updated_at`

func scanJob(row scanner) (*Job, error) {
	var j Job
	var kind, nextDueAt, createdAt, updatedAt string
	var schedule, granularity, lastRunAt sql.NullString
	var validate, enabled int

	err := row.Scan(
		&j.ID,
		&kind,
		&j.ConnectorID,
		&j.IntervalSeconds,
		&schedule,
		&granularity,
		&j.LookbackPeriods,
		&validate,
		&enabled,
		&nextDueAt,
		&lastRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = JobKind(kind)
	j.Schedule = schedule.String
	j.Granularity = granularity.String
	j.Validate = validate != 0
	j.Enabled = enabled != 0

	if j.NextDueAt, err = parseTime(nextDueAt); err != nil {
		return nil, fmt.Errorf("parse next_due_at: %w", err)
	}
	if j.LastRunAt, err = parseTimePtr(lastRunAt); err != nil {
		return nil, fmt.Errorf("parse last_run_at: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &j, nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJob returns the job with the given id, or nil if it does not exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectJobCols+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs returns all jobs ordered by id.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, "SELECT "+selectJobCols+" FROM jobs ORDER BY id")
}

// ListDueJobs returns enabled jobs whose next_due_at is at or before now.
func (s *SQLiteStore) ListDueJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.queryJobs(ctx,
		"SELECT "+selectJobCols+" FROM jobs WHERE enabled = 1 AND next_due_at <= ? ORDER BY next_due_at, id",
		formatTime(now))
}

// SetJobEnabled toggles a job. Returns ErrNotFound for an unknown id.
func (s *SQLiteStore) SetJobEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET enabled = ?, updated_at = ? WHERE id = ?",
		boolInt(enabled), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// AdvanceJob records a completed run and moves next_due_at forward.
func (s *SQLiteStore) AdvanceJob(ctx context.Context, id string, lastRunAt, nextDueAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET last_run_at = ?, next_due_at = ?, updated_at = ? WHERE id = ?",
		formatTime(lastRunAt), formatTime(nextDueAt), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
