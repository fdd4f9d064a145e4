package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordRun appends a finished run. Runs are never updated once written.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.Trigger == "" {
		run.Trigger = "schedule"
	}
	summaries, err := marshalJSON(run.ErrorSummaries)
	if err != nil {
		return fmt.Errorf("encode error summaries: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, job_id, trigger_type, started_at, finished_at, outcome,
			records_written, error_summaries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.JobID,
		run.Trigger,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		string(run.Outcome),
		run.RecordsWritten,
		summaries,
	)
	return err
}

func scanRun(row scanner) (*RunRecord, error) {
	var r RunRecord
	var startedAt, finishedAt, outcome string
	var summaries sql.NullString

	err := row.Scan(
		&r.ID,
		&r.JobID,
		&r.Trigger,
		&startedAt,
		&finishedAt,
		&outcome,
		&r.RecordsWritten,
		&summaries,
	)
	if err != nil {
		return nil, err
	}

	r.Outcome = Outcome(outcome)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := unmarshalJSON(summaries, &r.ErrorSummaries); err != nil {
		return nil, fmt.Errorf("decode error_summaries: %w", err)
	}
	return &r, nil
}

// GetRunHistory returns up to limit runs for a job, most recent first.
// A limit of zero or less returns all runs.
func (s *SQLiteStore) GetRunHistory(ctx context.Context, jobID string, limit int) ([]*RunRecord, error) {
	query := `SELECT id, job_id, trigger_type, started_at, finished_at, outcome,
		records_written, error_summaries FROM runs WHERE job_id = ?
		ORDER BY started_at DESC, id DESC`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
