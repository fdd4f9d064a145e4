package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkPeriod records the status of a connector period, replacing any
// previous status.
func (s *SQLiteStore) MarkPeriod(ctx context.Context, p *BackfillProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backfill_progress (connector_id, period, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(connector_id, period) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		p.ConnectorID, p.Period, string(p.Status), nullString(p.Error), formatTime(p.UpdatedAt))
	return err
}

// PeriodStatus returns the recorded status, or PeriodPending when the period
// has never been attempted.
func (s *SQLiteStore) PeriodStatus(ctx context.Context, connectorID, period string) (PeriodStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM backfill_progress WHERE connector_id = ? AND period = ?",
		connectorID, period).Scan(&status)
	if err == sql.ErrNoRows {
		return PeriodPending, nil
	}
	if err != nil {
		return "", err
	}
	return PeriodStatus(status), nil
}

// IsPeriodIngested reports whether the period is marked done.
func (s *SQLiteStore) IsPeriodIngested(ctx context.Context, connectorID, period string) (bool, error) {
	status, err := s.PeriodStatus(ctx, connectorID, period)
	if err != nil {
		return false, err
	}
	return status == PeriodDone, nil
}

// ListProgress returns all recorded periods for a connector ordered by period.
func (s *SQLiteStore) ListProgress(ctx context.Context, connectorID string) ([]*BackfillProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connector_id, period, status, error, updated_at
		FROM backfill_progress WHERE connector_id = ? ORDER BY period`, connectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BackfillProgress
	for rows.Next() {
		var p BackfillProgress
		var status, updatedAt string
		var errMsg sql.NullString
		if err := rows.Scan(&p.ConnectorID, &p.Period, &status, &errMsg, &updatedAt); err != nil {
			return nil, err
		}
		p.Status = PeriodStatus(status)
		p.Error = errMsg.String
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
