package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const selectAlertCols = `id, rule_id, series_key, first_triggered_at, last_triggered_at,
	last_notified_at, last_value, acknowledged, closed_at`

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var first, last, notified string
	var acknowledged int
	var closedAt sql.NullString

	if err := row.Scan(&a.ID, &a.RuleID, &a.SeriesKey, &first, &last, &notified, &a.LastValue, &acknowledged, &closedAt); err != nil {
		return nil, err
	}

	var err error
	if a.FirstTriggeredAt, err = parseTime(first); err != nil {
		return nil, fmt.Errorf("parse first_triggered_at: %w", err)
	}
	if a.LastTriggeredAt, err = parseTime(last); err != nil {
		return nil, fmt.Errorf("parse last_triggered_at: %w", err)
	}
	if a.LastNotifiedAt, err = parseTime(notified); err != nil {
		return nil, fmt.Errorf("parse last_notified_at: %w", err)
	}
	if a.ClosedAt, err = parseTimePtr(closedAt); err != nil {
		return nil, fmt.Errorf("parse closed_at: %w", err)
	}
	a.Acknowledged = acknowledged != 0
	return &a, nil
}

// GetOpenAlert returns the open alert for a rule, or nil if none is open.
func (s *SQLiteStore) GetOpenAlert(ctx context.Context, ruleID string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectAlertCols+" FROM alerts WHERE rule_id = ? AND closed_at IS NULL ORDER BY first_triggered_at DESC LIMIT 1",
		ruleID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetAlert returns an alert by id, or nil if it does not exist.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectAlertCols+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// InsertAlert opens a new alert.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, rule_id, series_key, first_triggered_at, last_triggered_at,
			last_notified_at, last_value, acknowledged, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.RuleID,
		a.SeriesKey,
		formatTime(a.FirstTriggeredAt),
		formatTime(a.LastTriggeredAt),
		formatTime(a.LastNotifiedAt),
		a.LastValue,
		boolInt(a.Acknowledged),
		formatTimePtr(a.ClosedAt),
	)
	return err
}

// UpdateAlert rewrites the trigger bookkeeping of an open alert.
func (s *SQLiteStore) UpdateAlert(ctx context.Context, a *Alert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			last_triggered_at = ?,
			last_notified_at = ?,
			last_value = ?
		WHERE id = ?`,
		formatTime(a.LastTriggeredAt),
		formatTime(a.LastNotifiedAt),
		a.LastValue,
		a.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// CloseAlert sets closed_at on an open alert.
func (s *SQLiteStore) CloseAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET closed_at = ? WHERE id = ? AND closed_at IS NULL",
		formatTime(at), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// AcknowledgeAlert marks an open alert acknowledged and closes it.
func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged = 1, closed_at = ? WHERE id = ? AND closed_at IS NULL",
		formatTime(at), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListAlerts returns alerts most recently triggered first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, openOnly bool, limit int) ([]*Alert, error) {
	query := "SELECT " + selectAlertCols + " FROM alerts"
	var args []any
	if openOnly {
		query += " WHERE closed_at IS NULL"
	}
	query += " ORDER BY last_triggered_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
