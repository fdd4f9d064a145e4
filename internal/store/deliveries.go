package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnqueueDelivery inserts a pending delivery.
func (s *SQLiteStore) EnqueueDelivery(ctx context.Context, job *DeliveryJob) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = NewID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.AttemptNumber <= 0 {
		job.AttemptNumber = 1
	}
	if job.Status == "" {
		job.Status = DeliveryPending
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = job.CreatedAt
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, subscription_id, event_type, payload, attempt_number, max_attempts,
			backoff_base, timeout_ms, status, next_attempt_at, last_status_code,
			last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		job.ID,
		job.SubscriptionID,
		job.EventType,
		string(job.Payload),
		job.AttemptNumber,
		job.MaxAttempts,
		job.BackoffBase,
		job.TimeoutMs,
		string(job.Status),
		formatTime(job.NextAttemptAt),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	return err
}

const selectDeliveryCols = `id, subscription_id, event_type, payload, attempt_number, max_attempts,
	backoff_base, timeout_ms, status, next_attempt_at, last_status_code, last_error,
	created_at, updated_at`

func scanDelivery(row scanner) (*DeliveryJob, error) {
	var d DeliveryJob
	var payload, status, nextAttemptAt, createdAt, updatedAt string
	var lastStatus sql.NullInt64
	var lastError sql.NullString

	err := row.Scan(
		&d.ID,
		&d.SubscriptionID,
		&d.EventType,
		&payload,
		&d.AttemptNumber,
		&d.MaxAttempts,
		&d.BackoffBase,
		&d.TimeoutMs,
		&status,
		&nextAttemptAt,
		&lastStatus,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Payload = []byte(payload)
	d.Status = DeliveryStatus(status)
	d.LastStatusCode = int(lastStatus.Int64)
	d.LastError = lastError.String
	if d.NextAttemptAt, err = parseTime(nextAttemptAt); err != nil {
		return nil, fmt.Errorf("parse next_attempt_at: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) queryDeliveries(ctx context.Context, query string, args ...any) ([]*DeliveryJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeliveryJob
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDelivery returns a delivery by id, or nil if it does not exist.
func (s *SQLiteStore) GetDelivery(ctx context.Context, id string) (*DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectDeliveryCols+" FROM deliveries WHERE id = ?", id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDueDeliveries returns pending deliveries whose next attempt is due,
// oldest first.
func (s *SQLiteStore) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*DeliveryJob, error) {
	query := "SELECT " + selectDeliveryCols + " FROM deliveries WHERE status = ? AND next_attempt_at <= ? ORDER BY next_attempt_at, id"
	args := []any{string(DeliveryPending), formatTime(now)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryDeliveries(ctx, query, args...)
}

// ListDeliveries returns deliveries filtered by status, most recent first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, opts ListOpts) ([]*DeliveryJob, error) {
	query := "SELECT " + selectDeliveryCols + " FROM deliveries"
	var args []any
	if opts.Status != "" {
		query += " WHERE status = ?"
		args = append(args, opts.Status)
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return s.queryDeliveries(ctx, query, args...)
}

// UpdateDelivery persists the result of an attempt.
func (s *SQLiteStore) UpdateDelivery(ctx context.Context, upd DeliveryUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliveries SET
			status = ?,
			attempt_number = ?,
			next_attempt_at = ?,
			last_status_code = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?`,
		string(upd.Status),
		upd.AttemptNumber,
		formatTime(upd.NextAttemptAt),
		nullInt64(upd.LastStatusCode),
		nullString(upd.LastError),
		formatTime(time.Now()),
		upd.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
