// Package postgres implements the series and progress stores using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

var (
	_ store.SeriesStore   = (*Store)(nil)
	_ store.ProgressStore = (*Store)(nil)
)

// Store is a PostgreSQL-backed SeriesStore and ProgressStore.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL through the pgx driver and runs migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const upsertSQL = `
	INSERT INTO series (series_key, period, value, unit, source, metadata, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (series_key, period) DO UPDATE SET
		value = EXCLUDED.value,
		unit = EXCLUDED.unit,
		source = EXCLUDED.source,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// Upsert writes one point, merging on (series_key, period).
func (s *Store) Upsert(ctx context.Context, p store.SeriesPoint) error {
	return s.UpsertBatch(ctx, []store.SeriesPoint{p})
}

// UpsertBatch writes all points in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, points []store.SeriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		meta, err := encodeMetadata(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.SeriesKey, err)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL,
			p.SeriesKey, p.Period.UTC(), p.Value, nullString(p.Unit), nullString(p.Source), meta,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", p.SeriesKey, err)
		}
	}
	return tx.Commit()
}

// Latest returns the newest point for a series, or nil.
func (s *Store) Latest(ctx context.Context, seriesKey string) (*store.SeriesPoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT series_key, period, value, unit, source, metadata, updated_at
		FROM series WHERE series_key = $1 ORDER BY period DESC LIMIT 1`, seriesKey)
	return scanPoint(row)
}

// LatestAsOf returns the newest point with period <= asOf, or nil.
func (s *Store) LatestAsOf(ctx context.Context, seriesKey string, asOf time.Time) (*store.SeriesPoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT series_key, period, value, unit, source, metadata, updated_at
		FROM series WHERE series_key = $1 AND period <= $2 ORDER BY period DESC LIMIT 1`,
		seriesKey, asOf.UTC())
	return scanPoint(row)
}

func scanPoint(row *sql.Row) (*store.SeriesPoint, error) {
	var p store.SeriesPoint
	var unit, source sql.NullString
	var meta []byte
	err := row.Scan(&p.SeriesKey, &p.Period, &p.Value, &unit, &source, &meta, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Unit = unit.String
	p.Source = source.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &p, nil
}

// MarkPeriod records the status of a connector period.
func (s *Store) MarkPeriod(ctx context.Context, p *store.BackfillProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backfill_progress (connector_id, period, status, error, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connector_id, period) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		p.ConnectorID, p.Period, string(p.Status), nullString(p.Error), p.UpdatedAt)
	return err
}

// PeriodStatus returns the recorded status, or pending when none exists.
func (s *Store) PeriodStatus(ctx context.Context, connectorID, period string) (store.PeriodStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM backfill_progress WHERE connector_id = $1 AND period = $2`,
		connectorID, period).Scan(&status)
	if err == sql.ErrNoRows {
		return store.PeriodPending, nil
	}
	if err != nil {
		return "", err
	}
	return store.PeriodStatus(status), nil
}

// IsPeriodIngested reports whether the period is marked done.
func (s *Store) IsPeriodIngested(ctx context.Context, connectorID, period string) (bool, error) {
	status, err := s.PeriodStatus(ctx, connectorID, period)
	if err != nil {
		return false, err
	}
	return status == store.PeriodDone, nil
}

// ListProgress returns all recorded periods for a connector.
func (s *Store) ListProgress(ctx context.Context, connectorID string) ([]*store.BackfillProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connector_id, period, status, error, updated_at
		FROM backfill_progress WHERE connector_id = $1 ORDER BY period`, connectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.BackfillProgress
	for rows.Next() {
		var p store.BackfillProgress
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&p.ConnectorID, &p.Period, &status, &errMsg, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = store.PeriodStatus(status)
		p.Error = errMsg.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
