package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const upsertSeriesSQL = `
	INSERT INTO series (series_key, period, value, unit, source, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(series_key, period) DO UPDATE SET
		value = excluded.value,
		unit = excluded.unit,
		source = excluded.source,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at`

// Upsert writes one point, merging with any existing value for the same
// series key and period.
func (s *SQLiteStore) Upsert(ctx context.Context, p SeriesPoint) error {
	return s.UpsertBatch(ctx, []SeriesPoint{p})
}

// UpsertBatch writes all points in a single transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, points []SeriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSeriesSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, p := range points {
		meta, err := marshalJSON(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.SeriesKey, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.SeriesKey,
			formatTime(p.Period),
			p.Value,
			nullString(p.Unit),
			nullString(p.Source),
			meta,
			now,
		); err != nil {
			return fmt.Errorf("upsert %s@%s: %w", p.SeriesKey, formatTime(p.Period), err)
		}
	}
	return tx.Commit()
}

const selectSeriesCols = "series_key, period, value, unit, source, metadata, updated_at"

func scanSeriesPoint(row scanner) (*SeriesPoint, error) {
	var p SeriesPoint
	var periodStr, updatedAt string
	var unit, source, meta sql.NullString

	if err := row.Scan(&p.SeriesKey, &periodStr, &p.Value, &unit, &source, &meta, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Period, err = parseTime(periodStr); err != nil {
		return nil, fmt.Errorf("parse period: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	p.Unit = unit.String
	p.Source = source.String
	if err := unmarshalJSON(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &p, nil
}

// Latest returns the point with the greatest period, or nil if the series is
// empty.
func (s *SQLiteStore) Latest(ctx context.Context, seriesKey string) (*SeriesPoint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectSeriesCols+" FROM series WHERE series_key = ? ORDER BY period DESC LIMIT 1",
		seriesKey)
	p, err := scanSeriesPoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// LatestAsOf returns the latest point whose period is at or before asOf.
func (s *SQLiteStore) LatestAsOf(ctx context.Context, seriesKey string, asOf time.Time) (*SeriesPoint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectSeriesCols+" FROM series WHERE series_key = ? AND period <= ? ORDER BY period DESC LIMIT 1",
		seriesKey, formatTime(asOf))
	p, err := scanSeriesPoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}
