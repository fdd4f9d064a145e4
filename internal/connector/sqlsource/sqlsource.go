// Package sqlsource pulls observations from a table in an external SQL
// database. MySQL, PostgreSQL, SQL Server and SQLite are supported.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Config describes the source table. KeyColumn, PeriodColumn and ValueColumn
// are required; UnitColumn is optional.
type Config struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Table        string        `mapstructure:"table"`
	KeyColumn    string        `mapstructure:"key_column"`
	PeriodColumn string        `mapstructure:"period_column"`
	ValueColumn  string        `mapstructure:"value_column"`
	UnitColumn   string        `mapstructure:"unit_column"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	Source       string        `mapstructure:"source"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type dialect struct {
	driverName  string
	quote       func(string) string
	placeholder func(n int) string
}

var dialects = map[string]dialect{
	"mysql": {
		driverName:  "mysql",
		quote:       func(s string) string { return "`" + s + "`" },
		placeholder: func(int) string { return "?" },
	},
	"postgres": {
		driverName:  "pgx",
		quote:       func(s string) string { return `"` + s + `"` },
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	},
	"sqlserver": {
		driverName:  "sqlserver",
		quote:       func(s string) string { return "[" + s + "]" },
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	},
	"sqlite": {
		driverName:  "sqlite",
		quote:       func(s string) string { return `"` + s + `"` },
		placeholder: func(int) string { return "?" },
	},
}

func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return dialects["mysql"], nil
	case "postgres", "postgresql", "pgx":
		return dialects["postgres"], nil
	case "mssql", "sqlserver":
		return dialects["sqlserver"], nil
	case "sqlite", "sqlite3":
		return dialects["sqlite"], nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Connector reads one period at a time with a parameterised range query.
type Connector struct {
	id    string
	cfg   Config
	db    *sql.DB
	query string
}

// New opens the database described by cfg.
func New(id string, cfg Config) (*Connector, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driverName, err)
	}
	c, err := NewWithDB(id, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewWithDB builds a connector over an already opened handle.
func NewWithDB(id string, cfg Config, db *sql.DB) (*Connector, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	query, err := buildQuery(d, cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{id: id, cfg: cfg, db: db, query: query}, nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Timeout() time.Duration { return c.cfg.Timeout }

func (c *Connector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Query returns the SQL statement the connector runs.
func (c *Connector) Query() string { return c.query }

// Fetch selects rows whose period column falls in [periodStart, periodEnd).
// Rows that cannot be converted are reported in FetchResult.Errors.
func (c *Connector) Fetch(ctx context.Context, periodStart, periodEnd time.Time) (*plugin.FetchResult, error) {
	rows, err := c.db.QueryContext(ctx, c.query, periodStart.UTC(), periodEnd.UTC())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.cfg.Table, err)
	}
	defer rows.Close()

	res := &plugin.FetchResult{}
	withUnit := c.cfg.UnitColumn != ""
	rowNum := 0
	for rows.Next() {
		rowNum++
		var key sql.NullString
		var periodRaw, valueRaw any
		var unit sql.NullString
		dest := []any{&key, &periodRaw, &valueRaw}
		if withUnit {
			dest = append(dest, &unit)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", rowNum, err)
		}

		p, err := toTime(periodRaw)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: period: %v", rowNum, err))
			continue
		}
		v, err := toFloat(valueRaw)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: value: %v", rowNum, err))
			continue
		}
		res.Records = append(res.Records, plugin.Record{
			SeriesKey: c.cfg.KeyPrefix + key.String,
			Period:    p,
			Value:     v,
			Unit:      unit.String,
			Source:    c.cfg.Source,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.cfg.Table, err)
	}
	return res, nil
}

func buildQuery(d dialect, cfg Config) (string, error) {
	table, _, err := quoteQualified(cfg.Table, 2, d.quote)
	if err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	cols := []string{cfg.KeyColumn, cfg.PeriodColumn, cfg.ValueColumn}
	if cfg.UnitColumn != "" {
		cols = append(cols, cfg.UnitColumn)
	}
	list, err := quoteList(cols, d.quote)
	if err != nil {
		return "", err
	}
	period := d.quote(cfg.PeriodColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s AND %s < %s ORDER BY %s",
		list, table, period, d.placeholder(1), period, d.placeholder(2), period), nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func quoteList(names []string, quote func(string) string) (string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			return "", errors.New("column name is empty")
		}
		parts, err := splitIdentifier(name)
		if err != nil || len(parts) != 1 {
			return "", fmt.Errorf("invalid column name %q", name)
		}
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", "), nil
}

var periodLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parsePeriod(string(t))
	case string:
		return parsePeriod(t)
	case int64:
		return time.Date(int(t), 1, 1, 0, 0, 0, 0, time.UTC), nil
	case nil:
		return time.Time{}, errors.New("null")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parsePeriod(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range periodLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised period %q", s)
}

func toFloat(val any) (float64, error) {
	switch t := val.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case nil:
		return 0, errors.New("null")
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}
