package sqlsource

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryPerDialect(t *testing.T) {
	t.Parallel()

	cfg := Config{Table: "stats.cpi", KeyColumn: "indicator", PeriodColumn: "period", ValueColumn: "value"}
	tests := []struct {
		driver string
		want   string
	}{
		{"mysql", "SELECT `indicator`, `period`, `value` FROM `stats`.`cpi` WHERE `period` >= ? AND `period` < ? ORDER BY `period`"},
		{"postgres", `SELECT "indicator", "period", "value" FROM "stats"."cpi" WHERE "period" >= $1 AND "period" < $2 ORDER BY "period"`},
		{"sqlserver", "SELECT [indicator], [period], [value] FROM [stats].[cpi] WHERE [period] >= @p1 AND [period] < @p2 ORDER BY [period]"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := lookupDialect(tt.driver)
			require.NoError(t, err)
			cfg := cfg
			cfg.Driver = tt.driver
			got, err := buildQuery(d, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildQueryRejectsInjection(t *testing.T) {
	t.Parallel()

	d, err := lookupDialect("postgres")
	require.NoError(t, err)

	_, err = buildQuery(d, Config{Table: "cpi; DROP TABLE x", KeyColumn: "k", PeriodColumn: "p", ValueColumn: "v"})
	assert.Error(t, err)
	_, err = buildQuery(d, Config{Table: "a.b.c", KeyColumn: "k", PeriodColumn: "p", ValueColumn: "v"})
	assert.Error(t, err)
	_, err = buildQuery(d, Config{Table: "cpi", KeyColumn: "k", PeriodColumn: "p.q", ValueColumn: "v"})
	assert.Error(t, err)

	_, err = lookupDialect("oracle")
	assert.Error(t, err)
}

func TestFetchConvertsRowsAndReportsBadOnes(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := Config{
		Driver:       "postgres",
		Table:        "cpi",
		KeyColumn:    "indicator",
		PeriodColumn: "period",
		ValueColumn:  "value",
		UnitColumn:   "unit",
		KeyPrefix:    "cby.",
		Source:       "cby",
	}
	c, err := NewWithDB("cby", cfg, db)
	require.NoError(t, err)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(c.Query())).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"indicator", "period", "value", "unit"}).
			AddRow("cpi", start, 310.5, "index").
			AddRow("fx", "2023-06", []byte("1250"), "YER").
			AddRow("broken", "not-a-date", 1.0, nil).
			AddRow("nullval", start, nil, nil))

	res, err := c.Fetch(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "cby.cpi", res.Records[0].SeriesKey)
	assert.Equal(t, 310.5, res.Records[0].Value)
	assert.Equal(t, "index", res.Records[0].Unit)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), res.Records[1].Period)
	assert.Equal(t, 1250.0, res.Records[1].Value)
	assert.Len(t, res.Errors, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
