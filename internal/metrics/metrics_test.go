package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.JobRun("backfill", "partial")
	m.Written("cby", 10)
	m.Written("cby", 0)
	m.Delivery("retry", 0.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("backfill", "partial")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RecordsWritten.WithLabelValues("cby")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ingestd_webhook_deliveries_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.JobRun("daily_refresh", "success")
	m.Period("c", "done")
	m.AlertNotified("alert.triggered")
	assert.NotNil(t, m.Handler())
}
