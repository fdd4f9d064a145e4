package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	assert.NoError(t, checkHealth(srv.URL+"/", "tok", time.Second))
	assert.ErrorContains(t, checkHealth(srv.URL, "", time.Second), "401")
	assert.Error(t, checkHealth("http://127.0.0.1:1", "", 200*time.Millisecond))
}

func TestHandleUnhealthy(t *testing.T) {
	assert.Error(t, handleUnhealthy(""))
	assert.NoError(t, handleUnhealthy("true"))
	assert.Error(t, handleUnhealthy("exit 3"))
}

func TestRenderBackfill(t *testing.T) {
	var buf bytes.Buffer
	renderBackfill(&buf, &backfill.Result{
		StartPeriod: "2023",
		EndPeriod:   "2024",
		Connectors: []*backfill.ConnectorResult{{
			ConnectorID:      "cby",
			RecordsWritten:   10,
			PeriodsSucceeded: []string{"2023"},
			PeriodsFailed:    []string{"2024"},
			ErrorCount:       1,
			Errors:           []string{"2024: HTTP 502"},
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "Backfill 2023 to 2024")
	assert.Contains(t, out, "cby")
	assert.Contains(t, out, "cby: 2024: HTTP 502")
}

func TestRunsCommand(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "ingestd.db"))
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.RecordRun(t.Context(), &store.RunRecord{
		ID: "run-1", JobID: "cpi", Trigger: "schedule", StartedAt: now, FinishedAt: now,
		Outcome: store.OutcomeSuccess, RecordsWritten: 4,
	}))
	require.NoError(t, s.Close())

	cfgPath := filepath.Join(dir, "ingestd.yaml")
	require.NoError(t, writeTestConfig(cfgPath, "data_dir: "+dir+"\n"))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"runs", "cpi", "--config", cfgPath})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "success")
}

func writeTestConfig(path, body string) error {
	return os.WriteFile(path, []byte(body), 0644)
}
