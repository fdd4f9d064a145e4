package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "ingestd.yaml", "{}\n")

	cfg, err := Load(nil, cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Fatalf("expected default listen :8080, got %q", cfg.Listen)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data_dir ./data, got %q", cfg.DataDir)
	}
	if cfg.JobsDir != filepath.Join("data", "jobs") {
		t.Fatalf("expected jobs_dir under data_dir, got %q", cfg.JobsDir)
	}
	if cfg.Backfill.BatchSize != 500 || cfg.Backfill.Granularity != "year" || cfg.Backfill.MaxErrors != 50 {
		t.Fatalf("unexpected backfill defaults: %+v", cfg.Backfill)
	}
	if cfg.Backfill.ValueMin != nil || cfg.Backfill.ValueMax != nil {
		t.Fatalf("value bounds should be unset by default")
	}
	d := cfg.Delivery
	if d.MaxAttempts != 5 || d.BackoffBase != 2 || d.TimeoutMs != 10000 || d.SweepIntervalSeconds != 300 {
		t.Fatalf("unexpected delivery defaults: %+v", d)
	}
	if cfg.SweepInterval() != 5*time.Minute {
		t.Fatalf("expected 5m sweep interval, got %s", cfg.SweepInterval())
	}
	if cfg.AlertCooldown() != time.Hour {
		t.Fatalf("expected 1h cooldown, got %s", cfg.AlertCooldown())
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Fatalf("expected 30s tick, got %s", cfg.Scheduler.TickInterval)
	}
}

func TestLoadConfigExpandsTildePaths(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "ingestd.yaml", `
data_dir: "~/ingestd-data"
jobs_dir: "~/.config/ingestd/jobs"
rules_file: "~/rules.yaml"
`)

	cfg, err := Load(nil, cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Fatalf("UserHomeDir unavailable for test: %v", err)
	}

	if got, want := cfg.DataDir, filepath.Join(home, "ingestd-data"); got != want {
		t.Fatalf("expected expanded data_dir %q, got %q", want, got)
	}
	if got, want := cfg.JobsDir, filepath.Join(home, ".config", "ingestd", "jobs"); got != want {
		t.Fatalf("expected expanded jobs_dir %q, got %q", want, got)
	}
	if got, want := cfg.RulesFile, filepath.Join(home, "rules.yaml"); got != want {
		t.Fatalf("expected expanded rules_file %q, got %q", want, got)
	}
}

func TestLoadConfigSectionsAndConnectors(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "ingestd.yaml", `
backfill:
  granularity: month
  value_min: -10
  value_max: 1e9
delivery:
  max_attempts: 3
connectors:
  - id: cby
    type: http
    timeout: 45s
    settings:
      url: https://example.org/fx
      start_param: from
`)

	cfg, err := Load(nil, cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backfill.Granularity != "month" {
		t.Fatalf("expected month granularity, got %q", cfg.Backfill.Granularity)
	}
	if cfg.Backfill.ValueMin == nil || *cfg.Backfill.ValueMin != -10 {
		t.Fatalf("expected value_min -10, got %v", cfg.Backfill.ValueMin)
	}
	if cfg.Delivery.MaxAttempts != 3 || cfg.Delivery.MaxConcurrent != 16 {
		t.Fatalf("unexpected delivery config: %+v", cfg.Delivery)
	}
	if len(cfg.Connectors) != 1 {
		t.Fatalf("expected one connector, got %d", len(cfg.Connectors))
	}
	c := cfg.Connectors[0]
	if c.ID != "cby" || c.Type != "http" || c.Timeout != 45*time.Second {
		t.Fatalf("unexpected connector: %+v", c)
	}
	if c.Settings["start_param"] != "from" {
		t.Fatalf("expected settings to be kept, got %v", c.Settings)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("INGESTD_DELIVERY_MAX_ATTEMPTS", "7")
	t.Setenv("INGESTD_SOURCE_ID", "observatory")
	cfgPath := writeFile(t, t.TempDir(), "ingestd.yaml", "delivery:\n  max_attempts: 3\n")

	cfg, err := Load(nil, cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Delivery.MaxAttempts != 7 {
		t.Fatalf("expected env override 7, got %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.SourceID != "observatory" {
		t.Fatalf("expected source_id from env, got %q", cfg.SourceID)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"granularity":  "backfill:\n  granularity: week\n",
		"backoff":      "delivery:\n  backoff_base: 1\n",
		"key length":   "encryption_key: short\n",
		"postgres dsn": "series_store:\n  driver: postgres\n",
		"bounds":       "backfill:\n  value_min: 5\n  value_max: 1\n",
		"dup connector": "connectors:\n  - id: a\n    type: sql\n  - id: a\n    type: sql\n",
	}
	for name, body := range cases {
		path := writeFile(t, dir, "bad.yaml", body)
		if _, err := Load(nil, path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if _, err := Load(nil, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
