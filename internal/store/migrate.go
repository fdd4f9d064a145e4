package store

import "database/sql"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    connector_id TEXT NOT NULL,
    interval_seconds INTEGER NOT NULL DEFAULT 0,
    schedule TEXT,
    granularity TEXT,
    lookback_periods INTEGER NOT NULL DEFAULT 0,
    validate INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    next_due_at TEXT NOT NULL,
    last_run_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(enabled, next_due_at);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    trigger_type TEXT NOT NULL DEFAULT 'schedule',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    outcome TEXT NOT NULL,
    records_written INTEGER NOT NULL DEFAULT 0,
    error_summaries TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_job_started ON runs(job_id, started_at);

CREATE TABLE IF NOT EXISTS backfill_progress (
    connector_id TEXT NOT NULL,
    period TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (connector_id, period)
);

CREATE TABLE IF NOT EXISTS series (
    series_key TEXT NOT NULL,
    period TEXT NOT NULL,
    value REAL NOT NULL,
    unit TEXT,
    source TEXT,
    metadata TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (series_key, period)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    event_types TEXT NOT NULL,
    auth_type TEXT NOT NULL DEFAULT 'none',
    auth_token TEXT,
    headers TEXT,
    created_at TEXT NOT NULL,
    revoked_at TEXT
);

CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempt_number INTEGER NOT NULL DEFAULT 1,
    max_attempts INTEGER NOT NULL,
    backoff_base REAL NOT NULL,
    timeout_ms INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    next_attempt_at TEXT NOT NULL,
    last_status_code INTEGER,
    last_error TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_attempt_at);

CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    series_key TEXT NOT NULL,
    first_triggered_at TEXT NOT NULL,
    last_triggered_at TEXT NOT NULL,
    last_notified_at TEXT NOT NULL,
    last_value REAL NOT NULL,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    closed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_alerts_rule_open ON alerts(rule_id, closed_at);
`

// RunMigrations applies the database schema migrations.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(migrationSQL)
	return err
}
