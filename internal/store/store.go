package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a mutation targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// JobKind selects the action a scheduled job performs.
type JobKind string

const (
	KindDailyRefresh JobKind = "daily_refresh"
	KindBackfill     JobKind = "backfill"
)

// Outcome is the result of one scheduled run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// PeriodStatus is the ingestion state of one (connector, period) pair.
type PeriodStatus string

const (
	PeriodPending PeriodStatus = "pending"
	PeriodDone    PeriodStatus = "done"
	PeriodError   PeriodStatus = "error"
)

// DeliveryStatus is the lifecycle state of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryAbandoned DeliveryStatus = "abandoned"
)

// Job is a recurring ingestion job together with its scheduling state.
type Job struct {
	ID              string
	Kind            JobKind
	ConnectorID     string
	IntervalSeconds int
	Schedule        string
	Granularity     string
	LookbackPeriods int
	Validate        bool
	Enabled         bool
	NextDueAt       time.Time
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunRecord is the immutable outcome of one job execution.
type RunRecord struct {
	ID             string
	JobID          string
	Trigger        string
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        Outcome
	RecordsWritten int
	ErrorSummaries []string
}

// BackfillProgress records whether a connector period has been ingested.
type BackfillProgress struct {
	ConnectorID string
	Period      string
	Status      PeriodStatus
	Error       string
	UpdatedAt   time.Time
}

// SeriesPoint is one stored observation keyed by (SeriesKey, Period).
type SeriesPoint struct {
	SeriesKey string
	Period    time.Time
	Value     float64
	Unit      string
	Source    string
	Metadata  map[string]any
	UpdatedAt time.Time
}

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID         string
	URL        string
	EventTypes []string
	AuthType   string // "none", "bearer", "api_key"
	AuthToken  string
	Headers    map[string]string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// DeliveryJob is one pending or finished notification to one subscriber.
type DeliveryJob struct {
	ID             string
	SubscriptionID string
	EventType      string
	Payload        json.RawMessage
	AttemptNumber  int
	MaxAttempts    int
	BackoffBase    float64
	TimeoutMs      int
	Status         DeliveryStatus
	NextAttemptAt  time.Time
	LastStatusCode int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryUpdate is the persisted result of one delivery attempt.
type DeliveryUpdate struct {
	ID             string
	Status         DeliveryStatus
	AttemptNumber  int
	NextAttemptAt  time.Time
	LastStatusCode int
	LastError      string
}

// Alert is an open or closed threshold breach for one rule.
type Alert struct {
	ID               string
	RuleID           string
	SeriesKey        string
	FirstTriggeredAt time.Time
	LastTriggeredAt  time.Time
	LastNotifiedAt   time.Time
	LastValue        float64
	Acknowledged     bool
	ClosedAt         *time.Time
}

// ListOpts controls pagination and filtering for list queries.
type ListOpts struct {
	Status string
	Limit  int
	Offset int
}

// JobStore persists scheduled jobs.
type JobStore interface {
	SyncJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	ListDueJobs(ctx context.Context, now time.Time) ([]*Job, error)
	SetJobEnabled(ctx context.Context, id string, enabled bool) error
	AdvanceJob(ctx context.Context, id string, lastRunAt, nextDueAt time.Time) error
}

// RunStore persists the append-only run history.
type RunStore interface {
	RecordRun(ctx context.Context, run *RunRecord) error
	GetRunHistory(ctx context.Context, jobID string, limit int) ([]*RunRecord, error)
}

// ProgressStore tracks which connector periods have been ingested.
type ProgressStore interface {
	MarkPeriod(ctx context.Context, p *BackfillProgress) error
	PeriodStatus(ctx context.Context, connectorID, period string) (PeriodStatus, error)
	IsPeriodIngested(ctx context.Context, connectorID, period string) (bool, error)
	ListProgress(ctx context.Context, connectorID string) ([]*BackfillProgress, error)
}

// SeriesStore stores observations. Upserts merge on (SeriesKey, Period).
type SeriesStore interface {
	Upsert(ctx context.Context, p SeriesPoint) error
	UpsertBatch(ctx context.Context, points []SeriesPoint) error
	Latest(ctx context.Context, seriesKey string) (*SeriesPoint, error)
	LatestAsOf(ctx context.Context, seriesKey string, asOf time.Time) (*SeriesPoint, error)
}

// SubscriptionStore persists webhook subscribers.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, includeRevoked bool) ([]*Subscription, error)
	RevokeSubscription(ctx context.Context, id string, at time.Time) error
}

// DeliveryStore persists the webhook delivery queue.
type DeliveryStore interface {
	EnqueueDelivery(ctx context.Context, job *DeliveryJob) error
	GetDelivery(ctx context.Context, id string) (*DeliveryJob, error)
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*DeliveryJob, error)
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*DeliveryJob, error)
	UpdateDelivery(ctx context.Context, upd DeliveryUpdate) error
}

// AlertStore persists alerts. Rows are closed, never deleted.
type AlertStore interface {
	GetOpenAlert(ctx context.Context, ruleID string) (*Alert, error)
	GetAlert(ctx context.Context, id string) (*Alert, error)
	InsertAlert(ctx context.Context, a *Alert) error
	UpdateAlert(ctx context.Context, a *Alert) error
	CloseAlert(ctx context.Context, id string, at time.Time) error
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) error
	ListAlerts(ctx context.Context, openOnly bool, limit int) ([]*Alert, error)
}
