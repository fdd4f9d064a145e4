package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Backfiller is the part of the backfill orchestrator the actions use.
type Backfiller interface {
	RunBackfill(ctx context.Context, connectorIDs []string, start, end time.Time, opts backfill.Options) (*backfill.Result, error)
	Refresh(ctx context.Context, connectorID string, at time.Time, opts backfill.Options) (*backfill.ConnectorResult, error)
}

// Evaluator runs threshold detection over written series.
type Evaluator interface {
	EvaluateKeys(ctx context.Context, keys map[string]time.Time) ([]*store.Alert, error)
}

// RunSummary is the result payload of ingestion.completed.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	ConnectorID    string    `json:"connector_id"`
	Trigger        string    `json:"trigger"`
	Outcome        string    `json:"outcome"`
	RecordsWritten int       `json:"records_written"`
	Errors         []string  `json:"errors"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Actions implements the job kinds on top of the orchestrator, runs
// detection after every write and raises the completion events.
type Actions struct {
	backfill Backfiller
	detector Evaluator
	notifier plugin.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewActions(b Backfiller, detector Evaluator, notifier plugin.Notifier, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{backfill: b, detector: detector, notifier: notifier, logger: logger, now: time.Now}
}

// Map returns the action table for New.
func (a *Actions) Map() map[store.JobKind]ActionFunc {
	return map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: a.DailyRefresh,
		store.KindBackfill:     a.ScheduledBackfill,
	}
}

// DailyRefresh ingests the current period of the job's granularity.
func (a *Actions) DailyRefresh(ctx context.Context, job *store.Job) (ActionResult, error) {
	g, err := period.Parse(job.Granularity)
	if err != nil {
		return ActionResult{}, err
	}
	res, err := a.backfill.Refresh(ctx, job.ConnectorID, a.now(), backfill.Options{
		Validate:    job.Validate,
		Granularity: g,
	})
	if err != nil {
		return ActionResult{}, err
	}
	out := ActionResult{RecordsWritten: res.RecordsWritten, Errors: res.Errors}
	out.Errors = append(out.Errors, a.detect(ctx, res.SeriesKeys)...)
	return out, nil
}

// ScheduledBackfill covers the last LookbackPeriods periods up to and
// including the current one, skipping periods already done.
func (a *Actions) ScheduledBackfill(ctx context.Context, job *store.Job) (ActionResult, error) {
	g, err := period.Parse(job.Granularity)
	if err != nil {
		return ActionResult{}, err
	}
	lookback := job.LookbackPeriods
	if lookback <= 0 {
		lookback = 1
	}
	end := g.Truncate(a.now())
	start := g.Shift(end, -(lookback - 1))

	res, err := a.backfill.RunBackfill(ctx, []string{job.ConnectorID}, start, end, backfill.Options{
		SkipExisting: true,
		Validate:     job.Validate,
		Granularity:  g,
	})
	if err != nil {
		return ActionResult{}, err
	}
	out := ActionResult{RecordsWritten: res.RecordsWritten()}
	for _, c := range res.Connectors {
		out.Errors = append(out.Errors, c.Errors...)
	}
	if res.AllPeriodsFailed() {
		out.Outcome = store.OutcomeFailed
	}
	out.Errors = append(out.Errors, a.detect(ctx, res.SeriesKeys())...)
	return out, nil
}

// Backfill runs an ad-hoc backfill, evaluates the written series and
// announces backfill.completed.
func (a *Actions) Backfill(ctx context.Context, connectorIDs []string, start, end time.Time, opts backfill.Options) (*backfill.Result, error) {
	res, err := a.backfill.RunBackfill(ctx, connectorIDs, start, end, opts)
	if err != nil {
		return nil, err
	}
	a.detect(ctx, res.SeriesKeys())
	a.emit(ctx, plugin.EventBackfillCompleted, res)
	return res, nil
}

// Completed announces ingestion.completed for a finished run.
func (a *Actions) Completed(ctx context.Context, job *store.Job, run *store.RunRecord) {
	a.emit(ctx, plugin.EventIngestionCompleted, RunSummary{
		RunID:          run.ID,
		JobID:          job.ID,
		Kind:           string(job.Kind),
		ConnectorID:    job.ConnectorID,
		Trigger:        run.Trigger,
		Outcome:        string(run.Outcome),
		RecordsWritten: run.RecordsWritten,
		Errors:         run.ErrorSummaries,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	})
}

func (a *Actions) detect(ctx context.Context, keys map[string]time.Time) []string {
	if a.detector == nil || len(keys) == 0 {
		return nil
	}
	if _, err := a.detector.EvaluateKeys(ctx, keys); err != nil {
		a.logger.Error("signal detection", tag.Error(err))
		return []string{fmt.Sprintf("signal detection: %v", err)}
	}
	return nil
}

func (a *Actions) emit(ctx context.Context, event string, result any) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(ctx, plugin.Event{Type: event, Result: result, Timestamp: a.now().UTC()}); err != nil {
		a.logger.Warn("event not fully delivered", slog.String("event", event), tag.Error(err))
	}
}
