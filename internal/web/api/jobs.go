package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

type jobResponse struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	ConnectorID     string     `json:"connector_id"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	Schedule        string     `json:"schedule,omitempty"`
	Granularity     string     `json:"granularity"`
	LookbackPeriods int        `json:"lookback_periods,omitempty"`
	Validate        bool       `json:"validate"`
	Enabled         bool       `json:"enabled"`
	NextDueAt       time.Time  `json:"next_due_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

func jobToResponse(j *store.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		Kind:            string(j.Kind),
		ConnectorID:     j.ConnectorID,
		IntervalSeconds: j.IntervalSeconds,
		Schedule:        j.Schedule,
		Granularity:     j.Granularity,
		LookbackPeriods: j.LookbackPeriods,
		Validate:        j.Validate,
		Enabled:         j.Enabled,
		NextDueAt:       j.NextDueAt,
		LastRunAt:       j.LastRunAt,
	}
}

type runResponse struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	Trigger        string    `json:"trigger"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	DurationMs     int64     `json:"duration_ms"`
	Outcome        string    `json:"outcome"`
	RecordsWritten int       `json:"records_written"`
	Errors         []string  `json:"errors,omitempty"`
}

func runToResponse(r *store.RunRecord) runResponse {
	return runResponse{
		ID:             r.ID,
		JobID:          r.JobID,
		Trigger:        r.Trigger,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		DurationMs:     r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		Outcome:        string(r.Outcome),
		RecordsWritten: r.RecordsWritten,
		Errors:         r.ErrorSummaries,
	}
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		unavailable(w, "job store")
		return
	}
	jobs, err := a.Jobs.ListJobs(r.Context())
	if err != nil {
		a.log(r).Error("failed to list jobs", tag.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(jobs, func(j *store.Job, _ int) jobResponse {
		return jobToResponse(j)
	}))
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		unavailable(w, "job store")
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (a *API) handleEnableJob(w http.ResponseWriter, r *http.Request) {
	a.setEnabled(w, r, true)
}

func (a *API) handleDisableJob(w http.ResponseWriter, r *http.Request) {
	a.setEnabled(w, r, false)
}

func (a *API) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if a.Jobs == nil {
		unavailable(w, "job store")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Jobs.SetJobEnabled(r.Context(), id, enabled); err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	a.log(r).Info("job enabled state changed", tag.Job(id), "enabled", enabled)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (a *API) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if a.Runner == nil {
		unavailable(w, "scheduler")
		return
	}
	run, err := a.Runner.TriggerNow(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.Runner == nil {
		unavailable(w, "scheduler")
		return
	}
	runs, err := a.Runner.RunHistory(r.Context(), chi.URLParam(r, "id"), intParam(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(runs, func(run *store.RunRecord, _ int) runResponse {
		return runToResponse(run)
	}))
}
