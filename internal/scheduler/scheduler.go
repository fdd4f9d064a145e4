// Package scheduler runs recurring ingestion jobs when they fall due and
// records the outcome of every run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/metrics"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

const (
	DefaultTickInterval = 30 * time.Second

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrJobRunning is returned by TriggerNow when the job is already in flight.
var ErrJobRunning = errors.New("job is already running")

// ActionResult is what a job action reports back.
type ActionResult struct {
	RecordsWritten int
	Errors         []string
	// Outcome overrides the default derived from Errors when set.
	Outcome store.Outcome
}

// ActionFunc performs one run of a job.
type ActionFunc func(ctx context.Context, job *store.Job) (ActionResult, error)

// CompleteFunc observes every finished run.
type CompleteFunc func(ctx context.Context, job *store.Job, run *store.RunRecord)

// Options configures a Scheduler.
type Options struct {
	TickInterval time.Duration
	Guard        Guard
	OnComplete   CompleteFunc
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Scheduler selects due jobs and dispatches their actions.
type Scheduler struct {
	jobs       store.JobStore
	runs       store.RunStore
	actions    map[store.JobKind]ActionFunc
	guard      Guard
	interval   time.Duration
	onComplete CompleteFunc
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	inflight   sync.WaitGroup
}

func New(jobs store.JobStore, runs store.RunStore, actions map[store.JobKind]ActionFunc, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Guard == nil {
		opts.Guard = NewMemoryGuard()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		jobs:       jobs,
		runs:       runs,
		actions:    actions,
		guard:      opts.Guard,
		interval:   opts.TickInterval,
		onComplete: opts.OnComplete,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// Sync upserts job definitions. New jobs are due immediately; existing jobs
// keep their enabled flag and scheduling state.
func (s *Scheduler) Sync(ctx context.Context, jobs []*store.Job) error {
	now := s.now().UTC()
	for _, j := range jobs {
		if _, ok := s.actions[j.Kind]; !ok {
			return fmt.Errorf("job %s: unsupported kind %q", j.ID, j.Kind)
		}
		if _, err := NextDue(j, now); err != nil {
			return err
		}
		if j.NextDueAt.IsZero() {
			j.NextDueAt = now
		}
		if err := s.jobs.SyncJob(ctx, j); err != nil {
			return fmt.Errorf("sync job %s: %w", j.ID, err)
		}
	}
	s.logger.Info("jobs synced", slog.Int("count", len(jobs)))
	return nil
}

// Tick runs every enabled job due at now and returns the records of the runs
// it started. Jobs still running from an earlier tick are skipped. Tick never
// fails; problems are logged or recorded on the job's run.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []*store.RunRecord {
	due, err := s.jobs.ListDueJobs(ctx, now)
	if err != nil {
		s.logger.Error("list due jobs", tag.Error(err))
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		records []*store.RunRecord
	)
	for _, job := range due {
		release, ok, err := s.guard.TryAcquire(ctx, job.ID)
		if err != nil {
			s.logger.Error("acquire job guard", tag.Job(job.ID), tag.Error(err))
			continue
		}
		if !ok {
			s.logger.Debug("job still running, skipped", tag.Job(job.ID))
			continue
		}
		// The due list may predate a run that finished before the guard was
		// taken; only the stored row says whether this occurrence is still owed.
		current, err := s.jobs.GetJob(ctx, job.ID)
		if err != nil || current == nil || !current.Enabled || current.NextDueAt.After(now) {
			release()
			if err != nil {
				s.logger.Error("reload job", tag.Job(job.ID), tag.Error(err))
			} else {
				s.logger.Debug("job no longer due, skipped", tag.Job(job.ID))
			}
			continue
		}
		job = current
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()
			rec := s.execute(ctx, job, TriggerSchedule)
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].JobID < records[j].JobID })
	return records
}

// TriggerNow runs a job immediately, outside its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) (*store.RunRecord, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, store.ErrNotFound
	}
	release, ok, err := s.guard.TryAcquire(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobRunning
	}
	defer release()
	return s.execute(ctx, job, TriggerManual), nil
}

// RunHistory returns a job's runs, most recent first.
func (s *Scheduler) RunHistory(ctx context.Context, jobID string, limit int) ([]*store.RunRecord, error) {
	return s.runs.GetRunHistory(ctx, jobID, limit)
}

// Run ticks until ctx is done, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.interval))
	s.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.spawnTick(ctx)
		}
	}
}

// spawnTick runs a tick in the background so a slow job never delays the
// next selection.
func (s *Scheduler) spawnTick(ctx context.Context) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Tick(ctx, s.now())
	}()
}

func (s *Scheduler) execute(ctx context.Context, job *store.Job, trigger string) *store.RunRecord {
	log := s.logger.With(tag.Job(job.ID), slog.String("kind", string(job.Kind)), slog.String("trigger", trigger))
	started := s.now().UTC()
	log.Info("job started")

	res, err := s.invoke(ctx, job)
	finished := s.now().UTC()

	rec := &store.RunRecord{
		ID:             store.NewID(),
		JobID:          job.ID,
		Trigger:        trigger,
		StartedAt:      started,
		FinishedAt:     finished,
		RecordsWritten: res.RecordsWritten,
		ErrorSummaries: res.Errors,
		Outcome:        res.Outcome,
	}
	switch {
	case err != nil:
		rec.Outcome = store.OutcomeFailed
		rec.ErrorSummaries = append([]string{err.Error()}, rec.ErrorSummaries...)
	case rec.Outcome == "" && len(res.Errors) > 0:
		rec.Outcome = store.OutcomePartial
	case rec.Outcome == "":
		rec.Outcome = store.OutcomeSuccess
	}

	// Bookkeeping must land even if shutdown canceled ctx mid-run.
	bctx := context.WithoutCancel(ctx)
	if err := s.runs.RecordRun(bctx, rec); err != nil {
		log.Error("record run", tag.Error(err))
	}
	next, err := NextDue(job, finished)
	if err != nil {
		log.Error("compute next due", tag.Error(err))
		next = finished.Add(s.interval)
	}
	if err := s.jobs.AdvanceJob(bctx, job.ID, finished, next); err != nil {
		log.Error("advance job", tag.Error(err))
	}

	s.metrics.JobRun(string(job.Kind), string(rec.Outcome))
	attrs := []any{
		slog.String("outcome", string(rec.Outcome)),
		slog.Int("records_written", rec.RecordsWritten),
		slog.Int("errors", len(rec.ErrorSummaries)),
		tag.Duration(finished.Sub(started)),
		slog.Time("next_due_at", next),
	}
	if rec.Outcome == store.OutcomeFailed {
		log.Error("job failed", attrs...)
	} else {
		log.Info("job finished", attrs...)
	}

	if s.onComplete != nil {
		s.onComplete(bctx, job, rec)
	}
	return rec
}

// invoke runs the job's action, converting a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, job *store.Job) (res ActionResult, err error) {
	action, ok := s.actions[job.Kind]
	if !ok {
		return ActionResult{}, fmt.Errorf("no action for job kind %q", job.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", tag.Job(job.ID), slog.String("stack", string(debug.Stack())))
			res, err = ActionResult{}, fmt.Errorf("panic: %v", r)
		}
	}()
	return action(ctx, job)
}
