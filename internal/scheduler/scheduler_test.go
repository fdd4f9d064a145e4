package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2025, 5, 1, 6, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, actions map[store.JobKind]ActionFunc, jobs ...*store.Job) (*Scheduler, *store.SQLiteStore, *testClock) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ingestd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: t0}
	sched := New(s, s, actions, Options{})
	sched.now = clock.now
	require.NoError(t, sched.Sync(context.Background(), jobs))
	return sched, s, clock
}

func job(id string, kind store.JobKind, interval int) *store.Job {
	return &store.Job{ID: id, Kind: kind, ConnectorID: id, IntervalSeconds: interval, Enabled: true}
}

func TestTickDoesNotOverlapRunningJob(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(context.Context, *store.Job) (ActionResult, error) {
			calls.Add(1)
			close(started)
			<-release
			return ActionResult{RecordsWritten: 3}, nil
		},
	}
	sched, _, _ := newTestScheduler(t, actions, job("cpi", store.KindDailyRefresh, 3600))

	first := make(chan []*store.RunRecord)
	go func() { first <- sched.Tick(context.Background(), t0) }()
	<-started

	second := sched.Tick(context.Background(), t0)
	assert.Empty(t, second)

	close(release)
	records := <-first
	require.Len(t, records, 1)
	assert.Equal(t, store.OutcomeSuccess, records[0].Outcome)
	assert.EqualValues(t, 1, calls.Load())
}

// staleListStore returns the due list and then lets the test interleave
// other work before Tick sees it.
type staleListStore struct {
	*store.SQLiteStore
	afterList func()
}

func (s *staleListStore) ListDueJobs(ctx context.Context, now time.Time) ([]*store.Job, error) {
	due, err := s.SQLiteStore.ListDueJobs(ctx, now)
	if s.afterList != nil {
		s.afterList()
	}
	return due, err
}

func TestTickRechecksJobAfterGuard(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ingestd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(context.Context, *store.Job) (ActionResult, error) {
			calls.Add(1)
			started <- struct{}{}
			<-release
			return ActionResult{}, nil
		},
	}
	jobs := &staleListStore{SQLiteStore: db}
	sched := New(jobs, db, actions, Options{})
	sched.now = func() time.Time { return t0 }
	require.NoError(t, sched.Sync(context.Background(), []*store.Job{job("cpi", store.KindDailyRefresh, 3600)}))

	first := make(chan []*store.RunRecord)
	go func() { first <- sched.Tick(context.Background(), t0) }()
	<-started

	// The second tick lists cpi as due while the first run is in flight,
	// and only proceeds once that run has advanced the job and let go.
	var firstRecords []*store.RunRecord
	jobs.afterList = func() {
		close(release)
		firstRecords = <-first
	}
	second := sched.Tick(context.Background(), t0)

	require.Len(t, firstRecords, 1)
	assert.Empty(t, second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTickIsolatesFailingJobs(t *testing.T) {
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(_ context.Context, j *store.Job) (ActionResult, error) {
			switch j.ID {
			case "a-broken":
				return ActionResult{}, errors.New("connector unreachable")
			case "b-panics":
				panic("nil map")
			case "c-partial":
				return ActionResult{RecordsWritten: 4, Errors: []string{"row 2: bad value"}}, nil
			}
			return ActionResult{RecordsWritten: 7}, nil
		},
	}
	sched, s, _ := newTestScheduler(t, actions,
		job("a-broken", store.KindDailyRefresh, 60),
		job("b-panics", store.KindDailyRefresh, 60),
		job("c-partial", store.KindDailyRefresh, 60),
		job("d-healthy", store.KindDailyRefresh, 60),
	)

	records := sched.Tick(context.Background(), t0)
	require.Len(t, records, 4)
	assert.Equal(t, store.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, []string{"connector unreachable"}, records[0].ErrorSummaries)
	assert.Equal(t, store.OutcomeFailed, records[1].Outcome)
	assert.Contains(t, records[1].ErrorSummaries[0], "panic")
	assert.Equal(t, store.OutcomePartial, records[2].Outcome)
	assert.Equal(t, store.OutcomeSuccess, records[3].Outcome)
	assert.Equal(t, 7, records[3].RecordsWritten)

	history, err := sched.RunHistory(context.Background(), "a-broken", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TriggerSchedule, history[0].Trigger)

	// Failed jobs advance too.
	due, err := s.ListDueJobs(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestNextDueMeasuredFromCompletion(t *testing.T) {
	var clock *testClock
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(context.Context, *store.Job) (ActionResult, error) {
			clock.advance(90 * time.Second)
			return ActionResult{}, nil
		},
	}
	sched, s, c := newTestScheduler(t, actions, job("slow", store.KindDailyRefresh, 600))
	clock = c

	require.Len(t, sched.Tick(context.Background(), t0), 1)

	j, err := s.GetJob(context.Background(), "slow")
	require.NoError(t, err)
	finished := t0.Add(90 * time.Second)
	assert.True(t, finished.Add(600*time.Second).Equal(j.NextDueAt), "got %s", j.NextDueAt)
	require.NotNil(t, j.LastRunAt)
	assert.True(t, finished.Equal(*j.LastRunAt))

	assert.Empty(t, sched.Tick(context.Background(), t0.Add(5*time.Minute)))
	assert.Len(t, sched.Tick(context.Background(), finished.Add(600*time.Second)), 1)
}

func TestDisabledJobsAreSkipped(t *testing.T) {
	var calls atomic.Int32
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(context.Context, *store.Job) (ActionResult, error) {
			calls.Add(1)
			return ActionResult{}, nil
		},
	}
	sched, s, _ := newTestScheduler(t, actions, job("off", store.KindDailyRefresh, 60))
	require.NoError(t, s.SetJobEnabled(context.Background(), "off", false))

	assert.Empty(t, sched.Tick(context.Background(), t0.Add(time.Hour)))
	assert.Zero(t, calls.Load())
}

func TestTriggerNow(t *testing.T) {
	ctx := context.Background()
	actions := map[store.JobKind]ActionFunc{
		store.KindBackfill: func(context.Context, *store.Job) (ActionResult, error) {
			return ActionResult{RecordsWritten: 1}, nil
		},
	}
	var completed []string
	sched, _, _ := newTestScheduler(t, actions, job("hist", store.KindBackfill, 86400))
	sched.onComplete = func(_ context.Context, j *store.Job, r *store.RunRecord) {
		completed = append(completed, j.ID+":"+r.Trigger)
	}

	rec, err := sched.TriggerNow(ctx, "hist")
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, rec.Trigger)
	assert.Equal(t, []string{"hist:manual"}, completed)

	_, err = sched.TriggerNow(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	release, ok, err := sched.guard.TryAcquire(ctx, "hist")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()
	_, err = sched.TriggerNow(ctx, "hist")
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestSyncValidatesJobs(t *testing.T) {
	actions := map[store.JobKind]ActionFunc{store.KindDailyRefresh: nil}
	sched, _, _ := newTestScheduler(t, actions)

	err := sched.Sync(context.Background(), []*store.Job{job("x", store.KindBackfill, 60)})
	assert.ErrorContains(t, err, "unsupported kind")

	err = sched.Sync(context.Background(), []*store.Job{job("x", store.KindDailyRefresh, 0)})
	assert.ErrorContains(t, err, "interval")

	bad := job("x", store.KindDailyRefresh, 0)
	bad.Schedule = "not a cron"
	assert.Error(t, sched.Sync(context.Background(), []*store.Job{bad}))
}

func TestNextDueUsesCronSchedule(t *testing.T) {
	j := &store.Job{ID: "nightly", Schedule: "0 2 * * *", IntervalSeconds: 60}
	next, err := NextDue(j, t0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 2, 2, 0, 0, 0, time.UTC), next.UTC())
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	release, ok, err := g.TryAcquire(context.Background(), "j")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, g.Running("j"))

	_, ok, _ = g.TryAcquire(context.Background(), "j")
	assert.False(t, ok)

	release()
	assert.False(t, g.Running("j"))
	_, ok, _ = g.TryAcquire(context.Background(), "j")
	assert.True(t, ok)
}

func TestRedisGuardReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: time.Second})
	defer client.Close()
	g := NewRedisGuard(client, "", 0)
	assert.Equal(t, "ingestd:job-lock:cpi", g.key("cpi"))

	_, ok, err := g.TryAcquire(context.Background(), "cpi")
	assert.False(t, ok)
	assert.Error(t, err)
}

type fakeBackfiller struct {
	start, end time.Time
	opts       backfill.Options
}

func (f *fakeBackfiller) RunBackfill(_ context.Context, ids []string, start, end time.Time, opts backfill.Options) (*backfill.Result, error) {
	f.start, f.end, f.opts = start, end, opts
	return &backfill.Result{Connectors: []*backfill.ConnectorResult{{
		ConnectorID:      ids[0],
		RecordsWritten:   5,
		PeriodsSucceeded: []string{"2025-03"},
		Errors:           []string{"2025-04: fetch: timeout"},
		SeriesKeys:       map[string]time.Time{"fx": start},
	}}}, nil
}

func (f *fakeBackfiller) Refresh(_ context.Context, id string, at time.Time, opts backfill.Options) (*backfill.ConnectorResult, error) {
	f.start, f.opts = at, opts
	return &backfill.ConnectorResult{ConnectorID: id, RecordsWritten: 2, SeriesKeys: map[string]time.Time{"fx": at}}, nil
}

type fakeEvaluator struct{ keys []map[string]time.Time }

func (f *fakeEvaluator) EvaluateKeys(_ context.Context, keys map[string]time.Time) ([]*store.Alert, error) {
	f.keys = append(f.keys, keys)
	return nil, nil
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackfiller{}
	ev := &fakeEvaluator{}
	var events []plugin.Event
	notifier := plugin.NotifierFunc(func(_ context.Context, e plugin.Event) error {
		events = append(events, e)
		return nil
	})
	a := NewActions(fb, ev, notifier, nil)
	a.now = func() time.Time { return time.Date(2025, 5, 17, 8, 0, 0, 0, time.UTC) }

	j := &store.Job{ID: "fx", Kind: store.KindBackfill, ConnectorID: "cby", Granularity: "month", LookbackPeriods: 3, Validate: true}
	res, err := a.ScheduledBackfill(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), fb.start)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), fb.end)
	assert.True(t, fb.opts.SkipExisting)
	assert.Equal(t, period.Month, fb.opts.Granularity)
	assert.Equal(t, 5, res.RecordsWritten)
	assert.Len(t, res.Errors, 1)
	assert.Len(t, ev.keys, 1)

	j.Kind = store.KindDailyRefresh
	res, err = a.DailyRefresh(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsWritten)
	assert.False(t, fb.opts.SkipExisting)

	_, err = a.Backfill(ctx, []string{"cby"}, fb.start, fb.end, backfill.Options{})
	require.NoError(t, err)
	a.Completed(ctx, j, &store.RunRecord{ID: "r1", Outcome: store.OutcomeSuccess})

	require.Len(t, events, 2)
	assert.Equal(t, plugin.EventBackfillCompleted, events[0].Type)
	assert.Equal(t, plugin.EventIngestionCompleted, events[1].Type)
	assert.Equal(t, "fx", events[1].Result.(RunSummary).JobID)

	j.Granularity = "fortnight"
	_, err = a.DailyRefresh(ctx, j)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	actions := map[store.JobKind]ActionFunc{
		store.KindDailyRefresh: func(context.Context, *store.Job) (ActionResult, error) {
			calls.Add(1)
			return ActionResult{}, nil
		},
	}
	sched, _, _ := newTestScheduler(t, actions, job("j", store.KindDailyRefresh, 3600))
	sched.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.EqualValues(t, 1, calls.Load())
}
