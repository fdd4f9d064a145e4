// Package backfill drives connectors across a historical period range.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/metrics"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

const (
	defaultParallelism  = 4
	defaultBatchSize    = 500
	defaultMaxErrors    = 50
	defaultFetchTimeout = 2 * time.Minute
)

// Resolver looks up connectors by id.
type Resolver interface {
	Get(id string) (plugin.Connector, error)
}

// Config holds orchestrator defaults. Zero values fall back to built-in
// defaults.
type Config struct {
	Parallelism  int
	BatchSize    int
	MaxErrors    int
	Granularity  period.Granularity
	ValueMin     *float64
	ValueMax     *float64
	FetchTimeout time.Duration
}

// Options are per-run overrides. Zero numeric fields and an empty granularity
// use the orchestrator's Config.
type Options struct {
	SkipExisting bool
	Validate     bool
	BatchSize    int
	Granularity  period.Granularity
	MaxErrors    int
}

// Orchestrator runs backfills. It is safe for concurrent use.
type Orchestrator struct {
	connectors Resolver
	series     store.SeriesStore
	progress   store.ProgressStore
	cfg        Config
	validator  Validator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(connectors Resolver, series store.SeriesStore, progress store.ProgressStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if cfg.Granularity == "" {
		cfg.Granularity = period.Year
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		connectors: connectors,
		series:     series,
		progress:   progress,
		cfg:        cfg,
		validator:  Validator{Min: cfg.ValueMin, Max: cfg.ValueMax},
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

func (o *Orchestrator) resolve(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = o.cfg.BatchSize
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = o.cfg.MaxErrors
	}
	if opts.Granularity == "" {
		opts.Granularity = o.cfg.Granularity
	}
	return opts
}

// RunBackfill ingests every period from the one containing start through the
// one containing end for each connector. Per-period failures are reported in
// the result; an error is returned only for invalid arguments.
func (o *Orchestrator) RunBackfill(ctx context.Context, connectorIDs []string, start, end time.Time, opts Options) (*Result, error) {
	opts = o.resolve(opts)
	if _, err := period.Parse(string(opts.Granularity)); err != nil {
		return nil, err
	}
	ids := lo.Uniq(lo.Compact(connectorIDs))
	if len(ids) == 0 {
		return nil, errors.New("at least one connector id is required")
	}
	periods := period.Range(opts.Granularity, start, end)
	if len(periods) == 0 {
		return nil, fmt.Errorf("end period %s precedes start period %s",
			opts.Granularity.Key(end), opts.Granularity.Key(start))
	}

	began := time.Now()
	res := &Result{
		StartPeriod: opts.Granularity.Key(start),
		EndPeriod:   opts.Granularity.Key(end),
		Connectors:  make([]*ConnectorResult, len(ids)),
	}
	o.logger.Info("backfill started",
		slog.Any("connectors", ids),
		slog.String("start", res.StartPeriod),
		slog.String("end", res.EndPeriod),
		slog.Bool("skip_existing", opts.SkipExisting),
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)
	for i, id := range ids {
		g.Go(func() error {
			res.Connectors[i] = o.runConnector(ctx, id, periods, opts)
			return nil
		})
	}
	_ = g.Wait()

	res.DurationMs = time.Since(began).Milliseconds()
	res.Canceled = lo.SomeBy(res.Connectors, func(c *ConnectorResult) bool { return c.Canceled })
	o.logger.Info("backfill finished",
		slog.Int("records_written", res.RecordsWritten()),
		slog.Int("errors", res.ErrorCount()),
		slog.Bool("canceled", res.Canceled),
		tag.Duration(time.Since(began)),
	)
	return res, nil
}

func (o *Orchestrator) runConnector(ctx context.Context, id string, periods []time.Time, opts Options) *ConnectorResult {
	began := time.Now()
	res := newConnectorResult(id, opts.MaxErrors)
	defer func() { res.DurationMs = time.Since(began).Milliseconds() }()

	log := o.logger.With(tag.Connector(id))
	c, err := o.connectors.Get(id)
	if err != nil {
		res.addError(err.Error())
		log.Error("backfill connector unavailable", tag.Error(err))
		return res
	}

	for _, p := range periods {
		if ctx.Err() != nil {
			res.Canceled = true
			log.Warn("backfill canceled", slog.Int("periods_remaining", len(periods)-len(res.PeriodsSucceeded)-len(res.PeriodsSkipped)-len(res.PeriodsFailed)))
			break
		}
		key := opts.Granularity.Key(p)

		if opts.SkipExisting {
			done, err := o.progress.IsPeriodIngested(ctx, id, key)
			if err != nil {
				log.Warn("read period progress", tag.Period(key), tag.Error(err))
			} else if done {
				res.PeriodsSkipped = append(res.PeriodsSkipped, key)
				o.metrics.Period(id, "skipped")
				continue
			}
		}

		// A started period always finishes so its progress row is consistent.
		pctx := context.WithoutCancel(ctx)
		out, err := o.ingestPeriod(pctx, c, p, opts.Granularity.Next(p), key, opts, true)
		if err != nil {
			log.Warn("period failed, retrying", tag.Period(key), tag.Error(err))
			out, err = o.ingestPeriod(pctx, c, p, opts.Granularity.Next(p), key, opts, true)
		}
		if err != nil {
			res.PeriodsFailed = append(res.PeriodsFailed, key)
			res.addError(fmt.Sprintf("%s: %v", key, err))
			o.metrics.Period(id, string(store.PeriodError))
			if mErr := o.progress.MarkPeriod(pctx, &store.BackfillProgress{
				ConnectorID: id,
				Period:      key,
				Status:      store.PeriodError,
				Error:       err.Error(),
				UpdatedAt:   o.now().UTC(),
			}); mErr != nil {
				log.Error("mark period error", tag.Period(key), tag.Error(mErr))
			}
			log.Error("period failed", tag.Period(key), tag.Error(err))
			continue
		}

		res.merge(out)
		res.PeriodsSucceeded = append(res.PeriodsSucceeded, key)
		o.metrics.Period(id, string(store.PeriodDone))
		o.metrics.Written(id, out.written)
		o.metrics.Rejected(id, out.rejected)
		log.Debug("period done", tag.Period(key), slog.Int("written", out.written), slog.Int("rejected", out.rejected))
	}
	return res
}

// Refresh ingests the period containing at without consulting or updating
// progress, since that period is still open.
func (o *Orchestrator) Refresh(ctx context.Context, connectorID string, at time.Time, opts Options) (*ConnectorResult, error) {
	opts = o.resolve(opts)
	c, err := o.connectors.Get(connectorID)
	if err != nil {
		return nil, err
	}
	began := time.Now()
	res := newConnectorResult(connectorID, opts.MaxErrors)
	start := opts.Granularity.Truncate(at)
	key := opts.Granularity.Key(start)

	out, err := o.ingestPeriod(ctx, c, start, opts.Granularity.Next(start), key, opts, false)
	res.DurationMs = time.Since(began).Milliseconds()
	if err != nil {
		res.PeriodsFailed = append(res.PeriodsFailed, key)
		res.addError(fmt.Sprintf("%s: %v", key, err))
		return res, err
	}
	res.merge(out)
	res.PeriodsSucceeded = append(res.PeriodsSucceeded, key)
	o.metrics.Written(connectorID, out.written)
	o.metrics.Rejected(connectorID, out.rejected)
	return res, nil
}

type periodOutcome struct {
	written  int
	rejected int
	errors   []string
	keys     map[string]time.Time
}

// ingestPeriod fetches [start, end), validates, writes in batches and, when
// markDone is set, records the period as done after the last batch commits.
func (o *Orchestrator) ingestPeriod(ctx context.Context, c plugin.Connector, start, end time.Time, key string, opts Options, markDone bool) (*periodOutcome, error) {
	fctx, cancel := context.WithTimeout(ctx, o.fetchTimeout(c))
	fetched, err := c.Fetch(fctx, start, end)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if fetched == nil {
		fetched = &plugin.FetchResult{}
	}

	out := &periodOutcome{keys: make(map[string]time.Time)}
	for _, msg := range fetched.Errors {
		out.errors = append(out.errors, fmt.Sprintf("%s: %s", key, msg))
	}

	now := o.now().UTC()
	points := make([]store.SeriesPoint, 0, len(fetched.Records))
	for _, rec := range fetched.Records {
		if opts.Validate {
			if err := o.validator.Check(rec); err != nil {
				out.rejected++
				out.errors = append(out.errors, fmt.Sprintf("%s: rejected: %v", key, err))
				continue
			}
		}
		points = append(points, store.SeriesPoint{
			SeriesKey: rec.SeriesKey,
			Period:    rec.Period.UTC(),
			Value:     rec.Value,
			Unit:      rec.Unit,
			Source:    lo.Ternary(rec.Source != "", rec.Source, c.ID()),
			Metadata:  rec.Metadata,
			UpdatedAt: now,
		})
	}

	for _, batch := range lo.Chunk(points, opts.BatchSize) {
		if err := o.series.UpsertBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("write batch: %w", err)
		}
		out.written += len(batch)
	}

	if markDone {
		if err := o.progress.MarkPeriod(ctx, &store.BackfillProgress{
			ConnectorID: c.ID(),
			Period:      key,
			Status:      store.PeriodDone,
			UpdatedAt:   now,
		}); err != nil {
			return nil, fmt.Errorf("mark done: %w", err)
		}
	}

	for _, p := range points {
		if cur, ok := out.keys[p.SeriesKey]; !ok || p.Period.After(cur) {
			out.keys[p.SeriesKey] = p.Period
		}
	}
	return out, nil
}

func (o *Orchestrator) fetchTimeout(c plugin.Connector) time.Duration {
	if tc, ok := c.(plugin.TimeoutConnector); ok && tc.Timeout() > 0 {
		return tc.Timeout()
	}
	return o.cfg.FetchTimeout
}
