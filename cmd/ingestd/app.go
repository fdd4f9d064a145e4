package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/bus"
	"github.com/MaherFSF/Yemenactr-sub010/internal/classify"
	"github.com/MaherFSF/Yemenactr-sub010/internal/config"
	"github.com/MaherFSF/Yemenactr-sub010/internal/connector"
	"github.com/MaherFSF/Yemenactr-sub010/internal/crypto"
	"github.com/MaherFSF/Yemenactr-sub010/internal/events"
	"github.com/MaherFSF/Yemenactr-sub010/internal/logger"
	"github.com/MaherFSF/Yemenactr-sub010/internal/metrics"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
	"github.com/MaherFSF/Yemenactr-sub010/internal/realtime"
	"github.com/MaherFSF/Yemenactr-sub010/internal/scheduler"
	"github.com/MaherFSF/Yemenactr-sub010/internal/signal"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store/postgres"
	"github.com/MaherFSF/Yemenactr-sub010/internal/webhook"
)

// app is the wired set of components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *store.SQLiteStore
	series   store.SeriesStore
	progress store.ProgressStore

	connectors   *connector.Registry
	orchestrator *backfill.Orchestrator
	engine       *webhook.Engine
	broker       *realtime.Broker
	fanout       *events.Fanout
	detector     *signal.Detector
	actions      *scheduler.Actions

	closers []func() error
}

type appOptions struct {
	// quiet keeps stdout free for tables.
	quiet bool
	// nats connects the NATS sink when configured.
	nats bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, metrics: metrics.New(), broker: realtime.NewBroker()}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	var logFile io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return a, fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		logFile = f
	}
	if a.logger, err = logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   logFile,
		Quiet:  opts.quiet,
	}); err != nil {
		return a, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return a, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	var storeOpts []store.Option
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAesGcmEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return a, err
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	}
	if a.store, err = store.NewSQLiteStore(cfg.DBPath(), storeOpts...); err != nil {
		return a, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	a.logger.Debug("store opened", slog.String("path", cfg.DBPath()))

	a.series, a.progress = a.store, a.store
	if cfg.SeriesStore.Driver == "postgres" {
		pg, err := postgres.New(ctx, cfg.SeriesStore.DSN)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, pg.Close)
		a.series, a.progress = pg, pg
		a.logger.Info("series store: postgres")
	}

	var classifier *classify.Classifier
	if cfg.ClassifierFile != "" {
		if classifier, err = classify.Load(cfg.ClassifierFile); err != nil {
			return a, fmt.Errorf("load classifier: %w", err)
		}
	}
	if a.connectors, err = connector.Build(cfg.Connectors, classifier); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.connectors.Close)

	a.orchestrator = backfill.New(a.connectors, a.series, a.progress, backfill.Config{
		Parallelism: cfg.Backfill.Parallelism,
		BatchSize:   cfg.Backfill.BatchSize,
		MaxErrors:   cfg.Backfill.MaxErrors,
		Granularity: period.Granularity(cfg.Backfill.Granularity),
		ValueMin:    cfg.Backfill.ValueMin,
		ValueMax:    cfg.Backfill.ValueMax,
	}, a.logger.With(slog.String("component", "backfill")), a.metrics)

	a.engine = webhook.NewEngine(a.store, webhook.Config{
		SourceID:      cfg.SourceID,
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		BackoffBase:   cfg.Delivery.BackoffBase,
		TimeoutMs:     cfg.Delivery.TimeoutMs,
		SweepInterval: cfg.SweepInterval(),
		MaxConcurrent: cfg.Delivery.MaxConcurrent,
		BatchLimit:    cfg.Delivery.BatchLimit,
	}, a.logger.With(slog.String("component", "webhook")), a.metrics)

	a.fanout = events.NewFanout(cfg.SourceID, a.logger,
		events.Sink{Name: "webhook", Notifier: webhook.NewDispatcher(a.engine)},
		events.Sink{Name: "realtime", Notifier: a.broker},
	)
	if opts.nats && cfg.NATS.URL != "" {
		pub, err := bus.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		a.fanout.Add("nats", pub)
		a.logger.Info("nats sink connected", slog.String("subject", pub.Subject("*")))
	}

	rules, err := signal.LoadRules(cfg.RulesFile)
	if err != nil {
		return a, fmt.Errorf("load alert rules: %w", err)
	}
	if a.detector, err = signal.NewDetector(rules, a.store, a.series, a.fanout, signal.Config{
		DefaultCooldown: cfg.AlertCooldown(),
		SourceID:        cfg.SourceID,
	}, a.logger.With(slog.String("component", "signal")), a.metrics); err != nil {
		return a, err
	}

	a.actions = scheduler.NewActions(a.orchestrator, a.detector, a.fanout, a.logger)
	a.logger.Info("components ready",
		slog.Int("connectors", len(a.connectors.IDs())),
		slog.Int("alert_rules", len(rules)),
		slog.String("data_dir", filepath.Clean(cfg.DataDir)),
	)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
