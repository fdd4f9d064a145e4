package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MaherFSF/Yemenactr-sub010/internal/config"
	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/scheduler"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/internal/web"
	"github.com/MaherFSF/Yemenactr-sub010/internal/web/api"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, delivery engine and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", "", "override the listen address")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{nats: true})
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	guard, err := newGuard(cfg, log)
	if err != nil {
		return err
	}
	sched := scheduler.New(a.store, a.store, a.actions.Map(), scheduler.Options{
		TickInterval: cfg.Scheduler.TickInterval,
		Guard:        guard,
		OnComplete:   a.actions.Completed,
		Logger:       log.With(slog.String("component", "scheduler")),
		Metrics:      a.metrics,
	})
	if err := syncJobs(ctx, cfg, sched); err != nil {
		return err
	}

	srv := web.NewServer(cfg.Listen, &api.API{
		Jobs:          a.store,
		Runner:        sched,
		Backfill:      a.actions,
		Progress:      a.progress,
		Subscriptions: a.store,
		Deliveries:    a.store,
		Alerts:        a.store,
		Acknowledger:  a.detector,
		Events:        a.broker,
	}, web.Options{
		RateLimit:      cfg.API.RateLimit,
		Burst:          cfg.API.Burst,
		RequestTimeout: cfg.API.RequestTimeout,
		Token:          cfg.API.Token,
		Metrics:        a.metrics.Handler(),
		Logger:         log.With(slog.String("component", "api")),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown error", tag.Error(err))
		}
		return nil
	})

	log.Info("ingestd started", slog.String("listen", cfg.Listen), slog.Int("pid", os.Getpid()))
	err = g.Wait()
	log.Info("ingestd stopped")
	return err
}

func newGuard(cfg *config.Config, log *slog.Logger) (scheduler.Guard, error) {
	if cfg.Redis.URL == "" {
		return scheduler.NewMemoryGuard(), nil
	}
	client, err := scheduler.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	log.Info("using redis job locks", slog.String("addr", client.Options().Addr))
	return scheduler.NewRedisGuard(client, "", cfg.Redis.LockTTL), nil
}

// syncJobs loads job definitions from the jobs directory into the store.
func syncJobs(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler) error {
	defs, err := config.LoadJobs(cfg.JobsDir)
	if err != nil {
		return fmt.Errorf("load jobs from %s: %w", cfg.JobsDir, err)
	}
	jobs := make([]*store.Job, 0, len(defs))
	for _, d := range defs {
		j, err := d.ToStore()
		if err != nil {
			return fmt.Errorf("%s: %w", d.FilePath, err)
		}
		jobs = append(jobs, j)
	}
	return sched.Sync(ctx, jobs)
}
