// Package webhook delivers event notifications to subscribed HTTP endpoints
// with bounded exponential-backoff retries.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/metrics"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

const (
	DefaultMaxAttempts   = 5
	DefaultBackoffBase   = 2.0
	DefaultTimeout       = 10 * time.Second
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxConcurrent = 16
	DefaultBatchLimit    = 100
)

// Header names sent with every delivery.
const (
	HeaderEvent   = "X-Webhook-Event"
	HeaderSource  = "X-Webhook-Source"
	HeaderAttempt = "X-Webhook-Attempt"
	HeaderAPIKey  = "X-API-Key"
)

// Store is the persistence the engine needs.
type Store interface {
	store.DeliveryStore
	store.SubscriptionStore
}

// Config controls delivery defaults and the sweep loop.
type Config struct {
	SourceID      string
	MaxAttempts   int
	BackoffBase   float64
	TimeoutMs     int
	SweepInterval time.Duration
	MaxConcurrent int
	BatchLimit    int
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = int(DefaultTimeout / time.Millisecond)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
}

// Result is the classified outcome of one delivery attempt.
type Result struct {
	Success               bool    `json:"success"`
	StatusCode            int     `json:"status_code,omitempty"`
	ResponseTimeMs        int64   `json:"response_time_ms"`
	Error                 string  `json:"error,omitempty"`
	ShouldRetry           bool    `json:"should_retry"`
	NextRetryDelaySeconds float64 `json:"next_retry_delay_seconds,omitempty"`
	// Abandoned is set when a retryable failure hit the attempt limit.
	Abandoned bool `json:"abandoned,omitempty"`
}

// SweepStats counts the outcomes of one sweep.
type SweepStats struct {
	Delivered   int
	Rescheduled int
	Failed      int
	Abandoned   int
}

// Engine sends deliveries and drives the retry queue.
type Engine struct {
	store   Store
	client  *resty.Client
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	kick    chan struct{}
	now     func() time.Time
}

func NewEngine(s Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetHeader("User-Agent", "ingestd-webhook/1").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
	return &Engine{
		store:   s,
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// BackoffSeconds returns base^attempt.
func BackoffSeconds(base float64, attempt int) float64 {
	return math.Pow(base, float64(attempt))
}

// Classify maps an HTTP status to (success, retryable).
func Classify(status int) (success, retryable bool) {
	switch {
	case status >= 200 && status < 300:
		return true, false
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return false, true
	default:
		return false, false
	}
}

// Send performs one attempt of job against sub. It never returns an error;
// failures are described by the Result.
func (e *Engine) Send(ctx context.Context, sub *store.Subscription, job *store.DeliveryJob) Result {
	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := e.client.R().
		SetContext(ctx).
		SetHeaders(sub.Headers).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderEvent, job.EventType).
		SetHeader(HeaderSource, e.cfg.SourceID).
		SetHeader(HeaderAttempt, strconv.Itoa(job.AttemptNumber)).
		SetBody([]byte(job.Payload))
	switch strings.ToLower(sub.AuthType) {
	case "bearer":
		req.SetAuthToken(sub.AuthToken)
	case "api_key":
		req.SetHeader(HeaderAPIKey, sub.AuthToken)
	}

	start := time.Now()
	resp, err := req.Post(sub.URL)
	res := Result{ResponseTimeMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		res.ShouldRetry = true
	} else {
		res.StatusCode = resp.StatusCode()
		res.Success, res.ShouldRetry = Classify(res.StatusCode)
		if !res.Success {
			res.Error = fmt.Sprintf("HTTP %d", res.StatusCode)
			if body := strings.TrimSpace(resp.String()); body != "" {
				if len(body) > 256 {
					body = body[:256]
				}
				res.Error += ": " + body
			}
		}
	}
	e.applyRetryPolicy(&res, job)
	return res
}

func (e *Engine) applyRetryPolicy(res *Result, job *store.DeliveryJob) {
	if res.Success || !res.ShouldRetry {
		return
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxAttempts
	}
	if job.AttemptNumber >= maxAttempts {
		res.ShouldRetry = false
		res.Abandoned = true
		return
	}
	base := job.BackoffBase
	if base == 0 {
		base = e.cfg.BackoffBase
	}
	res.NextRetryDelaySeconds = BackoffSeconds(base, job.AttemptNumber)
}

// Deliver loads the job's subscription and sends. A missing or revoked
// subscription is a non-retryable failure.
func (e *Engine) Deliver(ctx context.Context, job *store.DeliveryJob) Result {
	sub, err := e.store.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		res := Result{Error: fmt.Sprintf("load subscription: %v", err), ShouldRetry: true}
		e.applyRetryPolicy(&res, job)
		return res
	}
	if sub == nil || sub.RevokedAt != nil {
		return Result{Error: "subscription revoked"}
	}
	return e.Send(ctx, sub, job)
}

// Sweep delivers every pending job due at now, at most MaxConcurrent at a
// time, and persists each outcome.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats
	jobs, err := e.store.ListDueDeliveries(ctx, now, e.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list due deliveries: %w", err)
	}
	if len(jobs) == 0 {
		return stats, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(e.cfg.MaxConcurrent))
	)
	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			// An attempt already on the wire finishes on its own timeout, so
			// shutdown does not spend one of the job's retries.
			res := e.Deliver(context.WithoutCancel(ctx), job)
			outcome := e.record(ctx, job, res)
			mu.Lock()
			switch outcome {
			case store.DeliveryDelivered:
				stats.Delivered++
			case store.DeliveryPending:
				stats.Rescheduled++
			case store.DeliveryAbandoned:
				stats.Abandoned++
			default:
				stats.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	e.logger.Info("delivery sweep finished",
		slog.Int("due", len(jobs)),
		slog.Int("delivered", stats.Delivered),
		slog.Int("rescheduled", stats.Rescheduled),
		slog.Int("failed", stats.Failed),
		slog.Int("abandoned", stats.Abandoned),
	)
	return stats, nil
}

func (e *Engine) record(ctx context.Context, job *store.DeliveryJob, res Result) store.DeliveryStatus {
	upd := store.DeliveryUpdate{
		ID:             job.ID,
		AttemptNumber:  job.AttemptNumber,
		NextAttemptAt:  job.NextAttemptAt,
		LastStatusCode: res.StatusCode,
		LastError:      res.Error,
	}
	log := e.logger.With(
		tag.Delivery(job.ID),
		slog.String("subscription_id", job.SubscriptionID),
		slog.String("event", job.EventType),
		slog.Int("attempt", job.AttemptNumber),
	)

	switch {
	case res.Success:
		upd.Status = store.DeliveryDelivered
	case res.ShouldRetry:
		upd.Status = store.DeliveryPending
		upd.AttemptNumber = job.AttemptNumber + 1
		upd.NextAttemptAt = e.now().UTC().Add(time.Duration(res.NextRetryDelaySeconds * float64(time.Second)))
		log.Warn("delivery failed, rescheduled",
			slog.Float64("delay_seconds", res.NextRetryDelaySeconds),
			slog.String("error", res.Error))
	case res.Abandoned:
		upd.Status = store.DeliveryAbandoned
		log.Error("delivery abandoned after final attempt", slog.String("error", res.Error))
	default:
		upd.Status = store.DeliveryFailed
		log.Error("delivery failed permanently", slog.String("error", res.Error))
	}

	// Persist even if the sweep is being shut down so the attempt is not replayed.
	if err := e.store.UpdateDelivery(context.WithoutCancel(ctx), upd); err != nil {
		log.Error("persist delivery result", tag.Error(err))
	}
	e.metrics.Delivery(string(upd.Status), float64(res.ResponseTimeMs)/1000)
	return upd.Status
}

// Kick requests an immediate sweep from Run.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run sweeps on every interval tick and on Kick until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	e.logger.Info("delivery engine started",
		slog.Duration("sweep_interval", e.cfg.SweepInterval),
		slog.Int("max_concurrent", e.cfg.MaxConcurrent))
	for {
		if _, err := e.Sweep(ctx, e.now()); err != nil && ctx.Err() == nil {
			e.logger.Error("delivery sweep", tag.Error(err))
		}
		select {
		case <-ctx.Done():
			e.logger.Info("delivery engine stopped")
			return
		case <-ticker.C:
		case <-e.kick:
		}
	}
}
