package signal

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/metrics"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

const DefaultCooldown = time.Hour

// Notification is the result payload of alert events.
type Notification struct {
	AlertID          string     `json:"alert_id"`
	RuleID           string     `json:"rule_id"`
	SeriesKey        string     `json:"series_key"`
	Comparator       string     `json:"comparator"`
	Threshold        float64    `json:"threshold"`
	Value            float64    `json:"value"`
	Period           time.Time  `json:"period"`
	FirstTriggeredAt time.Time  `json:"first_triggered_at"`
	LastTriggeredAt  time.Time  `json:"last_triggered_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	Repeat           bool       `json:"repeat,omitempty"`
}

// Config holds detector defaults.
type Config struct {
	DefaultCooldown time.Duration
	SourceID        string
}

// Detector evaluates rules and maintains open alerts. Evaluations are
// serialised so concurrent runs cannot open two alerts for one rule.
type Detector struct {
	mu       sync.Mutex
	rules    map[string][]Rule
	alerts   store.AlertStore
	series   store.SeriesStore
	notifier plugin.Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewDetector(rules []Rule, alerts store.AlertStore, series store.SeriesStore, notifier plugin.Notifier, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Detector, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		rules:    lo.GroupBy(rules, func(r Rule) string { return r.SeriesKey }),
		alerts:   alerts,
		series:   series,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Rules returns every configured rule ordered by id.
func (d *Detector) Rules() []Rule {
	out := lo.Flatten(lo.Values(d.rules))
	slices.SortFunc(out, func(a, b Rule) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (d *Detector) cooldown(r Rule) time.Duration {
	if r.CooldownSeconds > 0 {
		return time.Duration(r.CooldownSeconds) * time.Second
	}
	return d.cfg.DefaultCooldown
}

// Evaluate applies every rule on seriesKey to the latest value at or before
// asOf and returns the alerts that are open and breaching afterwards.
func (d *Detector) Evaluate(ctx context.Context, seriesKey string, asOf time.Time) ([]*store.Alert, error) {
	rules := d.rules[seriesKey]
	if len(rules) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	point, err := d.series.LatestAsOf(ctx, seriesKey, asOf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", seriesKey, err)
	}
	if point == nil {
		return nil, nil
	}

	var (
		touched []*store.Alert
		errs    []error
	)
	for _, r := range rules {
		a, err := d.evaluateRule(ctx, r, point)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		if a != nil {
			touched = append(touched, a)
		}
	}
	return touched, errors.Join(errs...)
}

func (d *Detector) evaluateRule(ctx context.Context, r Rule, point *store.SeriesPoint) (*store.Alert, error) {
	open, err := d.alerts.GetOpenAlert(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("load open alert: %w", err)
	}
	now := d.now().UTC()
	log := d.logger.With(slog.String("rule_id", r.ID), tag.Series(r.SeriesKey))

	if !r.Compare(point.Value) {
		if open == nil {
			return nil, nil
		}
		if err := d.alerts.CloseAlert(ctx, open.ID, now); err != nil {
			return nil, fmt.Errorf("close alert: %w", err)
		}
		open.ClosedAt = &now
		open.LastValue = point.Value
		log.Info("alert resolved", slog.String("alert_id", open.ID), slog.Float64("value", point.Value))
		d.notify(ctx, plugin.EventAlertResolved, r, open, point, false)
		return nil, nil
	}

	if open == nil {
		a := &store.Alert{
			RuleID:           r.ID,
			SeriesKey:        r.SeriesKey,
			FirstTriggeredAt: now,
			LastTriggeredAt:  now,
			LastNotifiedAt:   now,
			LastValue:        point.Value,
		}
		if err := d.alerts.InsertAlert(ctx, a); err != nil {
			return nil, fmt.Errorf("open alert: %w", err)
		}
		log.Warn("alert triggered", slog.String("alert_id", a.ID), slog.Float64("value", point.Value), slog.Float64("threshold", r.Threshold))
		d.notify(ctx, plugin.EventAlertTriggered, r, a, point, false)
		return a, nil
	}

	open.LastTriggeredAt = now
	open.LastValue = point.Value
	renotify := now.Sub(open.LastNotifiedAt) >= d.cooldown(r)
	if renotify {
		open.LastNotifiedAt = now
	}
	if err := d.alerts.UpdateAlert(ctx, open); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	if renotify {
		log.Warn("alert still breaching", slog.String("alert_id", open.ID), slog.Float64("value", point.Value))
		d.notify(ctx, plugin.EventAlertTriggered, r, open, point, true)
	} else {
		log.Debug("alert suppressed during cooldown", slog.String("alert_id", open.ID))
	}
	return open, nil
}

// notify never fails the evaluation; the alert row is already persisted.
func (d *Detector) notify(ctx context.Context, event string, r Rule, a *store.Alert, point *store.SeriesPoint, repeat bool) {
	d.metrics.AlertNotified(event)
	if d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, plugin.Event{
		Type:   event,
		Source: d.cfg.SourceID,
		Result: Notification{
			AlertID:          a.ID,
			RuleID:           r.ID,
			SeriesKey:        r.SeriesKey,
			Comparator:       r.Comparator,
			Threshold:        r.Threshold,
			Value:            point.Value,
			Period:           point.Period,
			FirstTriggeredAt: a.FirstTriggeredAt,
			LastTriggeredAt:  a.LastTriggeredAt,
			ClosedAt:         a.ClosedAt,
			Repeat:           repeat,
		},
		Timestamp: d.now().UTC(),
	})
	if err != nil {
		d.logger.Error("alert notification", slog.String("alert_id", a.ID), tag.Error(err))
	}
}

// EvaluateKeys runs Evaluate for every key at its own as-of period.
func (d *Detector) EvaluateKeys(ctx context.Context, keys map[string]time.Time) ([]*store.Alert, error) {
	names := lo.Keys(keys)
	slices.Sort(names)
	var (
		out  []*store.Alert
		errs []error
	)
	for _, k := range names {
		alerts, err := d.Evaluate(ctx, k, keys[k])
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, alerts...)
	}
	return out, errors.Join(errs...)
}

// Acknowledge marks an open alert acknowledged, which also closes it.
func (d *Detector) Acknowledge(ctx context.Context, alertID string) (*store.Alert, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, err := d.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.ClosedAt != nil {
		return nil, store.ErrNotFound
	}
	now := d.now().UTC()
	if err := d.alerts.AcknowledgeAlert(ctx, alertID, now); err != nil {
		return nil, err
	}
	a.Acknowledged = true
	a.ClosedAt = &now
	d.logger.Info("alert acknowledged", slog.String("alert_id", a.ID), slog.String("rule_id", a.RuleID))
	return a, nil
}
