package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Body is the JSON document POSTed to subscribers.
type Body struct {
	Event     string    `json:"event"`
	Result    any       `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher turns events into queued deliveries, one per matching
// subscription.
type Dispatcher struct {
	engine *Engine
}

func NewDispatcher(e *Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// Matches reports whether sub wants events of eventType.
func Matches(sub *store.Subscription, eventType string) bool {
	if sub.RevokedAt != nil {
		return false
	}
	return lo.Contains(sub.EventTypes, eventType) || lo.Contains(sub.EventTypes, "*")
}

// Notify enqueues ev for every active subscription that wants it and kicks
// the engine.
func (d *Dispatcher) Notify(ctx context.Context, ev plugin.Event) error {
	subs, err := d.engine.store.ListSubscriptions(ctx, false)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	matched := lo.Filter(subs, func(s *store.Subscription, _ int) bool {
		return Matches(s, ev.Type)
	})
	if len(matched) == 0 {
		return nil
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.engine.now()
	}
	payload, err := json.Marshal(Body{Event: ev.Type, Result: ev.Result, Timestamp: ev.Timestamp.UTC()})
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}

	cfg := d.engine.cfg
	now := d.engine.now().UTC()
	var errs []error
	for _, sub := range matched {
		job := &store.DeliveryJob{
			SubscriptionID: sub.ID,
			EventType:      ev.Type,
			Payload:        payload,
			AttemptNumber:  1,
			MaxAttempts:    cfg.MaxAttempts,
			BackoffBase:    cfg.BackoffBase,
			TimeoutMs:      cfg.TimeoutMs,
			Status:         store.DeliveryPending,
			NextAttemptAt:  now,
			CreatedAt:      now,
		}
		if err := d.engine.store.EnqueueDelivery(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueue for %s: %w", sub.ID, err))
		}
	}
	d.engine.Kick()
	return errors.Join(errs...)
}
