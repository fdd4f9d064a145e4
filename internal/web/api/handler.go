// Package api implements the administrative JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/logger"
	"github.com/MaherFSF/Yemenactr-sub010/internal/realtime"
	"github.com/MaherFSF/Yemenactr-sub010/internal/scheduler"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

// Runner triggers jobs and reads their history.
type Runner interface {
	TriggerNow(ctx context.Context, jobID string) (*store.RunRecord, error)
	RunHistory(ctx context.Context, jobID string, limit int) ([]*store.RunRecord, error)
}

// Backfiller runs ad-hoc backfills.
type Backfiller interface {
	Backfill(ctx context.Context, connectorIDs []string, start, end time.Time, opts backfill.Options) (*backfill.Result, error)
}

// Acknowledger acknowledges open alerts.
type Acknowledger interface {
	Acknowledge(ctx context.Context, alertID string) (*store.Alert, error)
}

// API holds dependencies for all API handlers. Nil dependencies make the
// matching endpoints answer 503.
type API struct {
	Jobs          store.JobStore
	Runner        Runner
	Backfill      Backfiller
	Progress      store.ProgressStore
	Subscriptions store.SubscriptionStore
	Deliveries    store.DeliveryStore
	Alerts        store.AlertStore
	Acknowledger  Acknowledger
	Events        *realtime.Broker
}

// Routes registers the request/response endpoints on r. The event stream is
// registered separately through Stream so it can bypass request timeouts.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.handleHealth)

	r.Get("/jobs", a.handleListJobs)
	r.Get("/jobs/{id}", a.handleGetJob)
	r.Put("/jobs/{id}/enable", a.handleEnableJob)
	r.Put("/jobs/{id}/disable", a.handleDisableJob)
	r.Get("/jobs/{id}/runs", a.handleListRuns)

	r.Get("/connectors/{id}/progress", a.handleProgress)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", a.handleListSubscriptions)
		r.Post("/", a.handleCreateSubscription)
		r.Delete("/{id}", a.handleRevokeSubscription)
	})

	r.Get("/deliveries", a.handleListDeliveries)

	r.Get("/alerts", a.handleListAlerts)
	r.Post("/alerts/{id}/ack", a.handleAckAlert)
}

// RunRoutes registers the endpoints that run ingestion work to completion.
// They must not be mounted behind a request timeout.
func (a *API) RunRoutes(r chi.Router) {
	r.Post("/jobs/{id}/run", a.handleTriggerRun)
	r.Post("/backfills", a.handleBackfill)
}

// log returns the request-scoped logger.
func (a *API) log(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func slogID(id string) slog.Attr { return slog.String("id", id) }

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" unavailable")
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// intParam reads a non-negative integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
