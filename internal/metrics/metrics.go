// Package metrics exposes Prometheus collectors for the ingestion core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingestd"

// Metrics holds every collector on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	JobRuns            *prometheus.CounterVec
	BackfillPeriods    *prometheus.CounterVec
	RecordsWritten     *prometheus.CounterVec
	RecordsRejected    *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	DeliveryLatency    prometheus.Histogram
	AlertNotifications *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BackfillPeriods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_periods_total",
			Help:      "Backfill periods by connector and status.",
		}, []string{"connector", "status"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Series points upserted by connector.",
		}, []string{"connector"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records rejected by validation by connector.",
		}, []string{"connector"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_seconds",
			Help:      "Webhook delivery round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_notifications_total",
			Help:      "Alert notifications emitted by event type.",
		}, []string{"event"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobRuns,
		m.BackfillPeriods,
		m.RecordsWritten,
		m.RecordsRejected,
		m.Deliveries,
		m.DeliveryLatency,
		m.AlertNotifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) JobRun(kind, outcome string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Period(connector, status string) {
	if m == nil {
		return
	}
	m.BackfillPeriods.WithLabelValues(connector, status).Inc()
}

func (m *Metrics) Written(connector string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsWritten.WithLabelValues(connector).Add(float64(n))
}

func (m *Metrics) Rejected(connector string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsRejected.WithLabelValues(connector).Add(float64(n))
}

func (m *Metrics) Delivery(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryLatency.Observe(seconds)
}

func (m *Metrics) AlertNotified(event string) {
	if m == nil {
		return
	}
	m.AlertNotifications.WithLabelValues(event).Inc()
}
