package backfill

import (
	"time"
)

// ConnectorResult summarises one connector's pass over the period range.
type ConnectorResult struct {
	ConnectorID      string   `json:"connector_id"`
	RecordsWritten   int      `json:"records_written"`
	RecordsRejected  int      `json:"records_rejected"`
	PeriodsSucceeded []string `json:"periods_succeeded"`
	PeriodsSkipped   []string `json:"periods_skipped"`
	PeriodsFailed    []string `json:"periods_failed"`
	DurationMs       int64    `json:"duration_ms"`
	// Errors holds at most MaxErrors messages; ErrorCount is the full total.
	Errors     []string `json:"errors"`
	ErrorCount int      `json:"error_count"`
	Canceled   bool     `json:"canceled,omitempty"`

	// SeriesKeys maps every written series key to the latest period written.
	SeriesKeys map[string]time.Time `json:"-"`

	maxErrors int
}

func newConnectorResult(id string, maxErrors int) *ConnectorResult {
	return &ConnectorResult{
		ConnectorID:      id,
		PeriodsSucceeded: []string{},
		PeriodsSkipped:   []string{},
		PeriodsFailed:    []string{},
		Errors:           []string{},
		SeriesKeys:       make(map[string]time.Time),
		maxErrors:        maxErrors,
	}
}

func (r *ConnectorResult) addError(msg string) {
	r.ErrorCount++
	if len(r.Errors) < r.maxErrors {
		r.Errors = append(r.Errors, msg)
	}
}

func (r *ConnectorResult) merge(out *periodOutcome) {
	r.RecordsWritten += out.written
	r.RecordsRejected += out.rejected
	for _, msg := range out.errors {
		r.addError(msg)
	}
	for k, p := range out.keys {
		if cur, ok := r.SeriesKeys[k]; !ok || p.After(cur) {
			r.SeriesKeys[k] = p
		}
	}
}

// Result aggregates every connector of one backfill run.
type Result struct {
	StartPeriod string             `json:"start_period"`
	EndPeriod   string             `json:"end_period"`
	Connectors  []*ConnectorResult `json:"connectors"`
	DurationMs  int64              `json:"duration_ms"`
	Canceled    bool               `json:"canceled,omitempty"`
}

// RecordsWritten sums records written across connectors.
func (r *Result) RecordsWritten() int {
	n := 0
	for _, c := range r.Connectors {
		n += c.RecordsWritten
	}
	return n
}

// ErrorCount sums error counts across connectors.
func (r *Result) ErrorCount() int {
	n := 0
	for _, c := range r.Connectors {
		n += c.ErrorCount
	}
	return n
}

// SeriesKeys merges the written series keys of every connector.
func (r *Result) SeriesKeys() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, c := range r.Connectors {
		for k, p := range c.SeriesKeys {
			if cur, ok := out[k]; !ok || p.After(cur) {
				out[k] = p
			}
		}
	}
	return out
}

// AllPeriodsFailed reports whether no connector completed any period.
func (r *Result) AllPeriodsFailed() bool {
	for _, c := range r.Connectors {
		if len(c.PeriodsSucceeded) > 0 || len(c.PeriodsSkipped) > 0 {
			return false
		}
	}
	return true
}
