package plugin

import "time"

// Event types raised by the core.
const (
	EventIngestionCompleted = "ingestion.completed"
	EventBackfillCompleted  = "backfill.completed"
	EventAlertTriggered     = "alert.triggered"
	EventAlertResolved      = "alert.resolved"
)

// Record is a single observation returned by a connector.
type Record struct {
	SeriesKey string         `json:"series_key"`
	Period    time.Time      `json:"period"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FetchResult holds the records returned for one period together with any
// per-record problems the connector chose to report instead of failing.
type FetchResult struct {
	Records []Record
	Errors  []string
}

// Event is a notification about an ingestion outcome or an alert transition.
type Event struct {
	Type      string    `json:"event"`
	Source    string    `json:"source,omitempty"`
	Result    any       `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}
