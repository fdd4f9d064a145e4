package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface all connectors implement.
type Plugin interface {
	ID() string
	Close() error
}

// Connector fetches raw records from one external source for a period.
// periodStart is inclusive and periodEnd is exclusive.
type Connector interface {
	Plugin
	Fetch(ctx context.Context, periodStart, periodEnd time.Time) (*FetchResult, error)
}

// TimeoutConnector is implemented by connectors that define their own fetch
// deadline. Callers fall back to a default when it returns zero.
type TimeoutConnector interface {
	Connector
	Timeout() time.Duration
}

// Notifier receives ingestion and alert events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
