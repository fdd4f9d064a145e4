// Package events distributes ingestion and alert events to every sink.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Sink is a named notifier.
type Sink struct {
	Name     string
	Notifier plugin.Notifier
}

// Fanout calls every sink in order. A failing sink is logged and does not
// stop the others.
type Fanout struct {
	sinks  []Sink
	source string
	logger *slog.Logger
}

func NewFanout(source string, logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, source: source, logger: logger}
}

// Add appends a sink.
func (f *Fanout) Add(name string, n plugin.Notifier) {
	f.sinks = append(f.sinks, Sink{Name: name, Notifier: n})
}

// Notify stamps the source and delivers ev to every sink.
func (f *Fanout) Notify(ctx context.Context, ev plugin.Event) error {
	if ev.Source == "" {
		ev.Source = f.source
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notifier.Notify(ctx, ev); err != nil {
			f.logger.Error("event sink failed",
				slog.String("sink", s.Name),
				slog.String("event", ev.Type),
				tag.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
