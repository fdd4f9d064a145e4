// Package tag defines shared slog attribute constructors.
package tag

import (
	"log/slog"
	"time"
)

func Error(err error) slog.Attr {
	if err != nil {
		return slog.String("error", err.Error())
	}
	return slog.String("error", "")
}

func Job(id string) slog.Attr {
	return slog.String("job_id", id)
}

func Connector(id string) slog.Attr {
	return slog.String("connector_id", id)
}

func Period(key string) slog.Attr {
	return slog.String("period", key)
}

func Delivery(id string) slog.Attr {
	return slog.String("delivery_id", id)
}

func Series(key string) slog.Attr {
	return slog.String("series_key", key)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
