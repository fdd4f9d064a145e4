// Package period implements calendar period arithmetic for ingestion ranges.
package period

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of one ingestion period.
type Granularity string

const (
	Year  Granularity = "year"
	Month Granularity = "month"
	Day   Granularity = "day"
)

// Parse validates a granularity name. An empty string yields Year.
func Parse(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Year:
		return Year, nil
	case Month:
		return Month, nil
	case Day:
		return Day, nil
	default:
		return "", fmt.Errorf("unsupported granularity %q", s)
	}
}

// Truncate returns the start of the period containing t, in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// Shift moves the period start by n periods.
func (g Granularity) Shift(start time.Time, n int) time.Time {
	start = g.Truncate(start)
	switch g {
	case Month:
		return start.AddDate(0, n, 0)
	case Day:
		return start.AddDate(0, 0, n)
	default:
		return start.AddDate(n, 0, 0)
	}
}

// Next returns the start of the period after the one containing t.
func (g Granularity) Next(t time.Time) time.Time {
	return g.Shift(t, 1)
}

// Key renders the canonical key for the period containing t:
// "2023", "2023-04" or "2023-04-05".
func (g Granularity) Key(t time.Time) string {
	t = g.Truncate(t)
	switch g {
	case Month:
		return t.Format("2006-01")
	case Day:
		return t.Format("2006-01-02")
	default:
		return t.Format("2006")
	}
}

// ParseKey is the inverse of Key.
func (g Granularity) ParseKey(key string) (time.Time, error) {
	layout := "2006"
	switch g {
	case Month:
		layout = "2006-01"
	case Day:
		layout = "2006-01-02"
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(key), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s period %q: %w", g, key, err)
	}
	return t, nil
}

// Range enumerates period starts from the period containing start through
// the period containing end, both inclusive. It returns nil if end precedes
// start.
func Range(g Granularity, start, end time.Time) []time.Time {
	from := g.Truncate(start)
	to := g.Truncate(end)
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for p := from; !p.After(to); p = g.Next(p) {
		out = append(out, p)
	}
	return out
}
