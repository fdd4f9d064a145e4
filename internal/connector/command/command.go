// Package command runs an external program as a connector. The program
// receives the period in INGEST_PERIOD_START and INGEST_PERIOD_END and
// writes one JSON record per stdout line.
package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MaherFSF/Yemenactr-sub010/internal/runner"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Config holds the command connector settings.
type Config struct {
	Command    string            `mapstructure:"command"`
	WorkingDir string            `mapstructure:"working_dir"`
	Env        map[string]string `mapstructure:"env"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Source     string            `mapstructure:"source"`
}

// line is the wire shape of one stdout record. A line carrying only "error"
// reports a per-record problem.
type line struct {
	SeriesKey string         `json:"series_key"`
	Period    string         `json:"period"`
	Value     *float64       `json:"value"`
	Unit      string         `json:"unit"`
	Metadata  map[string]any `json:"metadata"`
	Error     string         `json:"error"`
}

// Connector runs Config.Command once per period.
type Connector struct {
	id  string
	cfg Config
}

// New validates cfg and returns a Connector.
func New(id string, cfg Config) (*Connector, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("command is required")
	}
	// Config keys arrive lowercased; environment names are conventionally upper.
	if len(cfg.Env) > 0 {
		env := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			env[strings.ToUpper(k)] = v
		}
		cfg.Env = env
	}
	return &Connector{id: id, cfg: cfg}, nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Timeout() time.Duration { return c.cfg.Timeout }

func (c *Connector) Close() error { return nil }

// Fetch runs the command and parses its stdout. A non-zero exit fails the
// whole period; malformed lines are reported individually.
func (c *Connector) Fetch(ctx context.Context, periodStart, periodEnd time.Time) (*plugin.FetchResult, error) {
	res, err := runner.Run(ctx, c.cfg.Command, runner.Invocation{
		ConnectorID: c.id,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Env:         c.cfg.Env,
		Dir:         c.cfg.WorkingDir,
	}, 0)
	if err != nil {
		stderr := strings.TrimSpace(res.Stderr)
		if len(stderr) > 512 {
			stderr = stderr[len(stderr)-512:]
		}
		return nil, fmt.Errorf("%w: %s", err, stderr)
	}
	return parseLines(res.Stdout, c.cfg.Source), nil
}

func parseLines(data []byte, source string) *plugin.FetchResult {
	out := &plugin.FetchResult{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("line %d: %v", n, err))
			continue
		}
		if l.Error != "" {
			out.Errors = append(out.Errors, fmt.Sprintf("line %d: %s", n, l.Error))
			continue
		}
		if l.Value == nil {
			out.Errors = append(out.Errors, fmt.Sprintf("line %d: missing value", n))
			continue
		}
		period, err := parsePeriod(l.Period)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("line %d: %v", n, err))
			continue
		}
		out.Records = append(out.Records, plugin.Record{
			SeriesKey: l.SeriesKey,
			Period:    period,
			Value:     *l.Value,
			Unit:      l.Unit,
			Source:    source,
			Metadata:  l.Metadata,
		})
	}
	if err := sc.Err(); err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("read stdout: %v", err))
	}
	return out
}

func parsePeriod(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01", "2006"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised period %q", s)
}
