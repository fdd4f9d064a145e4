// Package httpjson fetches observations from a JSON HTTP endpoint.
package httpjson

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Config holds the HTTP connector settings. The period bounds are sent as the
// query parameters named by StartParam and EndParam.
type Config struct {
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	StartParam string            `mapstructure:"start_param"`
	EndParam   string            `mapstructure:"end_param"`
	DateLayout string            `mapstructure:"date_layout"`
	Source     string            `mapstructure:"source"`
	Timeout    time.Duration     `mapstructure:"timeout"`
}

type responseBody struct {
	Records []struct {
		SeriesKey string         `json:"series_key"`
		Period    time.Time      `json:"period"`
		Value     *float64       `json:"value"`
		Unit      string         `json:"unit"`
		Metadata  map[string]any `json:"metadata"`
	} `json:"records"`
	Errors []string `json:"errors"`
}

// Connector issues one GET per period.
type Connector struct {
	id     string
	cfg    Config
	client *resty.Client
}

// New validates cfg and builds the HTTP client.
func New(id string, cfg Config) (*Connector, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("url is required")
	}
	if cfg.StartParam == "" {
		cfg.StartParam = "start"
	}
	if cfg.EndParam == "" {
		cfg.EndParam = "end"
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = "2006-01-02"
	}
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetHeaders(cfg.Headers)
	return &Connector{id: id, cfg: cfg, client: client}, nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Timeout() time.Duration { return c.cfg.Timeout }

func (c *Connector) Close() error { return nil }

// Fetch requests the period and decodes {"records": [...], "errors": [...]}.
func (c *Connector) Fetch(ctx context.Context, periodStart, periodEnd time.Time) (*plugin.FetchResult, error) {
	var body responseBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam(c.cfg.StartParam, periodStart.UTC().Format(c.cfg.DateLayout)).
		SetQueryParam(c.cfg.EndParam, periodEnd.UTC().Format(c.cfg.DateLayout)).
		SetResult(&body).
		Get(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", c.cfg.URL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request %s: HTTP %d", c.cfg.URL, resp.StatusCode())
	}

	out := &plugin.FetchResult{Errors: body.Errors}
	for i, r := range body.Records {
		if r.Value == nil {
			out.Errors = append(out.Errors, fmt.Sprintf("record %d: missing value", i))
			continue
		}
		out.Records = append(out.Records, plugin.Record{
			SeriesKey: r.SeriesKey,
			Period:    r.Period.UTC(),
			Value:     *r.Value,
			Unit:      r.Unit,
			Source:    c.cfg.Source,
			Metadata:  r.Metadata,
		})
	}
	return out, nil
}
