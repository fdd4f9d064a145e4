package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/MaherFSF/Yemenactr-sub010/internal/classify"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// classified tags fetched records using the text in field, which is either
// "series_key" or a metadata key.
type classified struct {
	plugin.Connector
	classifier *classify.Classifier
	field      string
}

func (c *classified) Timeout() time.Duration {
	if tc, ok := c.Connector.(plugin.TimeoutConnector); ok {
		return tc.Timeout()
	}
	return 0
}

func (c *classified) Fetch(ctx context.Context, periodStart, periodEnd time.Time) (*plugin.FetchResult, error) {
	res, err := c.Connector.Fetch(ctx, periodStart, periodEnd)
	if err != nil || res == nil {
		return res, err
	}
	for i := range res.Records {
		rec := &res.Records[i]
		text := rec.SeriesKey
		if c.field != "series_key" {
			v, ok := rec.Metadata[c.field]
			if !ok {
				continue
			}
			text = fmt.Sprint(v)
		}
		tag := c.classifier.Classify(text)
		if tag == "" {
			continue
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		rec.Metadata["event_type"] = tag
	}
	return res, nil
}
