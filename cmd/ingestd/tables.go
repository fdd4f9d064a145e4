package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

var backfillHeader = table.Row{
	"Connector",
	"Written",
	"Rejected",
	"Succeeded",
	"Skipped",
	"Failed",
	"Errors",
	"Duration",
}

func renderBackfill(w io.Writer, res *backfill.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Backfill %s to %s", res.StartPeriod, res.EndPeriod))
	t.AppendHeader(backfillHeader)
	for _, c := range res.Connectors {
		t.AppendRow(table.Row{
			c.ConnectorID,
			c.RecordsWritten,
			c.RecordsRejected,
			len(c.PeriodsSucceeded),
			len(c.PeriodsSkipped),
			strings.Join(c.PeriodsFailed, ","),
			c.ErrorCount,
			time.Duration(c.DurationMs) * time.Millisecond,
		})
	}
	t.AppendFooter(table.Row{"total", res.RecordsWritten(), "", "", "", "", res.ErrorCount(), time.Duration(res.DurationMs) * time.Millisecond})
	t.Render()

	for _, c := range res.Connectors {
		for _, e := range c.Errors {
			fmt.Fprintf(w, "%s: %s\n", c.ConnectorID, e)
		}
	}
}

var runHeader = table.Row{
	"Run",
	"Trigger",
	"Started At",
	"Finished At",
	"Outcome",
	"Records",
	"Error",
}

func renderRuns(w io.Writer, runs []*store.RunRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(runHeader)
	for _, r := range runs {
		firstErr := ""
		if len(r.ErrorSummaries) > 0 {
			firstErr = truncate(r.ErrorSummaries[0], 60)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Trigger,
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			r.Outcome,
			r.RecordsWritten,
			firstErr,
		})
	}
	t.Render()
}

var deliveryHeader = table.Row{
	"Delivery",
	"Subscription",
	"Event",
	"Status",
	"Attempt",
	"Next Attempt",
	"Last Status",
	"Last Error",
}

func renderDeliveries(w io.Writer, deliveries []*store.DeliveryJob) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(deliveryHeader)
	for _, d := range deliveries {
		t.AppendRow(table.Row{
			d.ID,
			d.SubscriptionID,
			d.EventType,
			d.Status,
			fmt.Sprintf("%d/%d", d.AttemptNumber, d.MaxAttempts),
			formatTime(d.NextAttemptAt),
			d.LastStatusCode,
			truncate(d.LastError, 60),
		})
	}
	t.Render()
}
