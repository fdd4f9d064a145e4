package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/realtime"
)

const heartbeatInterval = 20 * time.Second

// writeEvent renders evt in the text/event-stream framing.
func writeEvent(w io.Writer, evt realtime.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
	return err
}

// eventTypes parses ?types=alert.triggered,backfill.completed.
func eventTypes(r *http.Request) []string {
	return lo.Uniq(lo.Compact(lo.Map(strings.Split(r.URL.Query().Get("types"), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
}

// Stream serves ingestion and alert events as server-sent events until the
// client disconnects.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.Events == nil {
		unavailable(w, "realtime stream")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := a.Events.Subscribe(eventTypes(r)...)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	_, _ = fmt.Fprintf(w, "retry: %d\n: connected\n\n", (5 * time.Second).Milliseconds())
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				a.log(r).Debug("event stream closed", "error", err)
				return
			}
		}
		flusher.Flush()
	}
}
