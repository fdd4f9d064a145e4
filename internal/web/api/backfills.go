package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MaherFSF/Yemenactr-sub010/internal/backfill"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
)

type backfillRequest struct {
	Connectors   []string `json:"connectors"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Granularity  string   `json:"granularity"`
	SkipExisting *bool    `json:"skip_existing"`
	Validate     *bool    `json:"validate"`
	BatchSize    int      `json:"batch_size"`
}

// parseBound accepts "2023", "2023-04", "2023-04-05" or RFC 3339.
func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006", "2006-01", "2006-01-02", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised period %q", s)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (a *API) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if a.Backfill == nil {
		unavailable(w, "backfill")
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := parseBound(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := parseBound(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	var g period.Granularity
	if req.Granularity != "" {
		if g, err = period.Parse(req.Granularity); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// A started backfill finishes even if the client goes away.
	res, err := a.Backfill.Backfill(context.WithoutCancel(r.Context()), req.Connectors, start, end, backfill.Options{
		SkipExisting: boolOr(req.SkipExisting, true),
		Validate:     boolOr(req.Validate, true),
		BatchSize:    req.BatchSize,
		Granularity:  g,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type progressResponse struct {
	Period    string    `json:"period"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	if a.Progress == nil {
		unavailable(w, "progress store")
		return
	}
	rows, err := a.Progress.ListProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list progress")
		return
	}
	out := make([]progressResponse, 0, len(rows))
	for _, p := range rows {
		out = append(out, progressResponse{
			Period:    p.Period,
			Status:    string(p.Status),
			Error:     p.Error,
			UpdatedAt: p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
