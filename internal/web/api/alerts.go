package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

type alertResponse struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"rule_id"`
	SeriesKey        string     `json:"series_key"`
	FirstTriggeredAt time.Time  `json:"first_triggered_at"`
	LastTriggeredAt  time.Time  `json:"last_triggered_at"`
	LastNotifiedAt   time.Time  `json:"last_notified_at"`
	LastValue        float64    `json:"last_value"`
	Acknowledged     bool       `json:"acknowledged"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

func alertToResponse(al *store.Alert) alertResponse {
	return alertResponse{
		ID:               al.ID,
		RuleID:           al.RuleID,
		SeriesKey:        al.SeriesKey,
		FirstTriggeredAt: al.FirstTriggeredAt,
		LastTriggeredAt:  al.LastTriggeredAt,
		LastNotifiedAt:   al.LastNotifiedAt,
		LastValue:        al.LastValue,
		Acknowledged:     al.Acknowledged,
		ClosedAt:         al.ClosedAt,
	}
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if a.Alerts == nil {
		unavailable(w, "alert store")
		return
	}
	alerts, err := a.Alerts.ListAlerts(r.Context(), r.URL.Query().Get("open") == "true", intParam(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(alerts, func(al *store.Alert, _ int) alertResponse {
		return alertToResponse(al)
	}))
}

func (a *API) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	if a.Acknowledger == nil {
		unavailable(w, "alerting")
		return
	}
	al, err := a.Acknowledger.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alertToResponse(al))
}
