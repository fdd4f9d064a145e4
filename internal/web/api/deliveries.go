package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

var deliveryStatuses = []store.DeliveryStatus{
	store.DeliveryPending,
	store.DeliveryDelivered,
	store.DeliveryFailed,
	store.DeliveryAbandoned,
}

type deliveryResponse struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Status         string          `json:"status"`
	AttemptNumber  int             `json:"attempt_number"`
	MaxAttempts    int             `json:"max_attempts"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func deliveryToResponse(d *store.DeliveryJob) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Status:         string(d.Status),
		AttemptNumber:  d.AttemptNumber,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
		LastStatusCode: d.LastStatusCode,
		LastError:      d.LastError,
		Payload:        d.Payload,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if a.Deliveries == nil {
		unavailable(w, "delivery store")
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" && !lo.Contains(deliveryStatuses, store.DeliveryStatus(status)) {
		writeError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}
	deliveries, err := a.Deliveries.ListDeliveries(r.Context(), store.ListOpts{
		Status: status,
		Limit:  intParam(r, "limit", 100),
		Offset: intParam(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(deliveries, func(d *store.DeliveryJob, _ int) deliveryResponse {
		return deliveryToResponse(d)
	}))
}
