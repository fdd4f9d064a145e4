package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/internal/logger/tag"
	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
)

var authTypes = []string{"none", "bearer", "api_key"}

type subscriptionRequest struct {
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	AuthType   string            `json:"auth_type"`
	AuthToken  string            `json:"auth_token"`
	Headers    map[string]string `json:"headers"`
}

// subscriptionResponse never carries the auth token.
type subscriptionResponse struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	AuthType   string            `json:"auth_type"`
	Headers    map[string]string `json:"headers,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	RevokedAt  *time.Time        `json:"revoked_at,omitempty"`
}

func subscriptionToResponse(s *store.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:         s.ID,
		URL:        s.URL,
		EventTypes: s.EventTypes,
		AuthType:   s.AuthType,
		Headers:    s.Headers,
		CreatedAt:  s.CreatedAt,
		RevokedAt:  s.RevokedAt,
	}
}

func (req *subscriptionRequest) validate() string {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "url must be an absolute http or https URL"
	}
	req.EventTypes = lo.Uniq(lo.Compact(req.EventTypes))
	if len(req.EventTypes) == 0 {
		return "event_types is required"
	}
	if req.AuthType == "" {
		req.AuthType = "none"
	}
	if !lo.Contains(authTypes, req.AuthType) {
		return "auth_type must be one of none, bearer, api_key"
	}
	if req.AuthType != "none" && req.AuthToken == "" {
		return "auth_token is required for " + req.AuthType
	}
	return ""
}

func (a *API) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if a.Subscriptions == nil {
		unavailable(w, "subscription store")
		return
	}
	subs, err := a.Subscriptions.ListSubscriptions(r.Context(), r.URL.Query().Get("include_revoked") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(subs, func(s *store.Subscription, _ int) subscriptionResponse {
		return subscriptionToResponse(s)
	}))
}

func (a *API) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if a.Subscriptions == nil {
		unavailable(w, "subscription store")
		return
	}
	var req subscriptionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	sub := &store.Subscription{
		URL:        strings.TrimSpace(req.URL),
		EventTypes: req.EventTypes,
		AuthType:   req.AuthType,
		AuthToken:  req.AuthToken,
		Headers:    req.Headers,
	}
	if err := a.Subscriptions.CreateSubscription(r.Context(), sub); err != nil {
		a.log(r).Error("failed to create subscription", tag.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}
	a.log(r).Info("subscription created", slogID(sub.ID), "url", sub.URL)
	writeJSON(w, http.StatusCreated, subscriptionToResponse(sub))
}

func (a *API) handleRevokeSubscription(w http.ResponseWriter, r *http.Request) {
	if a.Subscriptions == nil {
		unavailable(w, "subscription store")
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Subscriptions.RevokeSubscription(r.Context(), id, time.Now().UTC()); err != nil {
		writeError(w, statusFromError(err), err.Error())
		return
	}
	a.log(r).Info("subscription revoked", slogID(id))
	w.WriteHeader(http.StatusNoContent)
}
