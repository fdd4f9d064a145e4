package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaherFSF/Yemenactr-sub010/internal/store"
	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ingestd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, cfg, nil, nil), s
}

func TestBackoffSeconds(t *testing.T) {
	for attempt, want := range map[int]float64{1: 2, 2: 4, 3: 8, 4: 16} {
		assert.Equal(t, want, BackoffSeconds(2, attempt), "attempt %d", attempt)
	}
}

func TestConfiguredBackoffBase(t *testing.T) {
	e, _ := newTestEngine(t, Config{BackoffBase: 3})
	res := Result{ShouldRetry: true}
	e.applyRetryPolicy(&res, &store.DeliveryJob{AttemptNumber: 2, MaxAttempts: 5})
	assert.Equal(t, 9.0, res.NextRetryDelaySeconds)

	e, _ = newTestEngine(t, Config{})
	assert.Equal(t, DefaultBackoffBase, e.Config().BackoffBase)
}

func TestSendClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
		w.WriteHeader(code)
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, Config{SourceID: "ingestd"})
	job := &store.DeliveryJob{EventType: "ingestion.completed", AttemptNumber: 1, MaxAttempts: 5, BackoffBase: 2, Payload: []byte(`{}`)}

	tests := []struct {
		code    int
		success bool
		retry   bool
	}{
		{200, true, false},
		{204, true, false},
		{408, false, true},
		{429, false, true},
		{500, false, true},
		{502, false, true},
		{503, false, true},
		{504, false, true},
		{400, false, false},
		{401, false, false},
		{403, false, false},
		{404, false, false},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			sub := &store.Subscription{URL: srv.URL + "/" + strconv.Itoa(tt.code)}
			res := e.Send(context.Background(), sub, job)
			assert.Equal(t, tt.code, res.StatusCode)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.retry, res.ShouldRetry)
			if tt.retry {
				assert.Equal(t, 2.0, res.NextRetryDelaySeconds)
			} else {
				assert.Zero(t, res.NextRetryDelaySeconds)
			}
		})
	}
}

func TestSendHeadersAndAuth(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, _ := newTestEngine(t, Config{SourceID: "yemen-observatory"})
	job := &store.DeliveryJob{EventType: "alert.triggered", AttemptNumber: 3, Payload: []byte(`{"event":"alert.triggered"}`)}

	res := e.Send(context.Background(), &store.Subscription{
		URL:       srv.URL,
		AuthType:  "bearer",
		AuthToken: "s3cret",
		Headers: map[string]string{
			"X-Tenant":        "ops",
			"X-Webhook-Event": "spoofed",
			"Content-Type":    "text/plain",
		},
	}, job)
	require.True(t, res.Success)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "alert.triggered", got.Get(HeaderEvent))
	assert.Equal(t, "yemen-observatory", got.Get(HeaderSource))
	assert.Equal(t, "3", got.Get(HeaderAttempt))
	assert.Equal(t, "Bearer s3cret", got.Get("Authorization"))
	assert.Equal(t, "ops", got.Get("X-Tenant"))
	assert.JSONEq(t, `{"event":"alert.triggered"}`, string(body))

	res = e.Send(context.Background(), &store.Subscription{URL: srv.URL, AuthType: "api_key", AuthToken: "k-9"}, job)
	require.True(t, res.Success)
	assert.Equal(t, "k-9", got.Get(HeaderAPIKey))
	assert.Empty(t, got.Get("Authorization"))
}

func TestSendNetworkFailuresRetry(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closed.Close()
	job := &store.DeliveryJob{AttemptNumber: 2, MaxAttempts: 5, BackoffBase: 2, Payload: []byte(`{}`)}
	res := e.Send(context.Background(), &store.Subscription{URL: closed.URL}, job)
	assert.False(t, res.Success)
	assert.True(t, res.ShouldRetry)
	assert.Equal(t, 4.0, res.NextRetryDelaySeconds)
	assert.NotEmpty(t, res.Error)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	job = &store.DeliveryJob{AttemptNumber: 1, MaxAttempts: 5, BackoffBase: 2, TimeoutMs: 50, Payload: []byte(`{}`)}
	res = e.Send(context.Background(), &store.Subscription{URL: slow.URL}, job)
	assert.False(t, res.Success)
	assert.True(t, res.ShouldRetry)
	assert.Equal(t, 2.0, res.NextRetryDelaySeconds)
}

func TestSweepAbandonsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, s := newTestEngine(t, Config{})
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	sub := &store.Subscription{URL: srv.URL, EventTypes: []string{"*"}}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	job := &store.DeliveryJob{
		SubscriptionID: sub.ID,
		EventType:      "ingestion.completed",
		Payload:        []byte(`{}`),
		MaxAttempts:    3,
		BackoffBase:    2,
		CreatedAt:      base,
	}
	require.NoError(t, s.EnqueueDelivery(ctx, job))

	later := base.Add(time.Hour)
	for i := 0; i < 2; i++ {
		stats, err := e.Sweep(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Rescheduled)
	}
	got, err := s.GetDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptNumber)
	assert.True(t, base.Add(4*time.Second).Equal(got.NextAttemptAt))

	stats, err := e.Sweep(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Abandoned)

	stats, err = e.Sweep(ctx, later.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Abandoned+stats.Rescheduled+stats.Delivered+stats.Failed)
	assert.EqualValues(t, 3, hits.Load(), "never a fourth attempt")

	got, err = s.GetDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryAbandoned, got.Status)
	assert.Equal(t, 503, got.LastStatusCode)

	abandoned, err := s.ListDeliveries(ctx, store.ListOpts{Status: string(store.DeliveryAbandoned)})
	require.NoError(t, err)
	assert.Len(t, abandoned, 1)
}

func TestSweepMarksClientErrorsFailed(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e, s := newTestEngine(t, Config{})
	sub := &store.Subscription{URL: srv.URL, EventTypes: []string{"*"}}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	job := &store.DeliveryJob{SubscriptionID: sub.ID, EventType: "x", Payload: []byte(`{}`), MaxAttempts: 5, BackoffBase: 2}
	require.NoError(t, s.EnqueueDelivery(ctx, job))

	stats, err := e.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := s.GetDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryFailed, got.Status)
	assert.Equal(t, 1, got.AttemptNumber)
}

func TestDeliverRevokedSubscription(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t, Config{})
	sub := &store.Subscription{URL: "http://127.0.0.1:1", EventTypes: []string{"*"}}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	require.NoError(t, s.RevokeSubscription(ctx, sub.ID, time.Now()))

	res := e.Deliver(ctx, &store.DeliveryJob{SubscriptionID: sub.ID, AttemptNumber: 1, MaxAttempts: 5})
	assert.False(t, res.Success)
	assert.False(t, res.ShouldRetry)
	assert.Contains(t, res.Error, "revoked")
}

func TestDispatcherFansOutToMatchingSubscriptions(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	bodies := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.URL.Path] = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, s := newTestEngine(t, Config{SourceID: "ingestd"})
	for _, sub := range []*store.Subscription{
		{URL: srv.URL + "/exact", EventTypes: []string{plugin.EventBackfillCompleted}},
		{URL: srv.URL + "/wildcard", EventTypes: []string{"*"}},
		{URL: srv.URL + "/other", EventTypes: []string{plugin.EventAlertTriggered}},
	} {
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}
	revoked := &store.Subscription{URL: srv.URL + "/revoked", EventTypes: []string{"*"}}
	require.NoError(t, s.CreateSubscription(ctx, revoked))
	require.NoError(t, s.RevokeSubscription(ctx, revoked.ID, time.Now()))

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := NewDispatcher(e)
	require.NoError(t, d.Notify(ctx, plugin.Event{
		Type:      plugin.EventBackfillCompleted,
		Result:    map[string]int{"records_written": 10},
		Timestamp: ts,
	}))

	pending, err := s.ListDeliveries(ctx, store.ListOpts{Status: string(store.DeliveryPending)})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 5, pending[0].MaxAttempts)
	assert.Equal(t, 10000, pending[0].TimeoutMs)

	stats, err := e.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)

	require.Len(t, bodies, 2)
	var body Body
	require.NoError(t, json.Unmarshal([]byte(bodies["/exact"]), &body))
	assert.Equal(t, plugin.EventBackfillCompleted, body.Event)
	assert.True(t, ts.Equal(body.Timestamp))
	assert.Equal(t, bodies["/exact"], bodies["/wildcard"])
}

func TestKickIsNonBlocking(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	e.Kick()
	e.Kick()
	assert.Len(t, e.kick, 1)
}

func TestSweepShutdownKeepsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, s := newTestEngine(t, Config{})
	sub := &store.Subscription{URL: srv.URL, EventTypes: []string{"*"}}
	require.NoError(t, s.CreateSubscription(context.Background(), sub))
	job := &store.DeliveryJob{SubscriptionID: sub.ID, EventType: "x", Payload: []byte(`{}`), MaxAttempts: 3, BackoffBase: 2, TimeoutMs: 5000}
	require.NoError(t, s.EnqueueDelivery(context.Background(), job))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	stats, err := e.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)

	got, err := s.GetDelivery(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryDelivered, got.Status)
	assert.Equal(t, 1, got.AttemptNumber)
}
