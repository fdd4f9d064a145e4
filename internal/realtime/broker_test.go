package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

func TestBrokerFiltersByType(t *testing.T) {
	b := NewBroker()
	all, cancelAll := b.Subscribe()
	defer cancelAll()
	alerts, cancelAlerts := b.Subscribe(plugin.EventAlertTriggered)
	defer cancelAlerts()
	assert.Equal(t, 2, b.Subscribers())

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.Notify(context.Background(), plugin.Event{Type: plugin.EventIngestionCompleted, Source: "s", Timestamp: ts}))
	require.NoError(t, b.Notify(context.Background(), plugin.Event{Type: plugin.EventAlertTriggered, Result: "x"}))

	first := <-all
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, plugin.EventIngestionCompleted, first.Type)
	assert.Equal(t, ts, first.At)
	second := <-all
	assert.Equal(t, plugin.EventAlertTriggered, second.Type)
	assert.False(t, second.At.IsZero())

	got := <-alerts
	assert.Equal(t, plugin.EventAlertTriggered, got.Type)
	assert.Equal(t, "x", got.Data)
	assert.Len(t, alerts, 0)
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())

	b.Publish(Event{Type: "after-cancel"})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()
	for i := 0; i < 40; i++ {
		b.Publish(Event{Type: "tick"})
	}
	assert.Len(t, ch, 32)
}
