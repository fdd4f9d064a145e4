package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNotifyPublishesOnTypedSubject(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "observatory.")

	ev := plugin.Event{Type: plugin.EventBackfillCompleted, Source: "ingestd", Result: map[string]int{"n": 1}, Timestamp: time.Unix(0, 0).UTC()}
	require.NoError(t, p.Notify(context.Background(), ev))
	assert.Equal(t, "observatory.backfill.completed", fc.subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.data, &got))
	assert.Equal(t, "backfill.completed", got["event"])
	assert.Equal(t, "ingestd", got["source"])
}

func TestDefaultPrefixAndErrors(t *testing.T) {
	fc := &fakeConn{err: errors.New("disconnected")}
	p := newPublisher(fc, "")
	assert.Equal(t, "ingestd.events.alert.triggered", p.Subject(plugin.EventAlertTriggered))

	err := p.Notify(context.Background(), plugin.Event{Type: plugin.EventAlertTriggered})
	assert.ErrorContains(t, err, "disconnected")
	p.Close()
}
