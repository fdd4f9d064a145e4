// Package realtime fans events out to in-process subscribers such as SSE
// streams.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Event is one message pushed to stream clients.
type Event struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source,omitempty"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

type subscriber struct {
	ch    chan Event
	types []string
}

// Broker is an in-memory fan-out bus.
type Broker struct {
	mu     sync.RWMutex
	nextID atomic.Int64
	nextCh int64
	subs   map[int64]*subscriber
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int64]*subscriber),
	}
}

// Publish broadcasts an event to all matching subscribers.
// Slow subscribers drop events instead of blocking producers.
func (b *Broker) Publish(evt Event) {
	evt.ID = b.nextID.Add(1)
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if len(s.types) > 0 && !lo.Contains(s.types, evt.Type) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Notify publishes an ingestion or alert event.
func (b *Broker) Notify(_ context.Context, ev plugin.Event) error {
	b.Publish(Event{Type: ev.Type, Source: ev.Source, Data: ev.Result, At: ev.Timestamp})
	return nil
}

// Subscribe registers a subscriber for the given event types, or all types
// when none are given. It returns the event channel and a cancel func.
func (b *Broker) Subscribe(types ...string) (<-chan Event, func()) {
	id := atomic.AddInt64(&b.nextCh, 1)
	s := &subscriber{ch: make(chan Event, 32), types: types}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c.ch)
		}
	}

	return s.ch, cancel
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
