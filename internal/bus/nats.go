// Package bus publishes events to NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

const DefaultSubjectPrefix = "ingestd.events"

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends every event to "<prefix>.<event type>".
type Publisher struct {
	nc     *nats.Conn
	conn   conn
	prefix string
}

func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("ingestd"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := newPublisher(nc, prefix)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string) *Publisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: c, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Notify publishes ev as JSON.
func (p *Publisher) Notify(_ context.Context, ev plugin.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
