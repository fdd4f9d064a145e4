// Package connector resolves configured data sources by id.
package connector

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// ErrUnknownConnector is returned by Get for ids that were never registered.
var ErrUnknownConnector = errors.New("unknown connector")

// Registry is a concurrency-safe set of connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]plugin.Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]plugin.Connector)}
}

// Register adds c. Ids must be unique.
func (r *Registry) Register(c plugin.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[c.ID()]; ok {
		return fmt.Errorf("connector %q already registered", c.ID())
	}
	r.connectors[c.ID()] = c
	return nil
}

func (r *Registry) Get(id string) (plugin.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, id)
	}
	return c, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.connectors)
	slices.Sort(ids)
	return ids
}

// Close closes every connector and joins their errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, c := range r.connectors {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
