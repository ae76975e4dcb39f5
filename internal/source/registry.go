package source

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the registration and retrieval of source connectors.
type Registry struct {
	connectors map[string]Connector
	mu         sync.RWMutex
}

// NewRegistry creates a new connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register registers a source connector.
// If a connector for the same source type is already registered, it will be replaced.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors[c.Name()] = c
}

// Get retrieves a registered connector by source type.
// Returns ErrConnectorNotFound if the connector is not registered.
func (r *Registry) Get(sourceType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.connectors[sourceType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, sourceType)
	}

	return c, nil
}

// IsRegistered checks if a connector is registered for the given source type.
func (r *Registry) IsRegistered(sourceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.connectors[sourceType]
	return exists
}

// ListRegistered returns the registered source types in stable order.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.connectors))
	for sourceType := range r.connectors {
		types = append(types, sourceType)
	}
	sort.Strings(types)

	return types
}

// Unregister removes a connector from the registry.
func (r *Registry) Unregister(sourceType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connectors, sourceType)
}
