package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Factory creates an unconnected adapter.
type Factory func(*slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[core.Engine]Factory)
)

// Register adds an adapter factory to the registry.
// Called by adapter implementations in their init() functions.
func Register(e core.Engine, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[e] = factory
}

// Get retrieves an adapter factory by engine name or alias.
func Get(name string) (Factory, bool) {
	e, err := core.ParseEngine(name)
	if err != nil {
		return nil, false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[e]
	return f, ok
}

// NewAdapter creates a new adapter instance based on config type.
// A nil logger discards.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{
			Type:      cfg.Type,
			Available: ListAdapters(),
		}
	}
	return factory(logger), nil
}

// ListAdapters returns all registered adapter names (sorted).
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for e := range registry {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an adapter type is registered.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check your target.type in gridsql.yaml", e.Type, e.Available)
}
