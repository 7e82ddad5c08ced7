package dialect

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Dialect registry, keyed by engine.
var (
	dialectsMu sync.RWMutex
	dialects   = make(map[core.Engine]*Dialect)
)

// ErrDialectRequired is returned when a dialect is required but not provided.
var ErrDialectRequired = errors.New("dialect is required")

// Get returns the dialect registered for an engine.
func Get(e core.Engine) (*Dialect, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[e]
	return d, ok
}

// Lookup returns a dialect by engine name or alias.
func Lookup(name string) (*Dialect, error) {
	if name == "" {
		return nil, ErrDialectRequired
	}
	e, err := core.ParseEngine(name)
	if err != nil {
		return nil, err
	}
	d, ok := Get(e)
	if !ok {
		return nil, fmt.Errorf("dialect %s is not registered (missing import of pkg/dialects/%s?)", e, e)
	}
	return d, nil
}

// Register registers a dialect in the global registry.
// Called by dialect implementations in their init() functions.
func Register(d *Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[d.Engine()] = d
}

// List returns all registered dialect names (sorted).
func List() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for e := range dialects {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return names
}
