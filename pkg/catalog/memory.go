// Package catalog provides core.Catalog implementations: an in-memory
// catalog loaded from schema files and a byte-budgeted cache in front of
// any other catalog.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Memory is a mutable in-memory catalog. It also serves as a formula error
// sink and a user roster, which makes it a complete backend for tests and
// for schema files.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string]*core.Table
	columns map[string]*core.Column
	users   map[string][]core.User
}

var (
	_ core.Catalog          = (*Memory)(nil)
	_ core.FormulaErrorSink = (*Memory)(nil)
	_ core.UserRoster       = (*Memory)(nil)
)

// NewMemory creates a catalog holding tables.
func NewMemory(tables ...*core.Table) *Memory {
	m := &Memory{
		tables:  make(map[string]*core.Table),
		columns: make(map[string]*core.Column),
		users:   make(map[string][]core.User),
	}
	for _, t := range tables {
		m.Add(t)
	}
	return m
}

// Add registers or replaces a table and indexes its columns. Columns get
// their TableID set.
func (m *Memory) Add(t *core.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.tables[t.ID]; ok {
		for _, c := range old.Columns {
			delete(m.columns, c.ID)
		}
	}
	m.tables[t.ID] = t
	for _, c := range t.Columns {
		c.TableID = t.ID
		m.columns[c.ID] = c
	}
}

// SetUsers replaces the roster of a base.
func (m *Memory) SetUsers(baseID string, users []core.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[baseID] = users
}

// Tables returns every table ordered by id.
func (m *Memory) Tables() []*core.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TableByName finds a table by id, physical name or title.
func (m *Memory) TableByName(name string) *core.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[name]; ok {
		return t
	}
	for _, t := range m.tables {
		if t.Name == name || t.Title == name {
			return t
		}
	}
	return nil
}

// Table implements core.Catalog.
func (m *Memory) Table(_ context.Context, id string) (*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables[id], nil
}

// Columns implements core.Catalog.
func (m *Memory) Columns(_ context.Context, tableID string) ([]*core.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[tableID]
	if !ok {
		return nil, nil
	}
	return t.Columns, nil
}

// Column implements core.Catalog.
func (m *Memory) Column(_ context.Context, id string) (*core.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.columns[id], nil
}

// RelationDescriptor implements core.Catalog.
func (m *Memory) RelationDescriptor(_ context.Context, columnID string) (*core.RelationDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.columns[columnID]; ok {
		return c.Relation, nil
	}
	return nil, nil
}

// LookupDescriptor implements core.Catalog.
func (m *Memory) LookupDescriptor(_ context.Context, columnID string) (*core.LookupDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.columns[columnID]; ok {
		return c.Lookup, nil
	}
	return nil, nil
}

// SetFormulaError implements core.FormulaErrorSink.
func (m *Memory) SetFormulaError(_ context.Context, columnID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[columnID]
	if !ok || c.Formula == nil {
		return &core.EndpointNotFoundError{ColumnID: columnID, What: "formula column"}
	}
	c.Formula.Error = msg
	return nil
}

// ListUsers implements core.UserRoster.
func (m *Memory) ListUsers(_ context.Context, baseID string) ([]core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.User(nil), m.users[baseID]...), nil
}
