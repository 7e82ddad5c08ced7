package dag

import (
	"fmt"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
)

// FromTables builds the dependency graph of every column of tables.
//
// Formulas depend on the columns they reference, lookups and rollups on
// their relation column and on the far column they read, and QR codes and
// barcodes on the column they encode. References that do not resolve are
// skipped; compiling the column reports them.
func FromTables(tables []*core.Table) (*Graph, error) {
	g := NewGraph()
	byID := make(map[string]*core.Column)
	for _, t := range tables {
		for _, c := range t.Columns {
			g.AddNode(c)
			byID[c.ID] = c
		}
	}

	link := func(parentID string, child *core.Column) error {
		if _, ok := byID[parentID]; !ok || parentID == child.ID {
			return nil
		}
		return g.AddEdge(parentID, child.ID)
	}

	for _, t := range tables {
		for _, c := range t.Columns {
			var deps []string
			switch {
			case c.Formula != nil && len(c.Formula.Tree) > 0:
				tree, err := formula.Decode(c.Formula.Tree)
				if err != nil {
					continue
				}
				for _, name := range formula.References(tree) {
					if ref := match(t, name); ref != nil {
						deps = append(deps, ref.ID)
					}
				}
			case c.Lookup != nil:
				deps = []string{c.Lookup.RelationColumnID, c.Lookup.TargetColumnID}
			case c.Rollup != nil:
				deps = []string{c.Rollup.RelationColumnID, c.Rollup.TargetColumnID}
			case c.Code != nil:
				deps = []string{c.Code.ValueColumnID}
			}
			for _, id := range deps {
				if err := link(id, c); err != nil {
					return nil, fmt.Errorf("failed to add dependency of %s: %w", c.ID, err)
				}
			}
		}
	}
	return g, nil
}

// match resolves a formula identifier by column id, then title, then name.
func match(t *core.Table, name string) *core.Column {
	if c := t.Column(name); c != nil {
		return c
	}
	for _, c := range t.Columns {
		if c.Title == name {
			return c
		}
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}
