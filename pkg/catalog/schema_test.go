package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
)

func TestLoadSchemaFile(t *testing.T) {
	m, s, err := LoadSchemaFile(filepath.Join("..", "..", "testdata", "shop.yaml"))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "b_shop", s.BaseID)
	assert.Len(t, m.Tables(), 4)

	orders, err := m.Table(ctx, "t_orders")
	require.NoError(t, err)
	require.NotNil(t, orders)
	assert.Equal(t, "b_shop", orders.BaseID)
	assert.Equal(t, "or_id", orders.PrimaryKey().ID)

	col, err := m.Column(ctx, "or_shout")
	require.NoError(t, err)
	require.NotNil(t, col.Formula)
	assert.Equal(t, "t_orders", col.TableID)
	tree, err := formula.Decode(col.Formula.Tree)
	require.NoError(t, err)
	assert.True(t, formula.IsCall(tree, "UPPER"))

	rel, err := m.RelationDescriptor(ctx, "or_tags")
	require.NoError(t, err)
	assert.Equal(t, core.ManyToMany, rel.Kind)
	assert.Equal(t, "t_order_tags", rel.JunctionTableID)

	users, err := m.ListUsers(ctx, "b_shop")
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "Ada", users[0].DisplayName)
}

func TestLoadSchema_DefaultsColumnNames(t *testing.T) {
	m, _, err := LoadSchema(strings.NewReader(`
base_id: b1
tables:
  - id: t1
    name: things
    columns:
      - {id: label, uidt: SingleLineText}
      - id: l1
        uidt: Links
        relation: {type: hm, child_table_id: t1, child_column_id: label, parent_table_id: t1, parent_column_id: label}
`))
	require.NoError(t, err)
	label, _ := m.Column(context.Background(), "label")
	assert.Equal(t, "label", label.Name)
	// virtual columns have no physical name
	link, _ := m.Column(context.Background(), "l1")
	assert.Empty(t, link.Name)
}

func TestLoadSchema_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not yaml",
			yaml:    "tables: [",
			wantErr: "failed to parse schema",
		},
		{
			name:    "table without name",
			yaml:    "tables: [{id: t1, columns: []}]",
			wantErr: "invalid schema",
		},
		{
			name:    "column without type",
			yaml:    "tables: [{id: t1, name: t, columns: [{id: c1}]}]",
			wantErr: "invalid schema",
		},
		{
			name: "junction without columns",
			yaml: `tables: [{id: t1, name: t, columns: [{id: c1, uidt: LinkToAnotherRecord,
  relation: {type: mm, child_table_id: t1, child_column_id: c1, parent_table_id: t1, parent_column_id: c1}}]}]`,
			wantErr: "invalid schema",
		},
		{
			name:    "malformed formula",
			yaml:    "tables: [{id: t1, name: t, columns: [{id: f1, uidt: Formula, formula: {tree: {kind: bogus}}}]}]",
			wantErr: "column f1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadSchema(strings.NewReader(tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, _, err := LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read schema")
}
