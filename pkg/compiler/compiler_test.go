package compiler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/internal/testutil"
	"github.com/leapstack-labs/gridsql/pkg/catalog"
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialects/sqlite"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func newCompiler(t *testing.T, opts ...Option) (*Compiler, *catalog.Memory) {
	t.Helper()
	cat := testutil.FixtureCatalog(t)
	opts = append([]Option{WithUsers(cat), WithLogger(testutil.NewTestLogger(t))}, opts...)
	return New(cat, sqlite.SQLite, opts...), cat
}

func mustTable(t *testing.T, cat *catalog.Memory, id string) *core.Table {
	t.Helper()
	tbl, err := cat.Table(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tbl, "table %s", id)
	return tbl
}

func mustColumn(t *testing.T, cat *catalog.Memory, id string) *core.Column {
	t.Helper()
	c, err := cat.Column(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c, "column %s", id)
	return c
}

// addColumn appends col to a fixture table and reindexes it.
func addColumn(t *testing.T, cat *catalog.Memory, tableID string, col *core.Column) *core.Column {
	t.Helper()
	tbl := mustTable(t, cat, tableID)
	tbl.Columns = append(tbl.Columns, col)
	cat.Add(tbl)
	return col
}

func addFormula(t *testing.T, cat *catalog.Memory, tableID, id string, tree formula.Node) *core.Column {
	t.Helper()
	return addColumn(t, cat, tableID, &core.Column{
		ID: id, Title: id, UIType: core.UIFormula,
		Formula: &core.FormulaDescriptor{Tree: testutil.Tree(t, tree)},
	})
}

// evalRow selects expr for the row of table with the given id.
func evalRow(t *testing.T, db *sql.DB, table *core.Table, expr sqlb.Expr, id int64) any {
	t.Helper()
	d := sqlite.SQLite
	q := sqlb.From(sqlb.Ident(d, table.Name)).
		Columns(expr).
		Where(sqlb.Template("{} = {}", sqlb.Ident(d, table.Name, "id"), sqlb.Arg(id))).
		Build(d.LimitStyle())
	query, args := sqlb.Render(q, d.PlaceholderStyle())
	var v any
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&v), query)
	return v
}

func ident(name string) *formula.Identifier  { return formula.Ident(name, formula.Unknown) }
func numIdent(name string) *formula.Identifier { return formula.Ident(name, formula.Numeric) }

func TestCompileFormula_SQLite(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c, cat := newCompiler(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		table string
		tree  formula.Node
		id    int64
		want  any
	}{
		{name: "add treats null as zero", table: "t_orders", tree: formula.Fn("ADD", formula.Numeric, ident("or_customer_id"), formula.Lit(1)), id: 2, want: 1},
		{name: "concat skips null", table: "t_orders", tree: formula.Fn("CONCAT", formula.String, ident("or_title"), formula.Lit(" / "), ident("or_customer_name")), id: 2, want: "Second / "},
		{name: "concat through lookup", table: "t_orders", tree: formula.Fn("CONCAT", formula.String, ident("or_title"), formula.Lit(" / "), ident("or_customer_name")), id: 1, want: "First / Ada"},
		{name: "plus typed as text concatenates", table: "t_orders", tree: formula.Bin("+", formula.String, ident("or_id"), ident("or_customer_id")), id: 1, want: "11"},
		{name: "ampersand", table: "t_orders", tree: formula.Bin("&", formula.String, ident("or_title"), formula.Lit("!")), id: 1, want: "First!"},
		{name: "isblank on empty ai text", table: "t_orders", tree: formula.Fn("ISBLANK", formula.Boolean, ident("or_notes")), id: 3, want: 1},
		{name: "isblank on ai text", table: "t_orders", tree: formula.Fn("ISBLANK", formula.Boolean, ident("or_notes")), id: 1, want: 0},
		{name: "equals empty string is blank", table: "t_orders", tree: formula.Bin("==", formula.Boolean, ident("or_notes"), formula.Lit("")), id: 2, want: 1},
		{name: "not equals blank", table: "t_orders", tree: formula.Bin("!=", formula.Boolean, formula.Fn("BLANK", formula.Null), ident("or_notes")), id: 1, want: 1},
		{name: "division by zero is null", table: "t_orders", tree: formula.Bin("/", formula.Numeric, formula.Lit(10), formula.Lit(0)), id: 1, want: nil},
		{name: "division is fractional", table: "t_orders", tree: formula.Bin("/", formula.Numeric, formula.Lit(7), formula.Lit(2)), id: 1, want: 3.5},
		{name: "link as condition", table: "t_orders", tree: formula.Fn("IF", formula.String, ident("or_customer"), formula.Lit("has customer"), formula.Lit("orphan")), id: 2, want: "orphan"},
		{name: "link as condition with customer", table: "t_orders", tree: formula.Fn("IF", formula.String, ident("or_customer"), formula.Lit("has customer"), formula.Lit("orphan")), id: 1, want: "has customer"},
		{name: "lookup by title", table: "t_orders", tree: ident("Customer Name"), id: 3, want: "Ada"},
		{name: "array lookup under SUM", table: "t_invoices", tree: formula.Fn("SUM", formula.Numeric, ident("in_amounts")), id: 1, want: 30},
		{name: "array lookup under SUM without rows", table: "t_invoices", tree: formula.Fn("SUM", formula.Numeric, ident("in_amounts")), id: 3, want: 0},
		{name: "array lookup under AVG sums", table: "t_invoices", tree: formula.Fn("AVG", formula.Numeric, ident("in_amounts")), id: 1, want: 30},
		{name: "array lookup under MIN", table: "t_invoices", tree: formula.Fn("MIN", formula.Numeric, ident("in_amounts")), id: 1, want: 10},
		{name: "array lookup under MAX", table: "t_invoices", tree: formula.Fn("MAX", formula.Numeric, ident("in_amounts")), id: 1, want: 20},
		{name: "array lookup in arithmetic", table: "t_invoices", tree: formula.Bin("+", formula.Numeric, ident("in_amounts"), formula.Lit(1)), id: 1, want: 31},
		{name: "array lookup as text", table: "t_invoices", tree: formula.Fn("LOWER", formula.String, ident("in_amounts")), id: 2, want: "5.0"},
		{name: "formula column", table: "t_invoices", tree: ident("in_total"), id: 1, want: 30},
		{name: "rollup", table: "t_invoices", tree: ident("in_amount_sum"), id: 2, want: 5},
		{name: "links count", table: "t_orders", tree: ident("or_tag_count"), id: 1, want: 2},
		{name: "has many links count", table: "t_invoices", tree: ident("in_line_count"), id: 3, want: 0},
		{name: "created time", table: "t_orders", tree: ident("or_created"), id: 1, want: "2024-01-02 03:04:05"},
		{name: "user emails", table: "t_customers", tree: ident("cu_owner"), id: 2, want: "ada@example.com,bob@example.com"},
		{name: "record id", table: "t_orders", tree: formula.Fn("RECORD_ID", formula.String), id: 3, want: 3},
		{name: "comparison", table: "t_orders", tree: formula.Bin("==", formula.Boolean, ident("or_title"), formula.Lit("First")), id: 1, want: 1},
		{name: "text against number compares as text", table: "t_orders", tree: formula.Bin("==", formula.Boolean, ident("or_title"), formula.Lit(1)), id: 1, want: 0},
		{name: "id against text literal", table: "t_orders", tree: formula.Bin("==", formula.Boolean, ident("or_id"), formula.Lit("2")), id: 2, want: 1},
		{name: "nested subtraction", table: "t_orders", tree: formula.Bin("-", formula.Numeric, formula.Lit(10), formula.Bin("-", formula.Numeric, formula.Lit(4), formula.Lit(3))), id: 1, want: 9},
		{name: "precedence", table: "t_orders", tree: formula.Bin("*", formula.Numeric, formula.Bin("+", formula.Numeric, numIdent("or_id"), formula.Lit(1)), formula.Lit(2)), id: 3, want: 8},
		{name: "negative literal", table: "t_orders", tree: formula.Un("-", formula.Numeric, formula.Lit(5)), id: 1, want: -5},
		{name: "double negation", table: "t_orders", tree: formula.Un("-", formula.Numeric, formula.Un("-", formula.Numeric, numIdent("or_id"))), id: 3, want: 3},
		{name: "not", table: "t_orders", tree: formula.Un("!", formula.Boolean, ident("or_customer")), id: 2, want: 1},
		{name: "and", table: "t_orders", tree: formula.Bin("&&", formula.Boolean, ident("or_title"), ident("or_customer")), id: 2, want: 0},
		{name: "or", table: "t_orders", tree: formula.Bin("||", formula.Boolean, ident("or_title"), ident("or_customer")), id: 2, want: 1},
		{name: "date against empty literal", table: "t_orders", tree: formula.Bin(">", formula.Boolean, ident("or_created"), formula.Lit("")), id: 1, want: 1},
		{name: "date against date literal", table: "t_orders", tree: formula.Bin(">", formula.Boolean, ident("or_created"), formula.Lit("2024-02-01")), id: 1, want: 0},
		{name: "modulo", table: "t_orders", tree: formula.Bin("%", formula.Numeric, formula.Lit(7), formula.Lit(3)), id: 1, want: 1},
		{name: "string cast marker", table: "t_orders", tree: &formula.Call{Name: "LOWER", Args: []formula.Node{ident("or_title")}, DataType: formula.String, CastString: true}, id: 1, want: "first"},
		{name: "passthrough function", table: "t_orders", tree: formula.Fn("typeof", formula.String, formula.Lit("x")), id: 1, want: "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := mustTable(t, cat, tt.table)
			expr, err := c.CompileFormula(ctx, table, tt.tree, Options{})
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, evalRow(t, db, table, expr, tt.id), expr.String())
		})
	}
}

func TestCompileFormula_SQL(t *testing.T) {
	c, cat := newCompiler(t)
	orders := mustTable(t, cat, "t_orders")
	ctx := context.Background()

	tests := []struct {
		name  string
		tree  formula.Node
		alias string
		want  string
	}{
		{
			name: "single ADD argument",
			tree: formula.Fn("ADD", formula.Numeric, numIdent("or_id")),
			want: `COALESCE("orders"."id", 0)`,
		},
		{
			name: "ADD chain",
			tree: formula.Fn("SUM", formula.Numeric, numIdent("or_id"), formula.Lit(1), formula.Lit(2)),
			want: `(COALESCE("orders"."id", 0) + COALESCE(?, 0) + COALESCE(?, 0))`,
		},
		{
			name: "parenthesized under a different operator",
			tree: formula.Bin("*", formula.Numeric, formula.Bin("+", formula.Numeric, numIdent("or_id"), formula.Lit(1)), formula.Lit(2)),
			want: `("orders"."id" + ?) * ?`,
		},
		{
			name: "associative chain stays flat",
			tree: formula.Bin("+", formula.Numeric, formula.Bin("+", formula.Numeric, numIdent("or_id"), formula.Lit(1)), formula.Lit(2)),
			want: `"orders"."id" + ? + ?`,
		},
		{
			name: "right operand keeps its grouping",
			tree: formula.Bin("-", formula.Numeric, numIdent("or_id"), formula.Bin("-", formula.Numeric, formula.Lit(1), formula.Lit(2))),
			want: `"orders"."id" - (? - ?)`,
		},
		{
			name:  "table alias",
			tree:  ident("or_title"),
			alias: "o",
			want:  `"o"."title"`,
		},
		{
			name: "comparison is materialized",
			tree: formula.Bin("==", formula.Boolean, ident("or_title"), formula.Lit("x")),
			want: `(CASE WHEN "orders"."title" = ? THEN true ELSE false END)`,
		},
		{
			name: "comparison inside AND stays a condition",
			tree: formula.Bin("&&", formula.Boolean, formula.Bin("==", formula.Boolean, ident("or_title"), formula.Lit("x")), formula.Bin("!=", formula.Boolean, numIdent("or_id"), formula.Lit(1))),
			want: `(CASE WHEN ("orders"."title" = ?) AND ("orders"."id" <> ?) THEN true ELSE false END)`,
		},
		{
			name: "division guards the divisor",
			tree: formula.Bin("/", formula.Numeric, numIdent("or_id"), formula.Lit(2)),
			want: `(CAST("orders"."id" AS REAL) / NULLIF(CAST(? AS REAL), 0))`,
		},
		{
			name: "date against unparseable literal",
			tree: formula.Bin("==", formula.Boolean, ident("or_created"), formula.Lit("soon")),
			want: `(CASE WHEN DATETIME("orders"."created_at") IS NOT NULL THEN true ELSE false END)`,
		},
		{
			name: "empty literal against date",
			tree: formula.Bin("<=", formula.Boolean, formula.Lit(""), ident("or_created")),
			want: `(CASE WHEN DATETIME("orders"."created_at") IS NOT NULL THEN true ELSE false END)`,
		},
		{
			name: "boolean against number",
			tree: formula.Bin("==", formula.Boolean, formula.Lit(true), formula.Lit(1)),
			want: `(CASE WHEN true = (CASE WHEN (? IS NOT NULL AND ? <> 0) THEN true ELSE false END) THEN true ELSE false END)`,
		},
		{
			name: "ai text",
			tree: ident("or_notes"),
			want: `json_extract("orders"."notes", '$.value')`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := c.CompileFormula(ctx, orders, tt.tree, Options{TableAlias: tt.alias})
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.String())
		})
	}
}

func TestCompileFormula_Errors(t *testing.T) {
	c, cat := newCompiler(t)
	ctx := context.Background()
	orders := mustTable(t, cat, "t_orders")

	tests := []struct {
		name string
		tree formula.Node
		want error
	}{
		{name: "unknown column", tree: ident("nope"), want: core.ErrFormulaCompile},
		{name: "call without name", tree: &formula.Call{}, want: core.ErrFormulaCompile},
		{name: "invalid passthrough name", tree: formula.Fn("DROP TABLE x", formula.Unknown), want: core.ErrFormulaCompile},
		{name: "unknown operator", tree: formula.Bin("^^", formula.Numeric, formula.Lit(1), formula.Lit(2)), want: core.ErrFormulaCompile},
		{name: "arity", tree: formula.Fn("IF", formula.Unknown), want: core.ErrFormulaCompile},
		{name: "unknown date unit", tree: formula.Fn("DATEADD", formula.Date, ident("or_created"), formula.Lit(1), formula.Lit("fortnight")), want: core.ErrFormulaCompile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompileFormula(ctx, orders, tt.tree, Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("column id is attached", func(t *testing.T) {
		_, err := c.CompileFormula(ctx, orders, ident("nope"), Options{ColumnID: "or_x"})
		var ce *core.CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "or_x", ce.ColumnID)
	})
}

func TestCompileColumn_Circular(t *testing.T) {
	c, cat := newCompiler(t)
	ctx := context.Background()

	a := addFormula(t, cat, "t_orders", "f_a", formula.Bin("+", formula.Numeric, ident("f_b"), formula.Lit(1)))
	addFormula(t, cat, "t_orders", "f_b", formula.Bin("*", formula.Numeric, ident("f_a"), formula.Lit(2)))
	self := addFormula(t, cat, "t_orders", "f_self", formula.Fn("ABS", formula.Numeric, ident("f_self")))
	uses := addFormula(t, cat, "t_orders", "f_uses", formula.Fn("ADD", formula.Numeric, ident("f_a"), formula.Lit(1)))

	_, err := c.CompileColumn(ctx, a, Options{})
	var circ *core.CircularReferenceError
	require.ErrorAs(t, err, &circ)
	assert.Equal(t, "f_a", circ.ColumnID)
	assert.Equal(t, []string{"f_a", "f_b"}, circ.Chain)
	assert.True(t, errors.Is(err, core.ErrFormulaCircularReference))

	_, err = c.CompileColumn(ctx, self, Options{})
	require.ErrorAs(t, err, &circ)
	assert.Equal(t, "f_self", circ.ColumnID)

	// a column depending on a cycle reports the cycle, not a generic failure
	_, err = c.CompileColumn(ctx, uses, Options{})
	assert.True(t, errors.Is(err, core.ErrFormulaCircularReference))
}

func TestCompileColumn(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c, cat := newCompiler(t)
	ctx := context.Background()

	expr, err := c.CompileColumn(ctx, mustColumn(t, cat, "in_total"), Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 30, evalRow(t, db, mustTable(t, cat, "t_invoices"), expr, 1))

	_, err = c.CompileColumn(ctx, mustColumn(t, cat, "in_number"), Options{})
	assert.True(t, errors.Is(err, core.ErrFormulaCompile))

	broken := addColumn(t, cat, "t_invoices", &core.Column{ID: "f_empty", UIType: core.UIFormula})
	_, err = c.CompileColumn(ctx, broken, Options{})
	assert.True(t, errors.Is(err, core.ErrFormulaCompile))
}

func TestCompileFormula_UnsupportedRollup(t *testing.T) {
	c, cat := newCompiler(t)
	addColumn(t, cat, "t_invoices", &core.Column{ID: "in_median", Title: "Median", UIType: core.UIRollup, Rollup: &core.RollupDescriptor{
		RelationColumnID: "in_lines", TargetColumnID: "li_amount", Function: "median",
	}})

	_, err := c.CompileFormula(context.Background(), mustTable(t, cat, "t_invoices"), ident("in_median"), Options{})
	assert.True(t, errors.Is(err, core.ErrUnsupportedDialectOperation), "got %v", err)
}

func TestCompileFormula_UsersWithoutRoster(t *testing.T) {
	cat := testutil.FixtureCatalog(t)
	c := New(cat, sqlite.SQLite)

	expr, err := c.CompileFormula(context.Background(), mustTable(t, cat, "t_customers"), ident("cu_owner"), Options{})
	require.NoError(t, err)
	assert.Equal(t, `"customers"."owner"`, expr.String())
}

func TestCompileFormula_MemoizesReferences(t *testing.T) {
	c, cat := newCompiler(t)
	tree := formula.Fn("CONCAT", formula.String, ident("or_customer_name"), ident("or_customer_name"))

	expr, err := c.CompileFormula(context.Background(), mustTable(t, cat, "t_orders"), tree, Options{})
	require.NoError(t, err)
	// both references share one compiled subquery and its alias
	assert.Equal(t, 2, strings.Count(expr.String(), `"customers" AS "__gs_r1"`))
	assert.NotContains(t, expr.String(), "__gs_r2")
}

type countingObserver struct {
	calls, failures int
}

func (o *countingObserver) CompileDone(_ core.Engine, _ time.Duration, err error) {
	o.calls++
	if err != nil {
		o.failures++
	}
}

func TestCompileFormula_Observer(t *testing.T) {
	obs := &countingObserver{}
	c, cat := newCompiler(t, WithObserver(obs))
	orders := mustTable(t, cat, "t_orders")
	ctx := context.Background()

	_, err := c.CompileFormula(ctx, orders, ident("or_title"), Options{})
	require.NoError(t, err)
	_, err = c.CompileFormula(ctx, orders, ident("nope"), Options{})
	require.Error(t, err)

	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, 1, obs.failures)
}

func selectRow(t *testing.T, db *sql.DB, sel *Selection, table *core.Table, id int64) map[string]any {
	t.Helper()
	d := sqlite.SQLite
	q := sel.Query().
		Where(sqlb.Template("{} = {}", sqlb.Ident(d, table.Name, "id"), sqlb.Arg(id))).
		Build(d.LimitStyle())
	query, args := sqlb.Render(q, d.PlaceholderStyle())

	rows, err := db.QueryContext(context.Background(), query, args...)
	require.NoError(t, err, query)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	require.True(t, rows.Next(), "row %d", id)
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	require.NoError(t, rows.Scan(ptrs...))
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = vals[i]
	}
	return out
}

func TestSelectColumns(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c, cat := newCompiler(t)
	ctx := context.Background()
	orders := mustTable(t, cat, "t_orders")

	sel, err := c.SelectColumns(ctx, orders, Options{})
	require.NoError(t, err)
	assert.Len(t, sel.Columns, len(orders.Columns))
	assert.Empty(t, sel.Broken)

	row := selectRow(t, db, sel, orders, 1)
	assert.Equal(t, "First", row["title"])
	assert.Equal(t, "rush", row["notes"])
	assert.Equal(t, "Ada", row["Customer"])
	assert.Equal(t, "Ada", row["Customer Name"])
	assert.EqualValues(t, 2, row["Tag Count"])
	tags, ok := row["Tags"].(string)
	require.True(t, ok, "tags %v", row["Tags"])
	assert.ElementsMatch(t, []string{"red", "blue"}, strings.Split(tags, ","))

	row = selectRow(t, db, sel, orders, 2)
	assert.Nil(t, row["Customer"])
	assert.Nil(t, row["Tags"])
	assert.EqualValues(t, 0, row["Tag Count"])
}

func TestSelectColumns_BrokenFormula(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c, cat := newCompiler(t)
	ctx := context.Background()

	addFormula(t, cat, "t_orders", "f_bad", ident("nope"))
	addFormula(t, cat, "t_orders", "f_loop", ident("f_loop"))
	addFormula(t, cat, "t_orders", "f_ok", formula.Fn("UPPER", formula.String, ident("or_title")))
	orders := mustTable(t, cat, "t_orders")

	sel, err := c.SelectColumns(ctx, orders, Options{})
	require.NoError(t, err)
	require.Len(t, sel.Broken, 2)
	assert.True(t, errors.Is(sel.Broken["f_bad"], core.ErrFormulaCompile))
	assert.True(t, errors.Is(sel.Broken["f_loop"], core.ErrFormulaCircularReference))

	row := selectRow(t, db, sel, orders, 3)
	assert.Nil(t, row["f_bad"])
	assert.Nil(t, row["f_loop"])
	assert.Equal(t, "THIRD", row["f_ok"])
}

func TestSelectColumns_MetadataErrorAborts(t *testing.T) {
	c, cat := newCompiler(t)
	addColumn(t, cat, "t_orders", &core.Column{ID: "or_dangling", Title: "Dangling", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
		Kind: core.BelongsTo, ChildTableID: "t_orders", ChildColumnID: "or_customer_id",
		ParentTableID: "t_missing", ParentColumnID: "x_id",
	}})

	_, err := c.SelectColumns(context.Background(), mustTable(t, cat, "t_orders"), Options{})
	assert.True(t, errors.Is(err, core.ErrRelationEndpointNotFound), "got %v", err)
}
