package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	_ "github.com/leapstack-labs/gridsql/pkg/adapters/sqlite" // regex functions

	"github.com/leapstack-labs/gridsql/pkg/catalog"
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
)

// FixtureBase is the base id of the fixture tables.
const FixtureBase = "b_shop"

// FixtureSQL creates and seeds the fixture tables on SQLite.
const FixtureSQL = `
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, owner TEXT);
CREATE TABLE orders (id INTEGER PRIMARY KEY, title TEXT, customer_id INTEGER, created_at TEXT, updated_at TEXT, notes TEXT);
CREATE TABLE invoices (id INTEGER PRIMARY KEY, number TEXT, updated_at TEXT);
CREATE TABLE line_items (id INTEGER PRIMARY KEY, invoice_id INTEGER, amount REAL, label TEXT, updated_at TEXT);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE order_tags (id INTEGER PRIMARY KEY AUTOINCREMENT, order_id INTEGER, tag_id INTEGER);
CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE passports (id INTEGER PRIMARY KEY, number TEXT, person_id INTEGER);

INSERT INTO customers VALUES (1, 'Ada', 'u1'), (2, 'Bob', 'u1,u2');
INSERT INTO orders VALUES
  (1, 'First', 1, '2024-01-02 03:04:05', NULL, '{"value": "rush"}'),
  (2, 'Second', NULL, '2024-02-03 04:05:06', NULL, NULL),
  (3, 'Third', 1, '2024-03-04 05:06:07', NULL, '{"value": ""}');
INSERT INTO invoices VALUES (1, 'INV-1', NULL), (2, 'INV-2', NULL), (3, 'INV-3', NULL);
INSERT INTO line_items VALUES
  (1, 1, 10, 'a', NULL), (2, 1, 20, 'b', NULL), (3, 1, NULL, 'c', NULL), (4, 2, 5, 'd', NULL);
INSERT INTO tags VALUES (1, 'red'), (2, 'blue');
INSERT INTO order_tags (order_id, tag_id) VALUES (1, 1), (1, 2), (3, 2);
INSERT INTO people VALUES (1, 'Ada'), (2, 'Bob');
INSERT INTO passports VALUES (1, 'P1', 1), (2, 'P2', NULL);
`

// FixtureUsers is the roster of FixtureBase.
var FixtureUsers = []core.User{
	{ID: "u1", Email: "ada@example.com"},
	{ID: "u2", Email: "bob@example.com"},
}

// OpenSQLite opens a private in-memory SQLite database seeded with
// FixtureSQL.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection of an in-memory database is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.ExecContext(context.Background(), FixtureSQL)
	require.NoError(t, err)
	return db
}

// Tree encodes a formula tree for a FormulaDescriptor.
func Tree(t testing.TB, n formula.Node) json.RawMessage {
	t.Helper()
	data, err := formula.Encode(n)
	require.NoError(t, err)
	return data
}

// FixtureCatalog returns a fresh catalog describing the fixture tables.
//
//	customers  1-n orders        (orders.customer_id, BelongsTo from orders)
//	invoices   1-n line_items    (line_items.invoice_id)
//	orders     n-n tags          (order_tags)
//	people     1-1 passports     (passports.person_id owns the key)
func FixtureCatalog(t testing.TB) *catalog.Memory {
	t.Helper()
	sum := formula.Fn("SUM", formula.Numeric, formula.Ident("in_amounts", formula.Numeric))

	m := catalog.NewMemory(
		&core.Table{ID: "t_customers", BaseID: FixtureBase, Title: "Customers", Name: "customers", Columns: []*core.Column{
			{ID: "cu_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "cu_name", Title: "Name", Name: "name", UIType: core.UISingleLineText, PV: true},
			{ID: "cu_owner", Title: "Owner", Name: "owner", UIType: core.UIUser},
			{ID: "cu_orders", Title: "Orders", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.HasMany, ChildTableID: "t_orders", ChildColumnID: "or_customer_id",
				ParentTableID: "t_customers", ParentColumnID: "cu_id",
			}},
		}},
		&core.Table{ID: "t_orders", BaseID: FixtureBase, Title: "Orders", Name: "orders", Columns: []*core.Column{
			{ID: "or_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "or_title", Title: "Title", Name: "title", UIType: core.UISingleLineText, PV: true},
			{ID: "or_customer_id", Title: "customer_id", Name: "customer_id", UIType: core.UIForeignKey, System: true},
			{ID: "or_created", Title: "Created", Name: "created_at", UIType: core.UICreatedTime, DataType: "text"},
			{ID: "or_updated", Title: "Updated", Name: "updated_at", UIType: core.UILastModifiedTime, System: true},
			{ID: "or_notes", Title: "Notes", Name: "notes", UIType: core.UILongText, Meta: core.ColumnMeta{AI: true}},
			{ID: "or_customer", Title: "Customer", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.BelongsTo, ChildTableID: "t_orders", ChildColumnID: "or_customer_id",
				ParentTableID: "t_customers", ParentColumnID: "cu_id",
			}},
			{ID: "or_customer_name", Title: "Customer Name", UIType: core.UILookup, Lookup: &core.LookupDescriptor{
				RelationColumnID: "or_customer", TargetColumnID: "cu_name",
			}},
			{ID: "or_tags", Title: "Tags", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.ManyToMany, ChildTableID: "t_orders", ChildColumnID: "or_id",
				ParentTableID: "t_tags", ParentColumnID: "tg_id",
				JunctionTableID: "t_order_tags", JunctionChildColumnID: "ot_order_id", JunctionParentColumnID: "ot_tag_id",
			}},
			{ID: "or_tag_count", Title: "Tag Count", UIType: core.UILinks, Relation: &core.RelationDescriptor{
				Kind: core.ManyToMany, ChildTableID: "t_orders", ChildColumnID: "or_id",
				ParentTableID: "t_tags", ParentColumnID: "tg_id",
				JunctionTableID: "t_order_tags", JunctionChildColumnID: "ot_order_id", JunctionParentColumnID: "ot_tag_id",
			}},
		}},
		&core.Table{ID: "t_invoices", BaseID: FixtureBase, Title: "Invoices", Name: "invoices", Columns: []*core.Column{
			{ID: "in_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "in_number", Title: "Number", Name: "number", UIType: core.UISingleLineText, PV: true},
			{ID: "in_updated", Title: "Updated", Name: "updated_at", UIType: core.UILastModifiedTime, System: true},
			{ID: "in_lines", Title: "Lines", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.HasMany, ChildTableID: "t_line_items", ChildColumnID: "li_invoice_id",
				ParentTableID: "t_invoices", ParentColumnID: "in_id",
			}},
			{ID: "in_amounts", Title: "Amounts", UIType: core.UILookup, Lookup: &core.LookupDescriptor{
				RelationColumnID: "in_lines", TargetColumnID: "li_amount",
			}},
			{ID: "in_total", Title: "Total", UIType: core.UIFormula, Formula: &core.FormulaDescriptor{Tree: Tree(t, sum)}},
			{ID: "in_amount_sum", Title: "Amount Sum", UIType: core.UIRollup, Rollup: &core.RollupDescriptor{
				RelationColumnID: "in_lines", TargetColumnID: "li_amount", Function: "sum",
			}},
			{ID: "in_line_count", Title: "Line Count", UIType: core.UILinks, Relation: &core.RelationDescriptor{
				Kind: core.HasMany, ChildTableID: "t_line_items", ChildColumnID: "li_invoice_id",
				ParentTableID: "t_invoices", ParentColumnID: "in_id",
			}},
		}},
		&core.Table{ID: "t_line_items", BaseID: FixtureBase, Title: "Line Items", Name: "line_items", Columns: []*core.Column{
			{ID: "li_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "li_invoice_id", Title: "invoice_id", Name: "invoice_id", UIType: core.UIForeignKey, System: true},
			{ID: "li_amount", Title: "Amount", Name: "amount", UIType: core.UIDecimal},
			{ID: "li_label", Title: "Label", Name: "label", UIType: core.UISingleLineText, PV: true},
			{ID: "li_updated", Title: "Updated", Name: "updated_at", UIType: core.UILastModifiedTime, System: true},
			{ID: "li_invoice", Title: "Invoice", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.BelongsTo, ChildTableID: "t_line_items", ChildColumnID: "li_invoice_id",
				ParentTableID: "t_invoices", ParentColumnID: "in_id",
			}},
		}},
		&core.Table{ID: "t_tags", BaseID: FixtureBase, Title: "Tags", Name: "tags", Columns: []*core.Column{
			{ID: "tg_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "tg_name", Title: "Name", Name: "name", UIType: core.UISingleLineText, PV: true},
			{ID: "tg_orders", Title: "Orders", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.ManyToMany, ChildTableID: "t_tags", ChildColumnID: "tg_id",
				ParentTableID: "t_orders", ParentColumnID: "or_id",
				JunctionTableID: "t_order_tags", JunctionChildColumnID: "ot_tag_id", JunctionParentColumnID: "ot_order_id",
			}},
		}},
		&core.Table{ID: "t_order_tags", BaseID: FixtureBase, Title: "Order Tags", Name: "order_tags", Columns: []*core.Column{
			{ID: "ot_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "ot_order_id", Title: "order_id", Name: "order_id", UIType: core.UIForeignKey},
			{ID: "ot_tag_id", Title: "tag_id", Name: "tag_id", UIType: core.UIForeignKey},
		}},
		&core.Table{ID: "t_people", BaseID: FixtureBase, Title: "People", Name: "people", Columns: []*core.Column{
			{ID: "pe_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "pe_name", Title: "Name", Name: "name", UIType: core.UISingleLineText, PV: true},
			{ID: "pe_passport", Title: "Passport", UIType: core.UILinkToAnotherRecord, Relation: &core.RelationDescriptor{
				Kind: core.OneToOne, ChildTableID: "t_passports", ChildColumnID: "pp_person_id",
				ParentTableID: "t_people", ParentColumnID: "pe_id",
			}},
		}},
		&core.Table{ID: "t_passports", BaseID: FixtureBase, Title: "Passports", Name: "passports", Columns: []*core.Column{
			{ID: "pp_id", Title: "Id", Name: "id", UIType: core.UIID, PK: true},
			{ID: "pp_number", Title: "Number", Name: "number", UIType: core.UISingleLineText, PV: true},
			{ID: "pp_person_id", Title: "person_id", Name: "person_id", UIType: core.UIForeignKey, System: true},
			{ID: "pp_person", Title: "Person", UIType: core.UILinkToAnotherRecord, Meta: core.ColumnMeta{BT: true}, Relation: &core.RelationDescriptor{
				Kind: core.OneToOne, ChildTableID: "t_passports", ChildColumnID: "pp_person_id",
				ParentTableID: "t_people", ParentColumnID: "pe_id",
			}},
		}},
	)
	m.SetUsers(FixtureBase, FixtureUsers)
	return m
}
