package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/internal/testutil"
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialects/sqlite"
	"github.com/leapstack-labs/gridsql/pkg/links"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteStore_Migrate(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(ctx, filepath.Join(t.TempDir(), "nested", "state.db")))
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(ctx))
	// migrating twice is a no-op
	require.NoError(t, store.Migrate(ctx))

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	for _, table := range []string{"formula_errors", "users", "link_audit"} {
		var n int
		require.NoError(t, store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n), table)
	}
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.Migrate(ctx), ErrNotOpened)
	assert.ErrorIs(t, store.SetFormulaError(ctx, "c", "x"), ErrNotOpened)
	_, err := store.ListUsers(ctx, "b")
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_FormulaErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetFormulaError(ctx, "or_total", "first"))
	require.NoError(t, store.SetFormulaError(ctx, "or_total", "second"))
	require.NoError(t, store.SetFormulaError(ctx, "or_gone", "stale"))
	errs, err := store.FormulaErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"or_total": "second", "or_gone": "stale"}, errs)

	require.NoError(t, store.SetFormulaError(ctx, "or_gone", ""))
	errs, err = store.FormulaErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"or_total": "second"}, errs)
}

type mapSink map[string]string

func (m mapSink) SetFormulaError(_ context.Context, columnID, msg string) error {
	if columnID == "missing" {
		return &core.EndpointNotFoundError{ColumnID: columnID, What: "column"}
	}
	m[columnID] = msg
	return nil
}

func TestSQLiteStore_Overlay(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetFormulaError(ctx, "a", "broken"))
	require.NoError(t, store.SetFormulaError(ctx, "missing", "stale"))

	sink := mapSink{}
	require.NoError(t, store.Overlay(ctx, sink))
	assert.Equal(t, mapSink{"a": "broken"}, sink)

	t.Run("tee writes every sink", func(t *testing.T) {
		other := mapSink{}
		require.NoError(t, Tee(sink, other, store).SetFormulaError(ctx, "b", "oops"))
		assert.Equal(t, "oops", sink["b"])
		assert.Equal(t, "oops", other["b"])
		errs, err := store.FormulaErrors(ctx)
		require.NoError(t, err)
		assert.Equal(t, "oops", errs["b"])

		assert.Error(t, Tee(sink, store).SetFormulaError(ctx, "missing", "x"))
	})
}

func TestSQLiteStore_Users(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutUsers(ctx, testutil.FixtureBase, testutil.FixtureUsers))
	require.NoError(t, store.PutUsers(ctx, "b_other", []core.User{{ID: "u9", Email: "x@example.com"}}))

	users, err := store.ListUsers(ctx, testutil.FixtureBase)
	require.NoError(t, err)
	assert.Equal(t, testutil.FixtureUsers, users)

	// replacing drops users no longer listed
	require.NoError(t, store.PutUsers(ctx, testutil.FixtureBase, testutil.FixtureUsers[:1]))
	users, err = store.ListUsers(ctx, testutil.FixtureBase)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	users, err = store.ListUsers(ctx, "b_none")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSQLiteStore_Outbox(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	events := []links.AuditEvent{
		{ID: "e1", Op: links.OpLink, Kind: core.BelongsTo, TableID: "t_orders", ColumnID: "or_customer", RowID: "2",
			RefTableID: "t_customers", RefColumnID: "cu_orders", RefRowID: "1", User: "u1", At: at},
		{ID: "e2", Op: links.OpLink, Kind: core.HasMany, TableID: "t_customers", ColumnID: "cu_orders", RowID: "1",
			RefTableID: "t_orders", RefColumnID: "or_customer", RefRowID: "2", User: "u1", At: at.Add(time.Second)},
	}
	require.NoError(t, store.AfterLink(ctx, events))
	// redelivering the same events is idempotent
	require.NoError(t, store.AfterLink(ctx, events[:1]))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, events, pending)

	require.NoError(t, store.MarkDelivered(ctx, "e1"))
	pending, err = store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].ID)
}

func TestSQLiteStore_LinkHook(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	e := links.New(testutil.FixtureCatalog(t), sqlite.SQLite, testutil.OpenSQLite(t), links.WithHook(store))

	res, err := e.Link(ctx, links.Request{ColumnID: "or_tags", NearID: "2", FarIDs: []string{"1"}, User: "u2"})
	require.NoError(t, err)
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "events are recorded only once the caller commits")

	require.NoError(t, res.Commit(ctx))
	pending, err = store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "u2", pending[0].User)
	assert.Equal(t, core.ManyToMany, pending[0].Kind)
}
