package links

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/internal/testutil"
	"github.com/leapstack-labs/gridsql/pkg/dialects/mysql"
	"github.com/leapstack-labs/gridsql/pkg/dialects/postgres"
)

func TestLink_PostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	e := New(testutil.FixtureCatalog(t), postgres.Postgres, db, WithLogger(testutil.NewTestLogger(t)))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "customer_id" FROM "orders" WHERE "id" = $1`).
		WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(nil))
	mock.ExpectQuery(`SELECT "id" FROM "customers" WHERE "id" IN ($1)`).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE "orders" SET "customer_id" = (SELECT "__gs_v"."id" FROM (SELECT "id" FROM "customers" WHERE "id" = $1) AS "__gs_v") WHERE "id" = $2`).
		WithArgs("1", "2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "orders" SET "updated_at" = $1 WHERE "id" IN ($2)`).
		WithArgs(sqlmock.AnyArg(), "2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.Link(context.Background(), Request{ColumnID: "or_customer", NearID: "2", FarIDs: []string{"1"}})
	require.NoError(t, err)
	assert.Len(t, res.Events, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlink_MySQLStatements(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	e := New(testutil.FixtureCatalog(t), mysql.MySQL, db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `orders` WHERE `id` = ?").
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT `id` FROM `tags` WHERE `id` IN (?, ?)").
		WithArgs("1", "2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec("DELETE FROM `order_tags` WHERE `order_id` = ? AND `tag_id` IN (SELECT `id` FROM `tags` WHERE `id` IN (?, ?))").
		WithArgs(int64(1), "1", "2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE `orders` SET `updated_at` = ? WHERE `id` IN (?)").
		WithArgs(sqlmock.AnyArg(), "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.Unlink(context.Background(), Request{ColumnID: "or_tags", NearID: "1", FarIDs: []string{"1", "2"}})
	require.NoError(t, err)
	assert.Len(t, res.Events, 4)
	assert.Equal(t, OpUnlink, res.Events[0].Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLink_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := New(testutil.FixtureCatalog(t), postgres.Postgres, db)
	boom := errors.New("deadlock detected")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(`UPDATE`).WillReturnError(boom)
	mock.ExpectRollback()

	_, err = e.Link(context.Background(), Request{ColumnID: "cu_orders", NearID: "1", FarIDs: []string{"3"}})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
