package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/internal/testutil"
	"github.com/leapstack-labs/gridsql/pkg/compiler"
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name: "in-memory",
			setupPath: func(_ *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp := New(nil)

			dbPath := tt.setupPath(t)
			require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: dbPath}))
			defer func() { _ = adp.Close() }()
			assert.Equal(t, core.EngineDuckDB, adp.Dialect().Engine())

			if tt.verify != nil {
				tt.verify(t, dbPath)
			}
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	assert.Error(t, adp.Exec(ctx, "SELECT 1"))
	_, err := adp.Query(ctx, "SELECT 1")
	assert.Error(t, err)
	assert.NoError(t, adp.Close())
}

func TestBuildCreateSecretSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  SecretConfig
		want string
	}{
		{
			name: "s3 with credential chain",
			cfg:  SecretConfig{Type: "s3", Provider: "credential_chain", Region: "us-west-2"},
			want: "CREATE SECRET (\n    TYPE s3,\n    PROVIDER credential_chain,\n    REGION 'us-west-2'\n)",
		},
		{
			name: "type only",
			cfg:  SecretConfig{Type: "s3"},
			want: "CREATE SECRET (\n    TYPE s3\n)",
		},
		{
			name: "several scopes",
			cfg:  SecretConfig{Type: "s3", Scope: []any{"s3://bucket1", "s3://bucket2"}},
			want: "CREATE SECRET (\n    TYPE s3,\n    SCOPE ('s3://bucket1', 's3://bucket2')\n)",
		},
		{
			name: "s3 compatible with endpoint and path style",
			cfg: SecretConfig{
				Type:     "s3",
				Provider: "config",
				KeyID:    "minio",
				Secret:   "it's",
				Endpoint: "localhost:9000",
				URLStyle: "path",
				UseSSL:   boolPtr(false),
			},
			want: "CREATE SECRET (\n    TYPE s3,\n    PROVIDER config,\n    KEY_ID 'minio',\n    SECRET 'it''s',\n" +
				"    ENDPOINT 'localhost:9000',\n    URL_STYLE 'path',\n    USE_SSL false\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCreateSecretSQL(tt.cfg))
		})
	}
}

func TestConnect_WithParams(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{
		Path: ":memory:",
		Params: map[string]any{
			"extensions":     []any{"json"},
			"settings":       map[string]any{"threads": "2"},
			"max_open_conns": 4,
		},
	}))
	defer func() { _ = adp.Close() }()

	var extName string
	require.NoError(t, adp.DB().QueryRowContext(ctx,
		"SELECT extension_name FROM duckdb_extensions() WHERE loaded = true AND extension_name = 'json'").Scan(&extName))
	assert.Equal(t, "json", extName)

	var threads string
	require.NoError(t, adp.DB().QueryRowContext(ctx, "SELECT current_setting('threads')").Scan(&threads))
	assert.Equal(t, "2", threads)
}

func TestConnect_BadParams(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), core.AdapterConfig{
		Params: map[string]any{"extensions": map[string]any{"not": "a list"}},
	})
	assert.ErrorContains(t, err, "failed to parse duckdb params")
	assert.False(t, adp.IsConnected())
}

// duckdbFixture adapts the SQLite fixture: DuckDB has no AUTOINCREMENT.
func duckdbFixture() string {
	return "CREATE SEQUENCE order_tags_seq;\n" + strings.ReplaceAll(testutil.FixtureSQL,
		"INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER DEFAULT nextval('order_tags_seq') PRIMARY KEY")
}

func TestDuckDB_EndToEnd(t *testing.T) {
	ctx := context.Background()
	adp := New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: ":memory:"}))
	defer func() { _ = adp.Close() }()
	require.NoError(t, adp.Exec(ctx, duckdbFixture()))

	cat := testutil.FixtureCatalog(t)
	d := adp.Dialect()

	t.Run("formula", func(t *testing.T) {
		orders, err := cat.Table(ctx, "t_orders")
		require.NoError(t, err)
		c := compiler.New(cat, d, compiler.WithQuerier(adp.DB()))
		tree := formula.Fn("UPPER", formula.String, formula.Ident("or_title", formula.String))
		expr, err := c.CompileFormula(ctx, orders, tree, compiler.Options{Validate: true})
		require.NoError(t, err)

		q := sqlb.From(sqlb.Ident(d, "orders")).
			Columns(expr).
			Where(sqlb.Template("{} = {}", sqlb.Ident(d, "orders", "id"), sqlb.Arg(3))).
			Build(d.LimitStyle())
		query, args := sqlb.Render(q, d.PlaceholderStyle())
		var got string
		require.NoError(t, adp.DB().QueryRowContext(ctx, query, args...).Scan(&got), query)
		assert.Equal(t, "THIRD", got)
	})

	t.Run("null handling", func(t *testing.T) {
		orders, err := cat.Table(ctx, "t_orders")
		require.NoError(t, err)
		c := compiler.New(cat, d)

		tests := []struct {
			name string
			tree formula.Node
			id   int64
			want any
		}{
			{
				name: "division by zero is null",
				tree: formula.Bin("/", formula.Numeric, formula.Lit(10), formula.Lit(0)),
				id:   1,
				want: nil,
			},
			{
				name: "concat with a missing lookup",
				tree: formula.Fn("CONCAT", formula.String, formula.Ident("or_title", formula.String), formula.Lit(" / "),
					formula.Ident("or_customer_name", formula.Unknown)),
				id:   2,
				want: "Second / ",
			},
			{
				name: "add treats null as zero",
				tree: formula.Fn("ADD", formula.Numeric, formula.Ident("or_customer_id", formula.Unknown)),
				id:   2,
				want: 0,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				expr, err := c.CompileFormula(ctx, orders, tt.tree, compiler.Options{})
				require.NoError(t, err)

				q := sqlb.From(sqlb.Ident(d, "orders")).
					Columns(expr).
					Where(sqlb.Template("{} = {}", sqlb.Ident(d, "orders", "id"), sqlb.Arg(tt.id))).
					Build(d.LimitStyle())
				query, args := sqlb.Render(q, d.PlaceholderStyle())
				var got any
				require.NoError(t, adp.DB().QueryRowContext(ctx, query, args...).Scan(&got), query)
				assert.EqualValues(t, tt.want, got, query)
			})
		}
	})
}
