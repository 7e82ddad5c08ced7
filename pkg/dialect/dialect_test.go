package dialect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// stubCompiler compiles literals to bindings and identifiers to bare names.
type stubCompiler struct {
	d Operators
}

func (s stubCompiler) compile(n formula.Node) (Value, error) {
	switch n := n.(type) {
	case *formula.Literal:
		if n.Value == nil {
			return Value{Expr: sqlb.Null(), Type: formula.Null}, nil
		}
		return Value{Expr: sqlb.Arg(n.Value), Type: n.DataType}, nil
	case *formula.Identifier:
		return Value{Expr: sqlb.Raw(n.Name), Type: n.DataType}, nil
	case *formula.Call:
		fn, ok := s.d.Function(n.Name)
		if !ok {
			return Value{}, Errorf("unknown function %s", n.Name)
		}
		return fn(s, n)
	default:
		return Value{}, Errorf("unexpected node %T", n)
	}
}

func (s stubCompiler) Arg(call *formula.Call, i int) (Value, error) {
	return s.compile(call.Args[i])
}

func (s stubCompiler) Args(call *formula.Call) ([]Value, error) {
	out := make([]Value, len(call.Args))
	for i := range call.Args {
		v, err := s.Arg(call, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s stubCompiler) Cond(call *formula.Call, i int) (sqlb.Expr, error) {
	v, err := s.Arg(call, i)
	if err != nil {
		return sqlb.Expr{}, err
	}
	return s.d.Truthy(v), nil
}

func (s stubCompiler) Dialect() Operators { return s.d }

func (s stubCompiler) RecordID() (sqlb.Expr, error) { return sqlb.Raw("t.id"), nil }

func testConfig(native bool) *core.DialectConfig {
	return &core.DialectConfig{
		Name:   "test",
		Engine: core.EnginePostgres,
		Identifiers: core.IdentifierConfig{
			Quote: `"`, QuoteEnd: `"`, Escape: `""`,
		},
		NativeBoolean: native,
		TextType:      "TEXT",
		FloatType:     "DOUBLE PRECISION",
		IntegerType:   "BIGINT",
	}
}

func compileCall(t *testing.T, d Operators, call *formula.Call) (string, []any) {
	t.Helper()
	v, err := stubCompiler{d: d}.compile(call)
	require.NoError(t, err)
	return sqlb.Render(d.Value(v), core.PlaceholderQuestion)
}

func num(name string) *formula.Identifier { return formula.Ident(name, formula.Numeric) }
func str(name string) *formula.Identifier { return formula.Ident(name, formula.String) }

func TestCommonFunctions(t *testing.T) {
	d := New(testConfig(true)).Functions(Common).Build()

	tests := []struct {
		name string
		call *formula.Call
		want string
		args []any
	}{
		{
			name: "if with else",
			call: formula.Fn("IF", formula.String, num("a"), formula.Lit("yes"), formula.Lit("no")),
			want: "CASE WHEN (a IS NOT NULL AND a <> 0) THEN ? ELSE ? END",
			args: []any{"yes", "no"},
		},
		{
			name: "if without else",
			call: formula.Fn("IF", formula.String, str("s"), formula.Lit("yes")),
			want: "CASE WHEN (s IS NOT NULL AND s <> '') THEN ? ELSE NULL END",
			args: []any{"yes"},
		},
		{
			name: "switch with default",
			call: formula.Fn("SWITCH", formula.String, str("s"), formula.Lit("a"), formula.Lit("A"), formula.Lit("other")),
			want: "CASE s WHEN ? THEN ? ELSE ? END",
			args: []any{"a", "A", "other"},
		},
		{
			name: "and materialized",
			call: formula.Fn("AND", formula.Boolean, num("a"), str("b")),
			want: "(CASE WHEN (((a IS NOT NULL AND a <> 0)) AND ((b IS NOT NULL AND b <> ''))) THEN true ELSE false END)",
		},
		{
			name: "isblank on text",
			call: formula.Fn("ISBLANK", formula.Boolean, str("s")),
			want: "(CASE WHEN (s IS NULL OR s = '') THEN true ELSE false END)",
		},
		{
			name: "isnotblank on number",
			call: formula.Fn("ISNOTBLANK", formula.Boolean, num("n")),
			want: "(CASE WHEN n IS NOT NULL THEN true ELSE false END)",
		},
		{
			name: "round with literal precision",
			call: formula.Fn("ROUND", formula.Numeric, num("n"), formula.Lit(2)),
			want: "ROUND(n, 2)",
		},
		{
			name: "round default precision",
			call: formula.Fn("ROUND", formula.Numeric, num("n")),
			want: "ROUND(n, 0)",
		},
		{
			name: "even repeats its argument",
			call: formula.Fn("EVEN", formula.Numeric, num("n")),
			want: "(CASE WHEN n >= 0 THEN CEILING(n / 2.0) * 2 ELSE FLOOR(n / 2.0) * 2 END)",
		},
		{
			name: "log natural",
			call: formula.Fn("LOG", formula.Numeric, num("n")),
			want: "LN(n)",
		},
		{
			name: "count skips nulls",
			call: formula.Fn("COUNT", formula.Numeric, num("a"), num("b")),
			want: "((CASE WHEN a IS NOT NULL THEN 1 ELSE 0 END) + (CASE WHEN b IS NOT NULL THEN 1 ELSE 0 END))",
		},
		{
			name: "countall",
			call: formula.Fn("COUNTALL", formula.Numeric, num("a"), num("b"), num("c")),
			want: "3",
		},
		{
			name: "max is null safe",
			call: formula.Fn("MAX", formula.Numeric, num("a"), num("b")),
			want: "GREATEST(COALESCE(a, b), COALESCE(b, a))",
		},
		{
			name: "string cast",
			call: formula.Fn("STRING", formula.String, num("n")),
			want: "CAST(n AS TEXT)",
		},
		{
			name: "record id",
			call: formula.Fn("RECORD_ID", formula.String),
			want: "t.id",
		},
		{
			name: "year",
			call: formula.Fn("YEAR", formula.Numeric, formula.Ident("d", formula.Date)),
			want: "EXTRACT(YEAR FROM d)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := compileCall(t, d, tt.call)
			assert.Equal(t, tt.want, sql)
			if tt.args != nil {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestURLEscapesParentheses(t *testing.T) {
	d := New(testConfig(true)).Functions(Common).Build()

	sql, args := compileCall(t, d, formula.Fn("URL", formula.String, str("u"), formula.Lit("site")))
	assert.Equal(t, "CONCAT(?, REPLACE(REPLACE(u, ?, ?), ?, ?), ?, ?, ?, ?)", sql)
	assert.Equal(t, []any{"URI::( ", "(", `\(`, ")", `\)`, " )", " LABEL::( ", "site", " )"}, args)
}

func TestArityErrors(t *testing.T) {
	d := New(testConfig(true)).Functions(Common).Build()

	tests := []struct {
		name string
		call *formula.Call
		msg  string
	}{
		{"exact", formula.Fn("SQRT", formula.Numeric), "SQRT expects 1 argument(s), got 0"},
		{"range", formula.Fn("IF", formula.String, num("a")), "IF expects 2 to 3 arguments, got 1"},
		{"unbounded", formula.Fn("SWITCH", formula.String, num("a")), "SWITCH expects at least 3 argument(s), got 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stubCompiler{d: d}.compile(tt.call)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrFormulaCompile))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBooleanHandling(t *testing.T) {
	pred := sqlb.Raw("a = b")

	t.Run("native materialize", func(t *testing.T) {
		d := New(testConfig(true)).Build()
		assert.Equal(t, "(CASE WHEN a = b THEN true ELSE false END)", d.Materialize(pred).String())
		assert.Equal(t, "true", d.BooleanLiteral(true).String())
	})

	t.Run("emulated materialize", func(t *testing.T) {
		d := New(testConfig(false)).Build()
		assert.Equal(t, "CASE WHEN a = b THEN 1 ELSE 0 END", d.Materialize(pred).String())
		assert.Equal(t, "0", d.BooleanLiteral(false).String())
		assert.Equal(t, "(flag) = 1", d.Truthy(Value{Expr: sqlb.Raw("flag"), Type: formula.Boolean}).String())
	})

	t.Run("predicates pass through truthy", func(t *testing.T) {
		d := New(testConfig(false)).Build()
		assert.Equal(t, "a = b", d.Truthy(Value{Expr: pred, Predicate: true}).String())
	})

	t.Run("unknown type blank casts to text", func(t *testing.T) {
		d := New(testConfig(true)).Build()
		got := d.Blank(Value{Expr: sqlb.Raw("x")}, false).String()
		assert.Equal(t, "(x IS NULL OR CAST(x AS TEXT) = '')", got)
	})
}

func TestConcatStrategies(t *testing.T) {
	a, b := sqlb.Raw("a"), sqlb.Raw("b")

	tests := []struct {
		name string
		cfg  func(*core.DialectConfig)
		args []sqlb.Expr
		want string
	}{
		{"native", func(*core.DialectConfig) {}, []sqlb.Expr{a, b}, "CONCAT(a, b)"},
		{"native single", func(*core.DialectConfig) {}, []sqlb.Expr{a}, "CONCAT(a, '')"},
		{"operator", func(c *core.DialectConfig) { c.ConcatOperator = true }, []sqlb.Expr{a, b}, "(COALESCE(a, '') || COALESCE(b, ''))"},
		{"null propagating", func(c *core.DialectConfig) { c.ConcatPropagatesNull = true }, []sqlb.Expr{a, b}, "CONCAT(COALESCE(a, ''), COALESCE(b, ''))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(true)
			tt.cfg(cfg)
			d := New(cfg).Build()
			assert.Equal(t, tt.want, d.Concat(tt.args).String())
		})
	}
}

func TestAggregate(t *testing.T) {
	d := New(testConfig(true)).Build()
	e := sqlb.Raw("x")

	for fn, want := range map[string]string{
		"count":         "COUNT(x)",
		"sum":           "SUM(x)",
		"countDistinct": "COUNT(DISTINCT x)",
		"avgDistinct":   "AVG(DISTINCT x)",
		"concat":        "STRING_AGG(CAST(x AS TEXT), ',')",
	} {
		t.Run(fn, func(t *testing.T) {
			got, err := d.Aggregate(fn, e)
			require.NoError(t, err)
			assert.Equal(t, want, got.String())
		})
	}

	_, err := d.Aggregate("median", e)
	assert.ErrorIs(t, err, core.ErrUnsupportedDialectOperation)
}

func TestFunctionLookup(t *testing.T) {
	d := New(testConfig(true)).
		Functions(Common, map[string]Function{"len": Tmpl("CHAR_LENGTH({})", formula.Numeric, 1, 1)}).
		Aliases(map[string]string{"ceil": "CEILING", "LEN": "LENGTH"}).
		Build()

	_, ok := d.Function("if")
	assert.True(t, ok, "lookup is case insensitive")

	_, ok = d.Function("NOPE")
	assert.False(t, ok)

	sql, _ := compileCall(t, d, formula.Fn("CEIL", formula.Numeric, num("n")))
	assert.Equal(t, "CEILING(n)", sql)

	sql, _ = compileCall(t, d, formula.Fn("LEN", formula.Numeric, str("s")))
	assert.Equal(t, "CHAR_LENGTH(s)", sql, "handlers win over aliases")

	names := d.Functions()
	assert.Contains(t, names, "CEIL")
	assert.IsIncreasing(t, names)
}

func TestQuoteIdentifier(t *testing.T) {
	cfg := testConfig(true)
	cfg.Identifiers = core.IdentifierConfig{Quote: "[", QuoteEnd: "]", Escape: "]]"}
	d := New(cfg).Build()
	assert.Equal(t, "[a]]b]", d.QuoteIdentifier("a]b"))
}

func TestParseDateUnit(t *testing.T) {
	tests := []struct {
		in   string
		want DateUnit
		ok   bool
	}{
		{"ms", Millisecond, true},
		{"m", Minute, true},
		{"M", Month, true},
		{"Q", Quarter, true},
		{"days", Day, true},
		{"Weeks", Week, true},
		{"year", Year, true},
		{"fortnight", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDateUnit(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
	assert.True(t, Quarter.Calendar())
	assert.Equal(t, float64(3600), Hour.Seconds())
}

func TestWeekStart(t *testing.T) {
	call := formula.Fn("WEEKDAY", formula.Numeric, formula.Ident("d", formula.Date), formula.Lit("sunday"))
	k, err := WeekStart(call, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, k)

	k, err = WeekStart(formula.Fn("WEEKDAY", formula.Numeric, formula.Ident("d", formula.Date)), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, k)

	_, err = WeekStart(formula.Fn("WEEKDAY", formula.Numeric, formula.Ident("d", formula.Date), formula.Lit("someday")), 1)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	d := New(&core.DialectConfig{Name: "mssql", Engine: core.EngineMSSQL}).Build()
	Register(d)

	got, ok := Get(core.EngineMSSQL)
	require.True(t, ok)
	assert.Same(t, d, got)

	got, err := Lookup("sqlserver")
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = Lookup("")
	assert.ErrorIs(t, err, ErrDialectRequired)

	assert.Contains(t, List(), "mssql")
}
