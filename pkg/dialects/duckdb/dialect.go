package duckdb

import (
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func init() {
	dialect.Register(DuckDB)
}

// DuckDB is the DuckDB dialect.
var DuckDB = dialect.New(Config).
	Functions(dialect.Common, functions).
	Aliases(map[string]string{
		"LEN": "LENGTH",
	}).
	UTC(func(col sqlb.Expr, _ string) sqlb.Expr {
		return sqlb.Template("({} AT TIME ZONE 'UTC')", col)
	}).
	JSONValue(func(col sqlb.Expr) sqlb.Expr {
		return sqlb.Template("json_extract_string({}, '$.value')", col)
	}).
	Build()

var functions = map[string]dialect.Function{
	"MOD":    dialect.Tmpl("({} % {})", formula.Numeric, 2, 2),
	"LOG":    logarithm,
	"INT":    dialect.Tmpl("CAST(TRUNC(CAST({} AS DOUBLE)) AS BIGINT)", formula.Numeric, 1, 1),
	"SEARCH": dialect.Tmpl("INSTR({}, {})", formula.Numeric, 2, 2),
	"NOW":    dialect.Tmpl("NOW()", formula.Date, 0, 0),
	"TODAY":  dialect.Tmpl("CURRENT_DATE", formula.Date, 0, 0),

	"WEEKDAY": dialect.Weekday(func(date sqlb.Expr, offset int) sqlb.Expr {
		return sqlb.Template("((CAST(EXTRACT(ISODOW FROM CAST({} AS TIMESTAMP)) AS INTEGER) + {}) % 7)",
			date, dialect.Int(6-offset))
	}),
	"DATEADD":       dialect.DateAdd(dateAdd),
	"DATETIME_DIFF": dialect.DateDiff(dateDiff),

	"REGEX_MATCH":   dialect.Pred("REGEXP_MATCHES({}, {})", 2, 2),
	"REGEX_EXTRACT": dialect.Tmpl("REGEXP_EXTRACT({}, {})", formula.String, 2, 2),
	"REGEX_REPLACE": dialect.Tmpl("REGEXP_REPLACE({}, {}, {}, 'g')", formula.String, 3, 3),
}

func logarithm(c dialect.Compiler, call *formula.Call) (dialect.Value, error) {
	if err := dialect.Arity(call, 1, 2); err != nil {
		return dialect.Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return dialect.Value{}, err
	}
	exprs := dialect.Exprs(c.Dialect(), args)
	if len(exprs) == 1 {
		return dialect.Value{Expr: sqlb.Fn("LN", exprs[0]), Type: formula.Numeric}, nil
	}
	return dialect.Value{Expr: sqlb.Template("(LN({}) / LN({}))", exprs[1], exprs[0]), Type: formula.Numeric}, nil
}

func dateAdd(date, n sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	fn := "TO_" + strings.ToUpper(u.String()) + "S"
	count := sqlb.Template("CAST({} AS INTEGER)", n)
	if u == dialect.Quarter {
		fn = "TO_MONTHS"
		count = sqlb.Template("(CAST({} AS INTEGER) * 3)", n)
	}
	return sqlb.Template("(CAST({} AS TIMESTAMP) + "+fn+"({}))", date, count)
}

func dateDiff(a, b sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	return sqlb.Template("DATE_DIFF('"+u.String()+"', CAST({} AS TIMESTAMP), CAST({} AS TIMESTAMP))", b, a)
}
