package mssql

import (
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func init() {
	dialect.Register(MSSQL)
}

// MSSQL is the SQL Server dialect (2017 and later).
var MSSQL = dialect.New(Config).
	Functions(dialect.Common, functions).
	Aliases(map[string]string{
		"REPEAT": "REPLICATE",
	}).
	Extreme(extreme).
	UTC(utc).
	Build()

var functions = map[string]dialect.Function{
	"MOD":    dialect.Tmpl("(CAST({} AS DECIMAL(38, 10)) % CAST({} AS DECIMAL(38, 10)))", formula.Numeric, 2, 2),
	"LOG":    logarithm,
	"INT":    dialect.Tmpl("CAST(ROUND(CAST({} AS FLOAT), 0, 1) AS BIGINT)", formula.Numeric, 1, 1),
	"LEN":    dialect.Tmpl("LEN({})", formula.Numeric, 1, 1),
	"MID":    substring,
	"SUBSTR": substring,
	"SEARCH": dialect.Reorder("CHARINDEX({}, {})", formula.Numeric, 1, 0),
	"NOW":    dialect.Tmpl("GETDATE()", formula.Date, 0, 0),
	"TODAY":  dialect.Tmpl("CAST(GETDATE() AS DATE)", formula.Date, 0, 0),

	"YEAR":  datepart("year"),
	"MONTH": datepart("month"),
	"DAY":   datepart("day"),
	"HOUR":  datepart("hour"),

	"WEEKDAY": dialect.Weekday(func(date sqlb.Expr, offset int) sqlb.Expr {
		// 1900-01-01 was a Monday
		return sqlb.Template("((DATEDIFF(day, '19000101', {}) % 7 + {}) % 7)", date, dialect.Int(7-offset))
	}),
	"DATEADD": dialect.DateAdd(func(date, n sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
		return sqlb.Template("DATEADD("+u.String()+", CAST({} AS INT), {})", n, date)
	}),
	"DATETIME_DIFF": dialect.DateDiff(func(a, b sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
		fn := "DATEDIFF"
		if u == dialect.Millisecond || u == dialect.Second {
			fn = "DATEDIFF_BIG"
		}
		return sqlb.Template(fn+"("+u.String()+", {}, {})", b, a)
	}),

	"REGEX_MATCH":   dialect.UnsupportedFunction("REGEX_MATCH"),
	"REGEX_EXTRACT": dialect.UnsupportedFunction("REGEX_EXTRACT"),
	"REGEX_REPLACE": dialect.UnsupportedFunction("REGEX_REPLACE"),
}

// utc converts a stored timestamp to UTC. Values without an offset are read
// in the server's current offset first.
func utc(col sqlb.Expr, physicalType string) sqlb.Expr {
	if strings.Contains(strings.ToLower(physicalType), "datetimeoffset") {
		return sqlb.Template("CONVERT(DATETIMEOFFSET, {} AT TIME ZONE 'UTC')", col)
	}
	return sqlb.Template(
		"CONVERT(DATETIMEOFFSET, TODATETIMEOFFSET({}, DATEPART(TZOFFSET, SYSDATETIMEOFFSET())) AT TIME ZONE 'UTC')", col)
}

// extreme picks the minimum or maximum through a VALUES list, which skips
// NULL rows the way LEAST/GREATEST do elsewhere.
func extreme(greatest bool, args []sqlb.Expr) sqlb.Expr {
	agg := "MIN"
	if greatest {
		agg = "MAX"
	}
	rows := make([]sqlb.Expr, len(args))
	for i, a := range args {
		rows[i] = sqlb.Paren(a)
	}
	return sqlb.Template("(SELECT "+agg+"(v) FROM (VALUES {}) AS t(v))", sqlb.Join(", ", rows...))
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
		return dialect.Value{Expr: sqlb.Fn("LOG", exprs[0]), Type: formula.Numeric}, nil
	}
	// LOG(x, base)
	return dialect.Value{Expr: sqlb.Fn("LOG", exprs[1], exprs[0]), Type: formula.Numeric}, nil
}

func substring(c dialect.Compiler, call *formula.Call) (dialect.Value, error) {
	if err := dialect.Arity(call, 2, 3); err != nil {
		return dialect.Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return dialect.Value{}, err
	}
	exprs := dialect.Exprs(c.Dialect(), args)
	length := sqlb.Fn("LEN", exprs[0])
	if len(exprs) == 3 {
		length = sqlb.Fn("COALESCE", exprs[2], length)
	}
	return dialect.Value{Expr: sqlb.Fn("SUBSTRING", exprs[0], exprs[1], length), Type: formula.String}, nil
}

func datepart(part string) dialect.Function {
	return dialect.Tmpl("DATEPART("+part+", {})", formula.Numeric, 1, 1)
}
