package postgres

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func init() {
	dialect.Register(Postgres)
}

// Postgres is the PostgreSQL dialect.
//
// Literals reach the server untyped, so functions that are overloaded on
// numeric/double or timestamp/date cast their arguments explicitly.
var Postgres = dialect.New(Config).
	Functions(dialect.Common, functions).
	Aliases(map[string]string{
		"LEN": "LENGTH",
	}).
	Extreme(func(greatest bool, args []sqlb.Expr) sqlb.Expr {
		// LEAST/GREATEST ignore NULL arguments natively
		if greatest {
			return sqlb.Fn("GREATEST", args...)
		}
		return sqlb.Fn("LEAST", args...)
	}).
	UTC(utc).
	JSONValue(func(col sqlb.Expr) sqlb.Expr {
		return sqlb.Template("(CAST({} AS JSONB) ->> 'value')", col)
	}).
	Build()

var functions = map[string]dialect.Function{
	"ROUND":  round,
	"MOD":    dialect.Tmpl("MOD(CAST({} AS NUMERIC), CAST({} AS NUMERIC))", formula.Numeric, 2, 2),
	"LOG":    logarithm,
	"INT":    dialect.Tmpl("CAST(TRUNC(CAST({} AS DOUBLE PRECISION)) AS BIGINT)", formula.Numeric, 1, 1),
	"SEARCH": dialect.Reorder("POSITION({} IN {})", formula.Numeric, 1, 0),
	"NOW":    dialect.Tmpl("NOW()", formula.Date, 0, 0),
	"TODAY":  dialect.Tmpl("CURRENT_DATE", formula.Date, 0, 0),

	"YEAR":  extract("YEAR"),
	"MONTH": extract("MONTH"),
	"DAY":   extract("DAY"),
	"HOUR":  extract("HOUR"),

	"WEEKDAY": dialect.Weekday(func(date sqlb.Expr, offset int) sqlb.Expr {
		return sqlb.Template("MOD(CAST(EXTRACT(ISODOW FROM CAST({} AS TIMESTAMP)) AS INTEGER) + {}, 7)",
			date, dialect.Int(6-offset))
	}),
	"DATEADD":       dialect.DateAdd(dateAdd),
	"DATETIME_DIFF": dialect.DateDiff(dateDiff),

	"REGEX_MATCH":   dialect.Pred("(CAST({} AS TEXT) ~ {})", 2, 2),
	"REGEX_EXTRACT": dialect.Tmpl("SUBSTRING(CAST({} AS TEXT) FROM {})", formula.String, 2, 2),
	"REGEX_REPLACE": dialect.Tmpl("REGEXP_REPLACE(CAST({} AS TEXT), {}, {}, 'g')", formula.String, 3, 3),
}

func round(c dialect.Compiler, call *formula.Call) (dialect.Value, error) {
	if err := dialect.Arity(call, 1, 2); err != nil {
		return dialect.Value{}, err
	}
	v, err := c.Arg(call, 0)
	if err != nil {
		return dialect.Value{}, err
	}
	prec := dialect.Int(0)
	if len(call.Args) == 2 {
		if n, ok := dialect.IntLiteral(call, 1); ok {
			prec = dialect.Int(n)
		} else {
			p, err := c.Arg(call, 1)
			if err != nil {
				return dialect.Value{}, err
			}
			prec = sqlb.Template("CAST({} AS INTEGER)", c.Dialect().Value(p))
		}
	}
	return dialect.Value{
		Expr: sqlb.Template("ROUND(CAST({} AS NUMERIC), {})", c.Dialect().Value(v), prec),
		Type: formula.Numeric,
	}, nil
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
		return dialect.Value{Expr: sqlb.Template("LN(CAST({} AS DOUBLE PRECISION))", exprs[0]), Type: formula.Numeric}, nil
	}
	return dialect.Value{
		Expr: sqlb.Template("LOG(CAST({} AS NUMERIC), CAST({} AS NUMERIC))", exprs[0], exprs[1]),
		Type: formula.Numeric,
	}, nil
}

func extract(part string) dialect.Function {
	return dialect.Tmpl("EXTRACT("+part+" FROM CAST({} AS TIMESTAMP))", formula.Numeric, 1, 1)
}

func interval(u dialect.DateUnit) string {
	switch u {
	case dialect.Quarter:
		return "INTERVAL '3 months'"
	default:
		return "INTERVAL '1 " + u.String() + "'"
	}
}

func dateAdd(date, n sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	return sqlb.Template("(CAST({} AS TIMESTAMP) + CAST({} AS INTEGER) * "+interval(u)+")", date, n)
}

func dateDiff(a, b sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	ta := sqlb.Template("CAST({} AS TIMESTAMP)", a)
	tb := sqlb.Template("CAST({} AS TIMESTAMP)", b)
	age := sqlb.Template("AGE({}, {})", ta, tb)
	months := sqlb.Template("(DATE_PART('year', {}) * 12 + DATE_PART('month', {}))", age, age)
	switch u {
	case dialect.Millisecond:
		return sqlb.Template("CAST(TRUNC(EXTRACT(EPOCH FROM ({} - {})) * 1000) AS BIGINT)", ta, tb)
	case dialect.Month:
		return sqlb.Template("CAST({} AS BIGINT)", months)
	case dialect.Quarter:
		return sqlb.Template("CAST(TRUNC({} / 3) AS BIGINT)", months)
	case dialect.Year:
		return sqlb.Template("CAST(DATE_PART('year', {}) AS BIGINT)", age)
	default:
		return sqlb.Template("CAST(TRUNC(EXTRACT(EPOCH FROM ({} - {})) / "+strconv.Itoa(int(u.Seconds()))+") AS BIGINT)", ta, tb)
	}
}

// utc converts a local timestamp to UTC unless the column already stores
// an absolute instant.
func utc(col sqlb.Expr, physicalType string) sqlb.Expr {
	t := strings.ToLower(physicalType)
	if strings.Contains(t, "timestamptz") || strings.Contains(t, "with time zone") {
		return col
	}
	return sqlb.Template("({} AT TIME ZONE CURRENT_SETTING('timezone') AT TIME ZONE 'UTC')", col)
}
