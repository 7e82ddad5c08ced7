package sqlite

import (
	"strconv"

	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func init() {
	dialect.Register(SQLite)
}

// Names of the scalar functions the sqlite adapter registers.
const (
	RegexExtractFunc = "GS_REGEX_EXTRACT"
	RegexReplaceFunc = "GS_REGEX_REPLACE"
)

// SQLite is the SQLite dialect.
var SQLite = dialect.New(Config).
	Functions(dialect.Common, functions).
	Aliases(map[string]string{
		"LEN": "LENGTH",
	}).
	Extreme(dialect.CoalescingExtremeNamed("MIN", "MAX")).
	UTC(func(col sqlb.Expr, _ string) sqlb.Expr {
		return sqlb.Fn("DATETIME", col)
	}).
	JSONValue(func(col sqlb.Expr) sqlb.Expr {
		return sqlb.Template("json_extract({}, '$.value')", col)
	}).
	GroupConcat(func(e sqlb.Expr) sqlb.Expr {
		return sqlb.Fn("GROUP_CONCAT", e)
	}).
	Build()

var functions = map[string]dialect.Function{
	"MOD":    dialect.Tmpl("({} % {})", formula.Numeric, 2, 2),
	"INT":    dialect.Tmpl("CAST({} AS INTEGER)", formula.Numeric, 1, 1),
	"LEFT":   dialect.Tmpl("SUBSTR({}, 1, {})", formula.String, 2, 2),
	"RIGHT":  dialect.Tmpl("SUBSTR({}, -({}))", formula.String, 2, 2),
	"REPEAT": dialect.Reorder("REPLACE(PRINTF('%.' || CAST({} AS INTEGER) || 'c', '/'), '/', {})", formula.String, 1, 0),
	"SEARCH": dialect.Tmpl("INSTR({}, {})", formula.Numeric, 2, 2),
	"NOW":    dialect.Tmpl("DATETIME('now')", formula.Date, 0, 0),
	"TODAY":  dialect.Tmpl("DATE('now')", formula.Date, 0, 0),

	"YEAR":  strftime("%Y"),
	"MONTH": strftime("%m"),
	"DAY":   strftime("%d"),
	"HOUR":  strftime("%H"),

	"WEEKDAY": dialect.Weekday(func(date sqlb.Expr, offset int) sqlb.Expr {
		// %w counts from Sunday
		return sqlb.Template("((CAST(STRFTIME('%w', {}) AS INTEGER) + {}) % 7)", date, dialect.Int(13-offset))
	}),
	"DATEADD":       dialect.DateAdd(dateAdd),
	"DATETIME_DIFF": dialect.DateDiff(dateDiff),

	"REGEX_MATCH":   dialect.Pred("({} REGEXP {})", 2, 2),
	"REGEX_EXTRACT": dialect.Tmpl(RegexExtractFunc+"({}, {})", formula.String, 2, 2),
	"REGEX_REPLACE": dialect.Tmpl(RegexReplaceFunc+"({}, {}, {})", formula.String, 3, 3),
}

func strftime(format string) dialect.Function {
	return dialect.Tmpl("CAST(STRFTIME('"+format+"', {}) AS INTEGER)", formula.Numeric, 1, 1)
}

// dateAdd applies a DATETIME modifier such as '3 days'.
func dateAdd(date, n sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	count := sqlb.Template("CAST({} AS INTEGER)", n)
	unit := u.String()
	switch u {
	case dialect.Millisecond:
		count = sqlb.Template("({} / 1000.0)", n)
		unit = "second"
	case dialect.Week:
		count = sqlb.Template("(CAST({} AS INTEGER) * 7)", n)
		unit = "day"
	case dialect.Quarter:
		count = sqlb.Template("(CAST({} AS INTEGER) * 3)", n)
		unit = "month"
	}
	return sqlb.Template("DATETIME({}, CAST({} AS TEXT) || ' "+unit+"s')", date, count)
}

func dateDiff(a, b sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	if u.Calendar() {
		months := sqlb.Template(
			"((CAST(STRFTIME('%Y', {}) AS INTEGER) - CAST(STRFTIME('%Y', {}) AS INTEGER)) * 12"+
				" + (CAST(STRFTIME('%m', {}) AS INTEGER) - CAST(STRFTIME('%m', {}) AS INTEGER)))",
			a, b, a, b)
		switch u {
		case dialect.Quarter:
			return sqlb.Template("({} / 3)", months)
		case dialect.Year:
			return sqlb.Template("({} / 12)", months)
		default:
			return months
		}
	}
	// whole milliseconds first; integer division then truncates toward zero
	ms := strconv.Itoa(int(u.Seconds() * 1000))
	return sqlb.Template("(CAST(ROUND((JULIANDAY({}) - JULIANDAY({})) * 86400000) AS INTEGER) / "+ms+")", a, b)
}
