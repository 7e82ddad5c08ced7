package mysql

import (
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

func init() {
	dialect.Register(MySQL)
}

// MySQL is the MySQL dialect (8.0 and later).
var MySQL = dialect.New(Config).
	Functions(dialect.Common, functions).
	Aliases(map[string]string{
		"LEN": "CHAR_LENGTH",
	}).
	Concat(func(args []sqlb.Expr) sqlb.Expr {
		// CONCAT returns NULL as soon as one argument is NULL
		parts := make([]sqlb.Expr, len(args))
		for i, a := range args {
			parts[i] = sqlb.Template("IFNULL({}, '')", a)
		}
		return sqlb.Fn("CONCAT", parts...)
	}).
	UTC(func(col sqlb.Expr, _ string) sqlb.Expr {
		return sqlb.Template("CONVERT_TZ({}, @@GLOBAL.time_zone, '+00:00')", col)
	}).
	JSONValue(func(col sqlb.Expr) sqlb.Expr {
		return sqlb.Template("JSON_UNQUOTE(JSON_EXTRACT({}, '$.value'))", col)
	}).
	GroupConcat(func(e sqlb.Expr) sqlb.Expr {
		return sqlb.Fn("GROUP_CONCAT", e)
	}).
	Build()

var functions = map[string]dialect.Function{
	"INT":    dialect.Tmpl("CAST(TRUNCATE({}, 0) AS SIGNED)", formula.Numeric, 1, 1),
	"SEARCH": dialect.Reorder("LOCATE({}, {})", formula.Numeric, 1, 0),
	"NOW":    dialect.Tmpl("NOW()", formula.Date, 0, 0),
	"TODAY":  dialect.Tmpl("CURDATE()", formula.Date, 0, 0),

	"WEEKDAY": dialect.Weekday(func(date sqlb.Expr, offset int) sqlb.Expr {
		return sqlb.Template("MOD(WEEKDAY({}) + {}, 7)", date, dialect.Int(7-offset))
	}),
	"DATEADD":       dialect.DateAdd(dateAdd),
	"DATETIME_DIFF": dialect.DateDiff(dateDiff),

	"REGEX_MATCH":   dialect.Pred("({} REGEXP {})", 2, 2),
	"REGEX_EXTRACT": dialect.Tmpl("REGEXP_SUBSTR({}, {})", formula.String, 2, 2),
	"REGEX_REPLACE": dialect.Tmpl("REGEXP_REPLACE({}, {}, {})", formula.String, 3, 3),
}

func dateAdd(date, n sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	if u == dialect.Millisecond {
		return sqlb.Template("DATE_ADD({}, INTERVAL ({} * 1000) MICROSECOND)", date, n)
	}
	return sqlb.Template("DATE_ADD({}, INTERVAL {} "+strings.ToUpper(u.String())+")", date, n)
}

func dateDiff(a, b sqlb.Expr, u dialect.DateUnit) sqlb.Expr {
	if u == dialect.Millisecond {
		return sqlb.Template("(TIMESTAMPDIFF(MICROSECOND, {}, {}) DIV 1000)", b, a)
	}
	return sqlb.Template("TIMESTAMPDIFF("+strings.ToUpper(u.String())+", {}, {})", b, a)
}
