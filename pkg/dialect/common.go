package dialect

import (
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Common holds the dialect-agnostic functions shared by every engine.
// Engine packages layer their overrides on top.
var Common = map[string]Function{
	"IF":         fnIf,
	"SWITCH":     fnSwitch,
	"AND":        logical("AND"),
	"OR":         logical("OR"),
	"NOT":        fnNot,
	"XOR":        fnXor,
	"TRUE":       boolConst(true),
	"FALSE":      boolConst(false),
	"BLANK":      fnBlank,
	"ISBLANK":    blank(false),
	"ISNOTBLANK": blank(true),

	"STRING":  cast(formula.String),
	"FLOAT":   cast(formula.Numeric),
	"VALUE":   cast(formula.Numeric),
	"BOOLEAN": cast(formula.Boolean),

	"ROUND":     fnRound,
	"ROUNDUP":   roundTo("CEILING"),
	"ROUNDDOWN": roundTo("FLOOR"),
	"MOD":       Tmpl("MOD({}, {})", formula.Numeric, 2, 2),
	"POWER":     Tmpl("POWER({}, {})", formula.Numeric, 2, 2),
	"SQRT":      Tmpl("SQRT({})", formula.Numeric, 1, 1),
	"ABS":       Tmpl("ABS({})", formula.Numeric, 1, 1),
	"CEILING":   Tmpl("CEILING({})", formula.Numeric, 1, 1),
	"FLOOR":     Tmpl("FLOOR({})", formula.Numeric, 1, 1),
	"EXP":       Tmpl("EXP({})", formula.Numeric, 1, 1),
	"LOG":       fnLog,
	"EVEN":      Repeat("(CASE WHEN {} >= 0 THEN CEILING({} / 2.0) * 2 ELSE FLOOR({} / 2.0) * 2 END)", formula.Numeric),
	"ODD":       Repeat("(CASE WHEN {} >= 0 THEN CEILING(({} - 1) / 2.0) * 2 + 1 ELSE FLOOR(({} + 1) / 2.0) * 2 - 1 END)", formula.Numeric),
	"AVG":       fnAvg,
	"COUNT":     count(false),
	"COUNTA":    count(true),
	"COUNTALL":  fnCountAll,
	"MIN":       extreme(false),
	"MAX":       extreme(true),

	"LOWER":   Tmpl("LOWER({})", formula.String, 1, 1),
	"UPPER":   Tmpl("UPPER({})", formula.String, 1, 1),
	"TRIM":    Tmpl("TRIM({})", formula.String, 1, 1),
	"LEFT":    Tmpl("LEFT({}, {})", formula.String, 2, 2),
	"RIGHT":   Tmpl("RIGHT({}, {})", formula.String, 2, 2),
	"MID":     substr("SUBSTR"),
	"SUBSTR":  substr("SUBSTR"),
	"REPLACE": Tmpl("REPLACE({}, {}, {})", formula.String, 3, 3),
	"REPEAT":  Tmpl("REPEAT({}, {})", formula.String, 2, 2),
	"URL":     fnURL,

	"RECORD_ID": fnRecordID,

	"YEAR":  extract("YEAR"),
	"MONTH": extract("MONTH"),
	"DAY":   extract("DAY"),
	"HOUR":  extract("HOUR"),
}

func fnIf(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 2, 3); err != nil {
		return Value{}, err
	}
	cond, err := c.Cond(call, 0)
	if err != nil {
		return Value{}, err
	}
	then, err := c.Arg(call, 1)
	if err != nil {
		return Value{}, err
	}
	d := c.Dialect()
	els := Value{Expr: sqlb.Null(), Type: formula.Null}
	if len(call.Args) == 3 {
		if els, err = c.Arg(call, 2); err != nil {
			return Value{}, err
		}
	}
	t := then.Type
	if t == formula.Null || t == formula.Unknown {
		t = els.Type
	}
	return Value{
		Expr: sqlb.Template("CASE WHEN {} THEN {} ELSE {} END", cond, d.Value(then), d.Value(els)),
		Type: t,
	}, nil
}

func fnSwitch(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 3, -1); err != nil {
		return Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return Value{}, err
	}
	d := c.Dialect()
	exprs := Exprs(d, args)

	parts := []sqlb.Expr{sqlb.Raw("CASE "), exprs[0]}
	pairs := exprs[1:]
	var t formula.DataType
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, sqlb.Raw(" WHEN "), pairs[i], sqlb.Raw(" THEN "), pairs[i+1])
		if t == formula.Unknown {
			t = args[i+2].Type
		}
	}
	if len(pairs)%2 == 1 {
		parts = append(parts, sqlb.Raw(" ELSE "), pairs[len(pairs)-1])
	}
	parts = append(parts, sqlb.Raw(" END"))
	return Value{Expr: sqlb.Concat(parts...), Type: t}, nil
}

func logical(op string) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, -1); err != nil {
			return Value{}, err
		}
		conds := make([]sqlb.Expr, len(call.Args))
		for i := range call.Args {
			cond, err := c.Cond(call, i)
			if err != nil {
				return Value{}, err
			}
			conds[i] = sqlb.Paren(cond)
		}
		return Value{Expr: sqlb.Paren(sqlb.Join(" "+op+" ", conds...)), Type: formula.Boolean, Predicate: true}, nil
	}
}

func fnNot(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 1, 1); err != nil {
		return Value{}, err
	}
	cond, err := c.Cond(call, 0)
	if err != nil {
		return Value{}, err
	}
	return Value{Expr: sqlb.Template("NOT ({})", cond), Type: formula.Boolean, Predicate: true}, nil
}

// fnXor is true when an odd number of arguments are true.
func fnXor(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 2, -1); err != nil {
		return Value{}, err
	}
	terms := make([]sqlb.Expr, len(call.Args))
	for i := range call.Args {
		cond, err := c.Cond(call, i)
		if err != nil {
			return Value{}, err
		}
		terms[i] = sqlb.Template("(CASE WHEN {} THEN 1 ELSE 0 END)", cond)
	}
	return Value{
		Expr:      sqlb.Template("({}) % 2 = 1", sqlb.Join(" + ", terms...)),
		Type:      formula.Boolean,
		Predicate: true,
	}, nil
}

func boolConst(b bool) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 0, 0); err != nil {
			return Value{}, err
		}
		return Value{Expr: c.Dialect().BooleanLiteral(b), Type: formula.Boolean}, nil
	}
}

func fnBlank(_ Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 0, 0); err != nil {
		return Value{}, err
	}
	return Value{Expr: sqlb.Null(), Type: formula.Null}, nil
}

func blank(negate bool) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, 1); err != nil {
			return Value{}, err
		}
		v, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		return Value{Expr: c.Dialect().Blank(v, negate), Type: formula.Boolean, Predicate: true}, nil
	}
}

func cast(to formula.DataType) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, 1); err != nil {
			return Value{}, err
		}
		v, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		return c.Dialect().Cast(v, to), nil
	}
}

func fnRound(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 1, 2); err != nil {
		return Value{}, err
	}
	v, err := c.Arg(call, 0)
	if err != nil {
		return Value{}, err
	}
	prec, err := precision(c, call, 1)
	if err != nil {
		return Value{}, err
	}
	return Value{Expr: sqlb.Fn("ROUND", c.Dialect().Value(v), prec), Type: formula.Numeric}, nil
}

// precision compiles the optional precision argument i, defaulting to 0.
// Integer literals are inlined so engines that require an integer see one.
func precision(c Compiler, call *formula.Call, i int) (sqlb.Expr, error) {
	if i >= len(call.Args) {
		return Int(0), nil
	}
	if n, ok := IntLiteral(call, i); ok {
		return Int(n), nil
	}
	v, err := c.Arg(call, i)
	if err != nil {
		return sqlb.Expr{}, err
	}
	return c.Dialect().Value(v), nil
}

func roundTo(fn string) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, 2); err != nil {
			return Value{}, err
		}
		v, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		prec, err := precision(c, call, 1)
		if err != nil {
			return Value{}, err
		}
		d := c.Dialect()
		scale := sqlb.Template("POWER({}, {})", d.Cast(Value{Expr: Int(10)}, formula.Numeric).Expr, prec)
		return Value{
			Expr: sqlb.Template(fn+"({} * {}) / {}", d.Value(v), scale, scale),
			Type: formula.Numeric,
		}, nil
	}
}

func fnLog(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 1, 2); err != nil {
		return Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return Value{}, err
	}
	exprs := Exprs(c.Dialect(), args)
	if len(exprs) == 1 {
		return Value{Expr: sqlb.Fn("LN", exprs[0]), Type: formula.Numeric}, nil
	}
	return Value{Expr: sqlb.Fn("LOG", exprs[0], exprs[1]), Type: formula.Numeric}, nil
}

// fnAvg averages its arguments; NULL arguments count as 0.
func fnAvg(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 1, -1); err != nil {
		return Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return Value{}, err
	}
	d := c.Dialect()
	if len(args) == 1 {
		return Value{Expr: d.Value(args[0]), Type: formula.Numeric}, nil
	}
	terms := make([]sqlb.Expr, len(args))
	for i, a := range args {
		terms[i] = sqlb.Template("COALESCE({}, 0)", d.Value(a))
	}
	return Value{
		Expr: sqlb.Template("(({}) / {})", sqlb.Join(" + ", terms...), d.Cast(Value{Expr: Int(len(args))}, formula.Numeric).Expr),
		Type: formula.Numeric,
	}, nil
}

// count adds one per non-NULL argument; COUNTA also skips ''.
func count(nonEmpty bool) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, -1); err != nil {
			return Value{}, err
		}
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		d := c.Dialect()
		terms := make([]sqlb.Expr, len(args))
		for i, a := range args {
			cond := d.Blank(a, true)
			if !nonEmpty {
				cond = sqlb.Template("{} IS NOT NULL", d.Value(a))
			}
			terms[i] = sqlb.Template("(CASE WHEN {} THEN 1 ELSE 0 END)", cond)
		}
		return Value{Expr: sqlb.Paren(sqlb.Join(" + ", terms...)), Type: formula.Numeric}, nil
	}
}

func fnCountAll(_ Compiler, call *formula.Call) (Value, error) {
	return Value{Expr: Int(len(call.Args)), Type: formula.Numeric}, nil
}

func extreme(greatest bool) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, -1); err != nil {
			return Value{}, err
		}
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		d := c.Dialect()
		return Value{Expr: d.Extreme(greatest, Exprs(d, args)), Type: formula.Numeric}, nil
	}
}

func substr(name string) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 2, 3); err != nil {
			return Value{}, err
		}
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		return Value{Expr: sqlb.Fn(name, Exprs(c.Dialect(), args)...), Type: formula.String}, nil
	}
}

// fnURL wraps a value (and optional label) in the URI::( ... ) envelope the
// grid renders as a link. Parentheses inside the value are escaped.
func fnURL(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 1, 2); err != nil {
		return Value{}, err
	}
	args, err := c.Args(call)
	if err != nil {
		return Value{}, err
	}
	d := c.Dialect()
	escaped := sqlb.Template("REPLACE(REPLACE({}, {}, {}), {}, {})",
		d.Value(args[0]), sqlb.Arg("("), sqlb.Arg(`\(`), sqlb.Arg(")"), sqlb.Arg(`\)`))
	parts := []sqlb.Expr{sqlb.Arg("URI::( "), escaped, sqlb.Arg(" )")}
	if len(args) == 2 {
		parts = append(parts, sqlb.Arg(" LABEL::( "), d.Value(args[1]), sqlb.Arg(" )"))
	}
	return Value{Expr: d.Concat(parts), Type: formula.String}, nil
}

func fnRecordID(c Compiler, call *formula.Call) (Value, error) {
	if err := Arity(call, 0, 0); err != nil {
		return Value{}, err
	}
	pk, err := c.RecordID()
	if err != nil {
		return Value{}, err
	}
	return Value{Expr: pk, Type: formula.String}, nil
}

func extract(part string) Function {
	return Tmpl("EXTRACT("+part+" FROM {})", formula.Numeric, 1, 1)
}
