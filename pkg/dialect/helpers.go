package dialect

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Exprs returns the selectable expression of each value.
func Exprs(d Operators, vals []Value) []sqlb.Expr {
	out := make([]sqlb.Expr, len(vals))
	for i, v := range vals {
		out[i] = d.Value(v)
	}
	return out
}

// Arity validates the number of arguments. max < 0 means unbounded.
func Arity(call *formula.Call, minArgs, maxArgs int) error {
	n := len(call.Args)
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		switch {
		case maxArgs < 0:
			return Errorf("%s expects at least %d argument(s), got %d", call.Upper(), minArgs, n)
		case minArgs == maxArgs:
			return Errorf("%s expects %d argument(s), got %d", call.Upper(), minArgs, n)
		default:
			return Errorf("%s expects %d to %d arguments, got %d", call.Upper(), minArgs, maxArgs, n)
		}
	}
	return nil
}

// Rename emits name(arg, ...) over the compiled arguments.
func Rename(name string) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		return Value{Expr: sqlb.Fn(name, Exprs(c.Dialect(), args)...), Type: call.DataType}, nil
	}
}

// Tmpl emits a template whose {} slots take the compiled arguments in order.
func Tmpl(tmpl string, t formula.DataType, minArgs, maxArgs int) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, minArgs, maxArgs); err != nil {
			return Value{}, err
		}
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		return Value{Expr: sqlb.Template(tmpl, Exprs(c.Dialect(), args)...), Type: t}, nil
	}
}

// Reorder is Tmpl with the compiled arguments placed into the slots in the
// given order, e.g. Reorder("POSITION({} IN {})", t, 1, 0).
func Reorder(tmpl string, t formula.DataType, order ...int) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, len(order), len(order)); err != nil {
			return Value{}, err
		}
		args, err := c.Args(call)
		if err != nil {
			return Value{}, err
		}
		exprs := Exprs(c.Dialect(), args)
		slots := make([]sqlb.Expr, len(order))
		for i, idx := range order {
			slots[i] = exprs[idx]
		}
		return Value{Expr: sqlb.Template(tmpl, slots...), Type: t}, nil
	}
}

// Repeat emits a template whose every {} slot is the single argument.
func Repeat(tmpl string, t formula.DataType) Function {
	slots := strings.Count(tmpl, "{}")
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, 1); err != nil {
			return Value{}, err
		}
		v, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		e := c.Dialect().Value(v)
		args := make([]sqlb.Expr, slots)
		for i := range args {
			args[i] = e
		}
		return Value{Expr: sqlb.Template(tmpl, args...), Type: t}, nil
	}
}

// Pred is Tmpl for templates that produce a condition.
func Pred(tmpl string, minArgs, maxArgs int) Function {
	inner := Tmpl(tmpl, formula.Boolean, minArgs, maxArgs)
	return func(c Compiler, call *formula.Call) (Value, error) {
		v, err := inner(c, call)
		v.Predicate = err == nil
		return v, err
	}
}

// UnsupportedFunction returns a handler that always fails for engine-specific gaps.
func UnsupportedFunction(name string) Function {
	return func(c Compiler, _ *formula.Call) (Value, error) {
		return Value{}, Unsupported(c.Dialect().Engine(), name)
	}
}

// LiteralString returns argument i as a string literal. ok is false when the
// argument is absent; a non-literal argument is an error.
func LiteralString(call *formula.Call, i int) (s string, ok bool, err error) {
	if i >= len(call.Args) {
		return "", false, nil
	}
	l, isLit := call.Args[i].(*formula.Literal)
	if !isLit {
		return "", false, Errorf("argument %d of %s must be a literal", i+1, call.Upper())
	}
	switch v := l.Value.(type) {
	case string:
		return v, true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	default:
		return "", false, Errorf("argument %d of %s must be a text literal", i+1, call.Upper())
	}
}

// IntLiteral returns argument i as an integer when it is a numeric literal.
func IntLiteral(call *formula.Call, i int) (int, bool) {
	if i >= len(call.Args) {
		return 0, false
	}
	l, ok := call.Args[i].(*formula.Literal)
	if !ok {
		return 0, false
	}
	f, ok := l.Value.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// DateUnit is a unit accepted by DATEADD and DATETIME_DIFF.
type DateUnit int

// Date units.
const (
	Millisecond DateUnit = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

// ParseDateUnit accepts the long, plural and single-letter forms. Single
// letters are case-sensitive: m is minutes, M is months.
func ParseDateUnit(s string) (DateUnit, bool) {
	switch s {
	case "ms":
		return Millisecond, true
	case "s":
		return Second, true
	case "m":
		return Minute, true
	case "h":
		return Hour, true
	case "d":
		return Day, true
	case "w":
		return Week, true
	case "M":
		return Month, true
	case "Q":
		return Quarter, true
	case "y":
		return Year, true
	}
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "millisecond":
		return Millisecond, true
	case "second":
		return Second, true
	case "minute":
		return Minute, true
	case "hour":
		return Hour, true
	case "day":
		return Day, true
	case "week":
		return Week, true
	case "month":
		return Month, true
	case "quarter":
		return Quarter, true
	case "year":
		return Year, true
	}
	return 0, false
}

// String returns the singular lower-case unit name.
func (u DateUnit) String() string {
	return [...]string{"millisecond", "second", "minute", "hour", "day", "week", "month", "quarter", "year"}[u]
}

// Seconds returns the length of fixed-size units; calendar units return 0.
func (u DateUnit) Seconds() float64 {
	switch u {
	case Millisecond:
		return 0.001
	case Second:
		return 1
	case Minute:
		return 60
	case Hour:
		return 3600
	case Day:
		return 86400
	case Week:
		return 604800
	default:
		return 0
	}
}

// Calendar reports whether the unit has a variable length.
func (u DateUnit) Calendar() bool {
	return u == Month || u == Quarter || u == Year
}

// UnitArg reads a date unit literal at argument i, defaulting to def.
func UnitArg(call *formula.Call, i int, def DateUnit) (DateUnit, error) {
	s, ok, err := LiteralString(call, i)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	u, ok := ParseDateUnit(s)
	if !ok {
		return 0, Errorf("unknown date unit %q in %s", s, call.Upper())
	}
	return u, nil
}

// WeekStart reads the optional start-of-week argument of WEEKDAY and returns
// its offset from Monday (0..6).
func WeekStart(call *formula.Call, i int) (int, error) {
	s, ok, err := LiteralString(call, i)
	if err != nil || !ok {
		return 0, err
	}
	days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	for idx, d := range days {
		if strings.EqualFold(s, d) || strings.EqualFold(s, d[:3]) {
			return idx, nil
		}
	}
	return 0, Errorf("unknown day of week %q in WEEKDAY", s)
}

// Int renders a trusted integer constant.
func Int(n int) sqlb.Expr {
	return sqlb.Raw(strconv.Itoa(n))
}
