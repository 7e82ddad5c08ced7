package dialect

import (
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// DateAddShape renders date + n units for one engine.
type DateAddShape func(date, n sqlb.Expr, u DateUnit) sqlb.Expr

// DateDiffShape renders a - b expressed in whole units for one engine.
type DateDiffShape func(a, b sqlb.Expr, u DateUnit) sqlb.Expr

// WeekdayShape renders the day of week of date, 0 being the day that is
// offset days after Monday.
type WeekdayShape func(date sqlb.Expr, offset int) sqlb.Expr

// DateAdd builds DATEADD(date, n [, unit]); the unit defaults to days.
func DateAdd(shape DateAddShape) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 2, 3); err != nil {
			return Value{}, err
		}
		u, err := UnitArg(call, 2, Day)
		if err != nil {
			return Value{}, err
		}
		date, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		n, err := c.Arg(call, 1)
		if err != nil {
			return Value{}, err
		}
		d := c.Dialect()
		return Value{Expr: shape(d.Value(date), d.Value(n), u), Type: formula.Date}, nil
	}
}

// DateDiff builds DATETIME_DIFF(a, b [, unit]); the unit defaults to seconds.
func DateDiff(shape DateDiffShape) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 2, 3); err != nil {
			return Value{}, err
		}
		u, err := UnitArg(call, 2, Second)
		if err != nil {
			return Value{}, err
		}
		a, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		b, err := c.Arg(call, 1)
		if err != nil {
			return Value{}, err
		}
		d := c.Dialect()
		return Value{Expr: shape(d.Value(a), d.Value(b), u), Type: formula.Numeric}, nil
	}
}

// Weekday builds WEEKDAY(date [, startDay]).
func Weekday(shape WeekdayShape) Function {
	return func(c Compiler, call *formula.Call) (Value, error) {
		if err := Arity(call, 1, 2); err != nil {
			return Value{}, err
		}
		offset, err := WeekStart(call, 1)
		if err != nil {
			return Value{}, err
		}
		date, err := c.Arg(call, 0)
		if err != nil {
			return Value{}, err
		}
		return Value{Expr: shape(c.Dialect().Value(date), offset), Type: formula.Numeric}, nil
	}
}
