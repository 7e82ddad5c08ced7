package compiler

import (
	"time"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

var comparisons = map[string]string{
	"==": "=",
	"=":  "=",
	"!=": "<>",
	"<>": "<>",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
}

func (p *pass) binary(sc scope, b *formula.Binary, f frame) (dialect.Value, error) {
	switch b.Op {
	case "%":
		return p.call(sc, formula.Fn("MOD", formula.Numeric, b.Left, b.Right), f)
	case "&":
		return p.call(sc, formula.Fn("CONCAT", formula.String, b.Left, b.Right), f)
	case "+":
		if b.DataType == formula.String {
			return p.call(sc, formula.Fn("CONCAT", formula.String, b.Left, b.Right), f)
		}
	case "==", "=", "!=", "<>":
		if blankOperand(b.Right) {
			return p.call(sc, formula.Fn(blankFn(b.Op), formula.Boolean, b.Left), f)
		}
		if blankOperand(b.Left) {
			return p.call(sc, formula.Fn(blankFn(b.Op), formula.Boolean, b.Right), f)
		}
	}

	fn := ""
	switch b.Op {
	case "+", "-", "*", "/":
		fn = "ARITH"
	}
	l, err := p.compile(sc, b.Left, frame{fn: fn, op: b.Op})
	if err != nil {
		return dialect.Value{}, err
	}
	r, err := p.compile(sc, b.Right, frame{fn: fn, op: b.Op, right: true})
	if err != nil {
		return dialect.Value{}, err
	}

	d := p.dialect()
	if op, ok := comparisons[b.Op]; ok {
		return p.compare(b, op, l, r), nil
	}
	switch b.Op {
	case "&&", "||", "AND", "OR", "and", "or":
		op := " AND "
		if b.Op == "||" || b.Op == "OR" || b.Op == "or" {
			op = " OR "
		}
		return dialect.Value{
			Expr:      sqlb.Concat(sqlb.Paren(d.Truthy(l)), sqlb.Raw(op), sqlb.Paren(d.Truthy(r))),
			Type:      formula.Boolean,
			Predicate: true,
		}, nil
	case "/":
		num := d.Cast(l, formula.Numeric).Expr
		den := d.Cast(r, formula.Numeric).Expr
		return dialect.Value{Expr: sqlb.Template("({} / NULLIF({}, 0))", num, den), Type: formula.Numeric}, nil
	case "+":
		if l.Type == formula.String || r.Type == formula.String {
			return dialect.Value{Expr: d.Concat([]sqlb.Expr{d.Value(l), d.Value(r)}), Type: formula.String}, nil
		}
		fallthrough
	case "-", "*":
		e := sqlb.Concat(d.Value(l), sqlb.Raw(" "+b.Op+" "), d.Value(r))
		if needsParens(b.Op, f) {
			e = sqlb.Paren(e)
		}
		return dialect.Value{Expr: e, Type: formula.Numeric}, nil
	default:
		return dialect.Value{}, &core.CompileError{Msg: "unknown operator " + b.Op}
	}
}

// compare lowers a comparison to a predicate.
func (p *pass) compare(b *formula.Binary, op string, l, r dialect.Value) dialect.Value {
	d := p.dialect()

	if l.Type == formula.Date && !validDateLiteral(b.Right) {
		return nullCheck(d.Value(l), op, b.Right)
	}
	if r.Type == formula.Date && !validDateLiteral(b.Left) {
		return nullCheck(d.Value(r), op, b.Left)
	}

	switch {
	case l.Type == r.Type, l.Type == formula.Null, r.Type == formula.Null:
	case l.Type == formula.Date || r.Type == formula.Date:
		// a date literal is left for the engine to coerce
	case l.Type == formula.String || r.Type == formula.String:
		l, r = d.Cast(l, formula.String), d.Cast(r, formula.String)
	case l.Type == formula.Boolean && r.Type == formula.Numeric:
		r = d.Cast(r, formula.Boolean)
	case r.Type == formula.Boolean && l.Type == formula.Numeric:
		l = d.Cast(l, formula.Boolean)
	}
	return dialect.Value{
		Expr:      sqlb.Concat(d.Value(l), sqlb.Raw(" "+op+" "), d.Value(r)),
		Type:      formula.Boolean,
		Predicate: true,
	}
}

// dateLayouts are the literal formats a date can be compared against.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// validDateLiteral reports whether n is anything but a string literal that
// is empty or does not parse as a date. Non-literal operands are left to the
// engine.
func validDateLiteral(n formula.Node) bool {
	l, ok := n.(*formula.Literal)
	if !ok {
		return true
	}
	s, ok := l.Value.(string)
	if !ok {
		return true
	}
	if s == "" {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// nullCheck replaces a date comparison against a literal that is not a date.
// Equality with '' asks for a missing date; anything else for a present one.
func nullCheck(date sqlb.Expr, op string, lit formula.Node) dialect.Value {
	tmpl := "{} IS NOT NULL"
	if op == "=" && formula.IsEmptyString(lit) {
		tmpl = "{} IS NULL"
	}
	return dialect.Value{Expr: sqlb.Template(tmpl, date), Type: formula.Boolean, Predicate: true}
}

func blankOperand(n formula.Node) bool {
	return formula.IsEmptyString(n) || formula.IsCall(n, "BLANK")
}

func blankFn(op string) string {
	if op == "!=" || op == "<>" {
		return "ISNOTBLANK"
	}
	return "ISBLANK"
}

// needsParens reports whether an arithmetic result must be wrapped to keep
// its grouping under the parent operator.
func needsParens(op string, f frame) bool {
	if f.op == "" {
		return false
	}
	if f.op == op && (op == "+" || op == "*") && !f.right {
		return false
	}
	return true
}
