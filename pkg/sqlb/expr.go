// Package sqlb composes parameterized SQL fragments on top of squirrel.
//
// Every value that reaches SQL through this package is a bound argument;
// text fragments are either trusted constants or identifiers quoted by the
// target dialect. Fragments always carry ? placeholders and are numbered
// only when rendered, so they compose freely.
package sqlb

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Expr is an immutable SQL fragment with bound arguments.
type Expr struct {
	s sq.Sqlizer
}

// Quoter quotes identifiers for a target dialect.
type Quoter interface {
	QuoteIdentifier(name string) string
}

// Raw builds a fragment from trusted SQL text. Each ? is a placeholder
// consuming one binding, so the text must not contain a literal ?.
func Raw(sql string, bindings ...any) Expr {
	return Expr{s: sq.Expr(sql, bindings...)}
}

// Arg binds a single value.
func Arg(v any) Expr {
	return Expr{s: sq.Expr("?", v)}
}

// Null is the SQL NULL keyword.
func Null() Expr {
	return Raw("NULL")
}

// Ident quotes each part and joins them with dots.
func Ident(q Quoter, parts ...string) Expr {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, q.QuoteIdentifier(p))
	}
	return Raw(strings.Join(quoted, "."))
}

// Concat joins fragments with no separator.
func Concat(parts ...Expr) Expr {
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p.s != nil {
			out = append(out, p.s)
		}
	}
	return Expr{s: sq.ConcatExpr(out...)}
}

// Join joins fragments with sep.
func Join(sep string, parts ...Expr) Expr {
	out := make([]Expr, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			out = append(out, Raw(sep))
		}
		out = append(out, p)
	}
	return Concat(out...)
}

// Template substitutes each {} in tmpl with the next expression.
func Template(tmpl string, args ...Expr) Expr {
	chunks := strings.Split(tmpl, "{}")
	parts := make([]Expr, 0, len(chunks)*2)
	for i, c := range chunks {
		if c != "" {
			parts = append(parts, Raw(c))
		}
		if i < len(chunks)-1 && i < len(args) {
			parts = append(parts, args[i])
		}
	}
	return Concat(parts...)
}

// Fn renders name(arg, ...).
func Fn(name string, args ...Expr) Expr {
	return Concat(Raw(name+"("), Join(", ", args...), Raw(")"))
}

// Paren wraps e in parentheses.
func Paren(e Expr) Expr {
	return Concat(Raw("("), e, Raw(")"))
}

// As renders e AS alias.
func As(e Expr, alias Expr) Expr {
	return Concat(e, Raw(" AS "), alias)
}

// UnionAll joins full queries with UNION ALL.
func UnionAll(arms ...Expr) Expr {
	return Join(" UNION ALL ", arms...)
}

// IsZero reports whether e is empty.
func (e Expr) IsZero() bool {
	if e.s == nil {
		return true
	}
	sql, _ := e.toSQL()
	return sql == ""
}

// Args returns the bound arguments in order.
func (e Expr) Args() []any {
	_, args := e.toSQL()
	return args
}

// String renders e with ? placeholders. Intended for logs and tests.
func (e Expr) String() string {
	s, _ := Render(e, core.PlaceholderQuestion)
	return s
}

// ToSql implements squirrel.Sqlizer.
func (e Expr) ToSql() (string, []any, error) {
	if e.s == nil {
		return "", nil, nil
	}
	return e.s.ToSql()
}

// toSQL renders e with ? placeholders. Fragments are only built from
// strings and Sqlizers, which cannot fail to render.
func (e Expr) toSQL() (string, []any) {
	sql, args, _ := e.ToSql()
	return sql, args
}

// placeholders maps a dialect placeholder style onto squirrel's formats.
func placeholders(style core.PlaceholderStyle) sq.PlaceholderFormat {
	switch style {
	case core.PlaceholderDollar:
		return sq.Dollar
	case core.PlaceholderAtP:
		return sq.AtP
	default:
		return sq.Question
	}
}

// Render produces the SQL text and arguments for a placeholder style.
func Render(e Expr, style core.PlaceholderStyle) (string, []any) {
	sql, args := e.toSQL()
	if out, err := placeholders(style).ReplacePlaceholders(sql); err == nil {
		sql = out
	}
	return sql, args
}
