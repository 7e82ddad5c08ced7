package compiler

import (
	"context"
	"regexp"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/relation"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// pass is the state of one top-level compile.
type pass struct {
	c       *Compiler
	ctx     context.Context
	aliases *relation.Aliases
	memo    map[memoKey]*entry
	users   map[string][]core.User
}

type memoKey struct {
	ref    string
	column string
}

type entry struct {
	resolved   resolved
	inProgress bool
}

// resolved is a compiled column reference. When path is set the column is
// array-valued: Value is expressed against path.Far() and has to be
// aggregated through the path before use.
type resolved struct {
	dialect.Value
	path *relation.Path
}

// scope is the table occurrence identifiers resolve against, plus the ids of
// the columns being compiled on the way here.
type scope struct {
	table   *core.Table
	ref     relation.Ref
	parents []string
}

func newScope(table *core.Table, alias string) scope {
	return scope{table: table, ref: relation.Ref{Table: table, Alias: alias}}
}

func (s scope) push(columnID string) scope {
	parents := make([]string, len(s.parents), len(s.parents)+1)
	copy(parents, s.parents)
	s.parents = append(parents, columnID)
	return s
}

func (s scope) in(far relation.Ref) scope {
	s.table = far.Table
	s.ref = far
	return s
}

func (s scope) key(columnID string) memoKey {
	name := s.ref.Alias
	if name == "" {
		name = s.table.ID
	}
	return memoKey{ref: name, column: columnID}
}

// frame describes where a node sits: fn is the innermost enclosing call
// (it picks the aggregate for array-valued references) and op the parent
// operator, if any.
type frame struct {
	fn    string
	op    string
	right bool
}

func (c *Compiler) newPass(ctx context.Context) *pass {
	return &pass{
		c:       c,
		ctx:     ctx,
		aliases: &relation.Aliases{},
		memo:    make(map[memoKey]*entry),
		users:   make(map[string][]core.User),
	}
}

func (p *pass) dialect() dialect.Operators {
	return p.c.dialect
}

func (p *pass) compile(sc scope, n formula.Node, f frame) (dialect.Value, error) {
	switch n := n.(type) {
	case *formula.Literal:
		return p.literal(n), nil
	case *formula.Identifier:
		return p.identifier(sc, n, f)
	case *formula.Unary:
		return p.unary(sc, n, f)
	case *formula.Binary:
		return p.binary(sc, n, f)
	case *formula.Call:
		return p.call(sc, n, f)
	case nil:
		return dialect.Value{}, &core.CompileError{Msg: "empty formula"}
	default:
		return dialect.Value{}, &core.CompileError{Msg: "unknown node type"}
	}
}

func (p *pass) literal(l *formula.Literal) dialect.Value {
	switch v := l.Value.(type) {
	case nil:
		return dialect.Value{Expr: sqlb.Null(), Type: formula.Null}
	case bool:
		return dialect.Value{Expr: p.dialect().BooleanLiteral(v), Type: formula.Boolean}
	case string:
		return dialect.Value{Expr: sqlb.Arg(v), Type: formula.String}
	default:
		t := l.DataType
		if t == formula.Unknown {
			t = formula.Numeric
		}
		return dialect.Value{Expr: sqlb.Arg(v), Type: t}
	}
}

func (p *pass) identifier(sc scope, id *formula.Identifier, f frame) (dialect.Value, error) {
	col := findColumn(sc.table, id.Name)
	if col == nil {
		return dialect.Value{}, &core.CompileError{Msg: "unknown column " + id.Name + " in table " + sc.table.ID}
	}
	r, err := p.resolve(sc, col)
	if err != nil {
		return dialect.Value{}, err
	}
	if r.path != nil {
		return p.aggregate(r, f.fn)
	}
	if r.Type == formula.Unknown {
		r.Type = id.DataType
	}
	return r.Value, nil
}

// findColumn matches an identifier by column id, then title, then name.
func findColumn(t *core.Table, name string) *core.Column {
	if c := t.Column(name); c != nil {
		return c
	}
	for _, c := range t.Columns {
		if c.Title == name {
			return c
		}
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// value resolves col and collapses an array result into a text list.
func (p *pass) value(sc scope, col *core.Column) (dialect.Value, error) {
	r, err := p.resolve(sc, col)
	if err != nil {
		return dialect.Value{}, err
	}
	if r.path != nil {
		return p.aggregate(r, "")
	}
	return r.Value, nil
}

// aggregate turns an array-valued reference into a scalar subquery, picking
// the aggregate from the enclosing call. AVG over an array lookup is kept as
// the sum of the linked values, matching the formulas users already have.
func (p *pass) aggregate(r resolved, fn string) (dialect.Value, error) {
	d := p.dialect()
	var (
		name string
		arg  sqlb.Expr
		t    formula.DataType
	)
	switch fn {
	case "MIN", "MAX":
		name, arg, t = fn, d.Value(r.Value), r.Type
	case "ADD", "SUM", "FLOAT", "NUMBER", "ARITH", "AVG":
		name, arg, t = "sum", d.Value(r.Value), formula.Numeric
	default:
		name, arg, t = "concat", d.Cast(r.Value, formula.String).Expr, formula.String
	}
	agg, err := d.Aggregate(name, arg)
	if err != nil {
		return dialect.Value{}, err
	}
	q := r.path.Subquery(agg).Build(d.LimitStyle())
	return dialect.Value{Expr: sqlb.Paren(q), Type: t}, nil
}

func (p *pass) unary(sc scope, u *formula.Unary, f frame) (dialect.Value, error) {
	d := p.dialect()
	switch u.Op {
	case "-", "+":
		if l, ok := u.Operand.(*formula.Literal); ok {
			if n, ok := l.Value.(float64); ok {
				if u.Op == "-" {
					n = -n
				}
				return dialect.Value{Expr: sqlb.Arg(n), Type: formula.Numeric}, nil
			}
		}
	case "!", "NOT", "not":
		v, err := p.compile(sc, u.Operand, frame{fn: f.fn, op: "NOT"})
		if err != nil {
			return dialect.Value{}, err
		}
		return dialect.Value{Expr: sqlb.Template("NOT ({})", d.Truthy(v)), Type: formula.Boolean, Predicate: true}, nil
	default:
		return dialect.Value{}, &core.CompileError{Msg: "unknown unary operator " + u.Op}
	}

	// the operand sees a distinct parent so that - -x renders as -(-x)
	v, err := p.compile(sc, u.Operand, frame{fn: f.fn, op: "unary" + u.Op})
	if err != nil {
		return dialect.Value{}, err
	}
	e := sqlb.Template(u.Op+"{}", d.Value(v))
	if f.op != "" {
		e = sqlb.Paren(e)
	}
	return dialect.Value{Expr: e, Type: formula.Numeric}, nil
}

var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (p *pass) call(sc scope, call *formula.Call, f frame) (dialect.Value, error) {
	if call.Name == "" {
		return dialect.Value{}, &core.CompileError{Msg: "function call without a name"}
	}
	if call.CastString {
		inner := *call
		inner.CastString = false
		return p.call(sc, formula.Fn("STRING", formula.String, &inner), f)
	}

	d := p.dialect()
	cc := callCtx{p: p, sc: sc}
	name := call.Upper()
	switch name {
	case "ADD", "SUM":
		if err := dialect.Arity(call, 1, -1); err != nil {
			return dialect.Value{}, err
		}
		args, err := cc.Args(call)
		if err != nil {
			return dialect.Value{}, err
		}
		terms := make([]sqlb.Expr, len(args))
		for i, a := range args {
			terms[i] = sqlb.Template("COALESCE({}, 0)", d.Value(a))
		}
		if len(terms) == 1 {
			return dialect.Value{Expr: terms[0], Type: formula.Numeric}, nil
		}
		return dialect.Value{Expr: sqlb.Paren(sqlb.Join(" + ", terms...)), Type: formula.Numeric}, nil
	case "CONCAT":
		if err := dialect.Arity(call, 1, -1); err != nil {
			return dialect.Value{}, err
		}
		args, err := cc.Args(call)
		if err != nil {
			return dialect.Value{}, err
		}
		return dialect.Value{Expr: d.Concat(dialect.Exprs(d, args)), Type: formula.String}, nil
	}

	if fn, ok := d.Function(name); ok {
		return fn(cc, call)
	}

	if !functionName.MatchString(call.Name) {
		return dialect.Value{}, &core.CompileError{Msg: "invalid function name " + call.Name}
	}
	args, err := cc.Args(call)
	if err != nil {
		return dialect.Value{}, err
	}
	return dialect.Value{Expr: sqlb.Fn(name, dialect.Exprs(d, args)...), Type: call.DataType}, nil
}

// callCtx is the compiler as seen by one function handler.
type callCtx struct {
	p  *pass
	sc scope
}

var _ dialect.Compiler = callCtx{}

func (c callCtx) Arg(call *formula.Call, i int) (dialect.Value, error) {
	if i < 0 || i >= len(call.Args) {
		return dialect.Value{}, dialect.Errorf("%s is missing argument %d", call.Upper(), i+1)
	}
	return c.p.compile(c.sc, call.Args[i], frame{fn: call.Upper()})
}

func (c callCtx) Args(call *formula.Call) ([]dialect.Value, error) {
	out := make([]dialect.Value, len(call.Args))
	for i := range call.Args {
		v, err := c.Arg(call, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c callCtx) Cond(call *formula.Call, i int) (sqlb.Expr, error) {
	v, err := c.Arg(call, i)
	if err != nil {
		return sqlb.Expr{}, err
	}
	return c.p.dialect().Truthy(v), nil
}

func (c callCtx) Dialect() dialect.Operators {
	return c.p.dialect()
}

func (c callCtx) RecordID() (sqlb.Expr, error) {
	pk := c.sc.table.PrimaryKey()
	if pk == nil {
		return sqlb.Expr{}, &core.CompileError{Msg: "table " + c.sc.table.ID + " has no primary key"}
	}
	return c.sc.ref.Col(c.p.dialect(), pk), nil
}
