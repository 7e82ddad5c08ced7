package compiler

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/relation"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// resolve compiles a column reference in scope sc, at most once per pass.
func (p *pass) resolve(sc scope, col *core.Column) (resolved, error) {
	if col.IsVirtual() {
		for _, id := range sc.parents {
			if id == col.ID {
				return resolved{}, &core.CircularReferenceError{ColumnID: col.ID, Chain: sc.parents}
			}
		}
	}

	key := sc.key(col.ID)
	if e, ok := p.memo[key]; ok {
		if e.inProgress {
			return resolved{}, &core.CircularReferenceError{ColumnID: col.ID, Chain: sc.parents}
		}
		return e.resolved, nil
	}
	e := &entry{inProgress: true}
	p.memo[key] = e

	r, err := p.thunk(sc, col)
	if err != nil {
		delete(p.memo, key)
		return resolved{}, err
	}
	e.resolved, e.inProgress = r, false
	return r, nil
}

func (p *pass) thunk(sc scope, col *core.Column) (resolved, error) {
	d := p.dialect()
	switch col.Category() {
	case core.CategoryFormula:
		return p.formula(sc, col)
	case core.CategoryLookup:
		return p.lookup(sc, col)
	case core.CategoryLink:
		return p.link(sc, col)
	case core.CategoryRollup:
		return p.rollup(sc, col)
	case core.CategoryTimestamp:
		return scalar(d.UTC(sc.ref.Col(d, col), col.DataType), formula.Date), nil
	case core.CategoryUser:
		return p.user(sc, col)
	case core.CategoryAIText:
		return scalar(d.JSONValue(sc.ref.Col(d, col)), formula.String), nil
	case core.CategoryCode:
		return p.code(sc, col)
	case core.CategoryScalar:
		return scalar(sc.ref.Col(d, col), dataType(col)), nil
	default:
		return resolved{}, &core.CompileError{ColumnID: col.ID, Msg: "unknown column category " + col.Category().String()}
	}
}

func scalar(e sqlb.Expr, t formula.DataType) resolved {
	return resolved{Value: dialect.Value{Expr: e, Type: t}}
}

func (p *pass) formula(sc scope, col *core.Column) (resolved, error) {
	tree, err := decodeTree(col)
	if err != nil {
		return resolved{}, err
	}
	v, err := p.compile(sc.push(col.ID), tree, frame{})
	if err != nil {
		return resolved{}, attachColumn(err, col.ID)
	}
	return resolved{Value: v}, nil
}

// lookup follows the lookup chain and compiles the terminal column in the
// scope of the last far table.
func (p *pass) lookup(sc scope, col *core.Column) (resolved, error) {
	path, err := p.c.relation.Chain(p.ctx, sc.ref, col, sc.parents, p.aliases)
	if err != nil {
		return resolved{}, err
	}
	v, err := p.value(sc.push(col.ID).in(path.Far()), path.Terminal)
	if err != nil {
		return resolved{}, err
	}
	return p.through(path, v), nil
}

// link resolves to the display value of the far record(s).
func (p *pass) link(sc scope, col *core.Column) (resolved, error) {
	path, err := p.c.relation.Hop(p.ctx, sc.ref, col, p.aliases)
	if err != nil {
		return resolved{}, err
	}
	far := path.Far()
	pv := far.Table.DisplayValue()
	if pv == nil {
		return resolved{}, &core.EndpointNotFoundError{ColumnID: col.ID, What: "display value of table " + far.Table.ID}
	}
	v, err := p.value(sc.push(col.ID).in(far), pv)
	if err != nil {
		return resolved{}, err
	}
	return p.through(path, v), nil
}

// through keeps an array-valued result for the caller to aggregate and turns
// a single-valued one into a scalar subquery.
func (p *pass) through(path *relation.Path, v dialect.Value) resolved {
	if path.IsArray {
		return resolved{Value: v, path: path}
	}
	d := p.dialect()
	q := path.Subquery(d.Value(v)).Build(d.LimitStyle())
	return scalar(sqlb.Paren(q), v.Type)
}

func (p *pass) rollup(sc scope, col *core.Column) (resolved, error) {
	agg, err := p.c.relation.Rollup(p.ctx, sc.ref, col, p.aliases)
	if err != nil {
		return resolved{}, err
	}
	target := formula.Numeric
	if agg.Target != nil {
		target = dataType(agg.Target)
	}
	return scalar(agg.Expr, agg.Type(target)), nil
}

func (p *pass) code(sc scope, col *core.Column) (resolved, error) {
	if col.Code == nil {
		return resolved{}, &core.EndpointNotFoundError{ColumnID: col.ID, What: "code value column"}
	}
	target := sc.table.Column(col.Code.ValueColumnID)
	if target == nil {
		return resolved{}, &core.EndpointNotFoundError{ColumnID: col.ID, What: "code value column " + col.Code.ValueColumnID}
	}
	return p.resolve(sc.push(col.ID), target)
}

// user rewrites the stored user ids into emails. Longer ids are replaced
// first so that u1 does not clobber part of u10.
func (p *pass) user(sc scope, col *core.Column) (resolved, error) {
	d := p.dialect()
	e := sc.ref.Col(d, col)
	users, err := p.roster(sc.table.BaseID)
	if err != nil {
		return resolved{}, err
	}
	for _, u := range users {
		e = sqlb.Fn("REPLACE", e, sqlb.Arg(u.ID), sqlb.Arg(u.Email))
	}
	return scalar(e, formula.String), nil
}

func (p *pass) roster(baseID string) ([]core.User, error) {
	if p.c.users == nil {
		return nil, nil
	}
	if users, ok := p.users[baseID]; ok {
		return users, nil
	}
	users, err := p.c.users.ListUsers(p.ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users of base %s: %w", baseID, err)
	}
	users = append([]core.User(nil), users...)
	sort.SliceStable(users, func(i, j int) bool { return len(users[i].ID) > len(users[j].ID) })
	p.users[baseID] = users
	return users, nil
}
