package relation

import (
	"context"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Aggregate is a rollup compiled to a scalar subquery.
type Aggregate struct {
	Expr     sqlb.Expr
	Function string
	// Target is the aggregated far column; nil for Links counts.
	Target *core.Column
}

// Type is the formula type of the aggregate's result.
func (a *Aggregate) Type(target formula.DataType) formula.DataType {
	switch strings.ToLower(a.Function) {
	case "min", "max":
		return target
	case "concat", "group_concat":
		return formula.String
	default:
		return formula.Numeric
	}
}

// Rollup compiles a Rollup or Links column of near's table to a scalar
// subquery aggregating the far side of its relation.
func (r *Resolver) Rollup(ctx context.Context, near Ref, col *core.Column, aliases *Aliases) (*Aggregate, error) {
	if col.UIType == core.UILinks {
		p, err := r.Hop(ctx, near, col, aliases)
		if err != nil {
			return nil, err
		}
		q := p.Subquery(sqlb.Raw("COUNT(*)")).Build(r.dialect.LimitStyle())
		return &Aggregate{Expr: sqlb.Paren(q), Function: "count"}, nil
	}

	desc := col.Rollup
	if desc == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: col.ID, What: "rollup descriptor"}
	}
	relCol, err := column(col.ID, near.Table, desc.RelationColumnID, "relation column")
	if err != nil {
		return nil, err
	}
	p, err := r.Hop(ctx, near, relCol, aliases)
	if err != nil {
		return nil, err
	}
	far := p.Far()
	target, err := column(col.ID, far.Table, desc.TargetColumnID, "rollup target")
	if err != nil {
		return nil, err
	}
	if target.IsVirtual() {
		return nil, &core.UnsupportedError{Engine: r.dialect.Engine(), Construct: "rollup over " + string(target.UIType) + " column"}
	}
	agg, err := r.dialect.Aggregate(desc.Function, far.Col(r.dialect, target))
	if err != nil {
		return nil, err
	}
	q := p.Subquery(agg).Build(r.dialect.LimitStyle())
	return &Aggregate{Expr: sqlb.Paren(q), Function: desc.Function, Target: target}, nil
}
