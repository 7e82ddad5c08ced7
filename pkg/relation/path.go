package relation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// AliasPrefix prefixes generated table aliases.
const AliasPrefix = "__gs_r"

// Ref is one occurrence of a table in a query.
type Ref struct {
	Table *core.Table
	Alias string
}

func (r Ref) name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Table.Name
}

// Col returns the qualified reference to c through this occurrence.
func (r Ref) Col(q sqlb.Quoter, c *core.Column) sqlb.Expr {
	return sqlb.Ident(q, r.name(), c.Name)
}

// Source renders the FROM/JOIN item, "table AS alias" when aliased.
func (r Ref) Source(q sqlb.Quoter) sqlb.Expr {
	t := sqlb.Ident(q, r.Table.Name)
	if r.Alias == "" {
		return t
	}
	return sqlb.As(t, sqlb.Ident(q, r.Alias))
}

// Aliases hands out table aliases unique within one compile pass.
type Aliases struct {
	n int
}

// Next returns a fresh alias.
func (a *Aliases) Next() string {
	a.n++
	return AliasPrefix + strconv.Itoa(a.n)
}

// hop is one relation step. For ManyToMany, junction is set and linkNear
// joins it to the previous occurrence; otherwise linkFar does.
type hop struct {
	ep       *Endpoints
	junction *Ref
	linkNear sqlb.Expr
	far      Ref
	linkFar  sqlb.Expr
}

// Path is a sequence of relation hops starting at a near table occurrence.
type Path struct {
	Near Ref
	// IsArray is set when any hop may yield several far rows.
	IsArray bool
	// Terminal is the column a lookup chain stops at; nil for plain hops.
	Terminal *core.Column

	q    sqlb.Quoter
	hops []hop
}

// NewPath starts an empty path at near.
func NewPath(q sqlb.Quoter, near Ref) *Path {
	return &Path{Near: near, q: q}
}

// Far returns the last table occurrence of the path.
func (p *Path) Far() Ref {
	if len(p.hops) == 0 {
		return p.Near
	}
	return p.hops[len(p.hops)-1].far
}

// Len returns the number of hops.
func (p *Path) Len() int {
	return len(p.hops)
}

// Extend appends one hop, joined from the current far occurrence.
func (p *Path) Extend(ep *Endpoints, aliases *Aliases) {
	prev := p.Far()
	h := hop{ep: ep}
	if ep.Kind == core.ManyToMany {
		j := Ref{Table: ep.Junction, Alias: aliases.Next()}
		h.junction = &j
		h.linkNear = eq(j.Col(p.q, ep.JunctionNear), prev.Col(p.q, ep.NearKey))
		h.far = Ref{Table: ep.Far, Alias: aliases.Next()}
		h.linkFar = eq(h.far.Col(p.q, ep.FarKey), j.Col(p.q, ep.JunctionFar))
	} else {
		h.far = Ref{Table: ep.Far, Alias: aliases.Next()}
		h.linkFar = eq(h.far.Col(p.q, ep.FarKey), prev.Col(p.q, ep.NearKey))
	}
	p.hops = append(p.hops, h)
	p.IsArray = p.IsArray || ep.IsArray()
}

// Subquery renders the path as a query correlated with the near occurrence:
// the first hop's far table is the FROM item and its link to the near table
// becomes the WHERE clause.
func (p *Path) Subquery(cols ...sqlb.Expr) *sqlb.Select {
	first := p.hops[0]
	s := sqlb.From(first.far.Source(p.q)).Columns(cols...)
	if first.junction != nil {
		s.Join("INNER", first.junction.Source(p.q), first.linkFar).Where(first.linkNear)
	} else {
		s.Where(first.linkFar)
	}
	for _, h := range p.hops[1:] {
		h.join(p.q, s)
	}
	return s
}

// Joined renders the path as a standalone query reading from the near
// occurrence, used for list and count reads.
func (p *Path) Joined(cols ...sqlb.Expr) *sqlb.Select {
	s := sqlb.From(p.Near.Source(p.q)).Columns(cols...)
	for _, h := range p.hops {
		h.join(p.q, s)
	}
	return s
}

func (h hop) join(q sqlb.Quoter, s *sqlb.Select) {
	if h.junction != nil {
		s.Join("INNER", h.junction.Source(q), h.linkNear)
	}
	s.Join("INNER", h.far.Source(q), h.linkFar)
}

func eq(a, b sqlb.Expr) sqlb.Expr {
	return sqlb.Template("{} = {}", a, b)
}

// Hop builds a one-hop path over a relation column of near's table.
func (r *Resolver) Hop(ctx context.Context, near Ref, relCol *core.Column, aliases *Aliases) (*Path, error) {
	ep, err := r.Endpoints(ctx, relCol)
	if err != nil {
		return nil, err
	}
	if ep.Near.ID != near.Table.ID {
		return nil, &core.EndpointNotFoundError{ColumnID: relCol.ID, What: "relation from table " + near.Table.ID}
	}
	p := NewPath(r.dialect, near)
	p.Extend(ep, aliases)
	return p, nil
}

// Chain follows a Lookup column hop by hop until it reaches a column that is
// not itself a Lookup. parents is the chain of column ids already being
// compiled; re-entering any of them, or any lookup of this chain, is a
// circular reference.
func (r *Resolver) Chain(ctx context.Context, near Ref, lookup *core.Column, parents []string, aliases *Aliases) (*Path, error) {
	p := NewPath(r.dialect, near)
	chain := append([]string(nil), parents...)
	cur := lookup
	for cur.Category() == core.CategoryLookup {
		for _, id := range chain {
			if id == cur.ID {
				return nil, &core.CircularReferenceError{ColumnID: cur.ID, Chain: chain}
			}
		}
		chain = append(chain, cur.ID)

		desc, err := r.lookupDescriptor(ctx, cur)
		if err != nil {
			return nil, err
		}
		from := p.Far().Table
		relCol, err := column(cur.ID, from, desc.RelationColumnID, "relation column")
		if err != nil {
			return nil, err
		}
		ep, err := r.Endpoints(ctx, relCol)
		if err != nil {
			return nil, err
		}
		if ep.Near.ID != from.ID {
			return nil, &core.EndpointNotFoundError{ColumnID: cur.ID, What: "relation from table " + from.ID}
		}
		p.Extend(ep, aliases)
		cur, err = column(cur.ID, ep.Far, desc.TargetColumnID, "lookup target")
		if err != nil {
			return nil, err
		}
	}
	p.Terminal = cur
	r.logger.Debug("resolved lookup chain",
		slog.String("column", lookup.ID),
		slog.Int("hops", p.Len()),
		slog.Bool("array", p.IsArray))
	return p, nil
}

func (r *Resolver) lookupDescriptor(ctx context.Context, col *core.Column) (*core.LookupDescriptor, error) {
	if col.Lookup != nil {
		return col.Lookup, nil
	}
	desc, err := r.catalog.LookupDescriptor(ctx, col.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lookup of column %s: %w", col.ID, err)
	}
	if desc == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: col.ID, What: "lookup descriptor"}
	}
	return desc, nil
}
