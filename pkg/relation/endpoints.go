// Package relation resolves relation columns into join and subquery shapes.
//
// A relation column (LinkToAnotherRecord, Links) is first normalized to one
// of BelongsTo, HasMany or ManyToMany, its endpoints are resolved through
// the catalog, and the result is expressed as a Path of joined table
// occurrences. The expression compiler embeds paths as correlated
// subqueries; list and count reads run them joined from the near table.
package relation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
)

// Resolver resolves relation columns against a catalog for one dialect.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	catalog        core.Catalog
	dialect        dialect.Operators
	strictOneToOne bool
	logger         *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrictOneToOne makes the resolver check that exactly one side of a
// OneToOne pair carries the foreign-key ownership flag.
func WithStrictOneToOne() Option {
	return func(r *Resolver) { r.strictOneToOne = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a resolver.
func New(cat core.Catalog, d dialect.Operators, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: cat,
		dialect: d,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dialect returns the operator table the resolver emits SQL for.
func (r *Resolver) Dialect() dialect.Operators {
	return r.dialect
}

// Endpoints is a relation column resolved to physical tables and columns,
// oriented from the column's own table (near) to the related table (far).
type Endpoints struct {
	Column *core.Column
	// Kind is BelongsTo, HasMany or ManyToMany; OneToOne is normalized away.
	Kind core.RelationKind
	// Declared is the kind as stored in the catalog.
	Declared core.RelationKind

	Near    *core.Table
	NearKey *core.Column
	Far     *core.Table
	FarKey  *core.Column

	// ManyToMany only.
	Junction     *core.Table
	JunctionNear *core.Column
	JunctionFar  *core.Column
}

// IsArray reports whether a near row may match several far rows.
func (e *Endpoints) IsArray() bool {
	return e.Kind.IsArray()
}

// SameTable reports whether both endpoints are the same table.
func (e *Endpoints) SameTable() bool {
	return e.Near.ID == e.Far.ID
}

// Normalize maps a stored relation kind to the kind used for code
// generation. OneToOne becomes BelongsTo on the side that owns the foreign
// key (Meta.BT) and HasMany on the other.
func Normalize(kind core.RelationKind, col *core.Column) (core.RelationKind, error) {
	switch kind {
	case core.BelongsTo, core.HasMany, core.ManyToMany:
		return kind, nil
	case core.OneToOne:
		if col.Meta.BT {
			return core.BelongsTo, nil
		}
		return core.HasMany, nil
	default:
		return "", &core.EndpointNotFoundError{ColumnID: col.ID, What: fmt.Sprintf("relation kind %q", kind)}
	}
}

// Descriptor returns the relation descriptor of col, asking the catalog
// when the column does not carry it.
func (r *Resolver) Descriptor(ctx context.Context, col *core.Column) (*core.RelationDescriptor, error) {
	if col.Relation != nil {
		return col.Relation, nil
	}
	desc, err := r.catalog.RelationDescriptor(ctx, col.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relation of column %s: %w", col.ID, err)
	}
	if desc == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: col.ID, What: "relation descriptor"}
	}
	return desc, nil
}

// Endpoints resolves both sides of a relation column.
func (r *Resolver) Endpoints(ctx context.Context, col *core.Column) (*Endpoints, error) {
	desc, err := r.Descriptor(ctx, col)
	if err != nil {
		return nil, err
	}
	kind, err := Normalize(desc.Kind, col)
	if err != nil {
		return nil, err
	}

	child, err := r.table(ctx, col.ID, desc.ChildTableID, "child table")
	if err != nil {
		return nil, err
	}
	parent, err := r.table(ctx, col.ID, desc.ParentTableID, "parent table")
	if err != nil {
		return nil, err
	}
	childCol, err := column(col.ID, child, desc.ChildColumnID, "child column")
	if err != nil {
		return nil, err
	}
	parentCol, err := column(col.ID, parent, desc.ParentColumnID, "parent column")
	if err != nil {
		return nil, err
	}

	ep := &Endpoints{Column: col, Kind: kind, Declared: desc.Kind}
	switch kind {
	case core.HasMany:
		ep.Near, ep.NearKey = parent, parentCol
		ep.Far, ep.FarKey = child, childCol
	default:
		ep.Near, ep.NearKey = child, childCol
		ep.Far, ep.FarKey = parent, parentCol
	}
	if col.TableID != "" && ep.Near.ID != col.TableID {
		return nil, &core.EndpointNotFoundError{
			ColumnID: col.ID,
			What:     fmt.Sprintf("%s side of the relation in table %s", kind, col.TableID),
		}
	}

	if kind == core.ManyToMany {
		if err := r.junction(ctx, ep, desc); err != nil {
			return nil, err
		}
	}
	if desc.Kind == core.OneToOne && r.strictOneToOne {
		if err := r.checkOneToOne(ctx, ep, desc); err != nil {
			return nil, err
		}
	}
	return ep, nil
}

// junction resolves the junction table, which must expose two distinct
// foreign keys, one per endpoint.
func (r *Resolver) junction(ctx context.Context, ep *Endpoints, desc *core.RelationDescriptor) error {
	id := ep.Column.ID
	jt, err := r.table(ctx, id, desc.JunctionTableID, "junction table")
	if err != nil {
		return err
	}
	near, err := column(id, jt, desc.JunctionChildColumnID, "junction child column")
	if err != nil {
		return err
	}
	far, err := column(id, jt, desc.JunctionParentColumnID, "junction parent column")
	if err != nil {
		return err
	}
	if near.ID == far.ID {
		return &core.EndpointNotFoundError{ColumnID: id, What: "distinct junction foreign keys in " + jt.ID}
	}
	ep.Junction, ep.JunctionNear, ep.JunctionFar = jt, near, far
	return nil
}

// checkOneToOne verifies that the column and its counterpart on the far
// table disagree on who owns the foreign key.
func (r *Resolver) checkOneToOne(ctx context.Context, ep *Endpoints, desc *core.RelationDescriptor) error {
	var partner *core.Column
	for _, c := range ep.Far.Columns {
		if c.ID == ep.Column.ID || c.Category() != core.CategoryLink {
			continue
		}
		other, err := r.Descriptor(ctx, c)
		if err != nil {
			return err
		}
		if other.Kind == core.OneToOne &&
			other.ChildColumnID == desc.ChildColumnID &&
			other.ParentColumnID == desc.ParentColumnID {
			partner = c
			break
		}
	}
	if partner == nil {
		return &core.EndpointNotFoundError{ColumnID: ep.Column.ID, What: "one-to-one counterpart in table " + ep.Far.ID}
	}
	if ep.Column.Meta.BT == partner.Meta.BT {
		return &core.UnprocessableError{
			ColumnID: ep.Column.ID,
			Reason:   "exactly one side of a one-to-one relation must own the foreign key (counterpart " + partner.ID + ")",
		}
	}
	return nil
}

func (r *Resolver) table(ctx context.Context, columnID, tableID, what string) (*core.Table, error) {
	if tableID == "" {
		return nil, &core.EndpointNotFoundError{ColumnID: columnID, What: what}
	}
	t, err := r.catalog.Table(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", what, tableID, err)
	}
	if t == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: columnID, What: what + " " + tableID}
	}
	return t, nil
}

func column(columnID string, t *core.Table, id, what string) (*core.Column, error) {
	c := t.Column(id)
	if c == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: columnID, What: fmt.Sprintf("%s %s in table %s", what, id, t.ID)}
	}
	return c, nil
}
