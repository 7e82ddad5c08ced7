package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/relation"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// derivedAlias names the derived table wrapping key subqueries.
const derivedAlias = "__gs_v"

// mutation is one link or unlink request inside its transaction.
type mutation struct {
	q   core.Querier
	d   dialect.Operators
	ep  *relation.Endpoints
	op  Op
	req Request
	now time.Time
}

// apply writes the mutation and returns the far ids it changed.
func (m *mutation) apply(ctx context.Context) ([]string, error) {
	nearKey, err := m.nearKey(ctx)
	if err != nil {
		return nil, err
	}
	ids := dedupe(m.req.FarIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if m.ep.Declared == core.OneToOne {
		ids = ids[:1]
	} else if m.ep.Kind == core.BelongsTo && len(ids) > 1 {
		return nil, &core.UnprocessableError{ColumnID: m.ep.Column.ID, Reason: "request must contain only one parent id"}
	}

	switch m.ep.Kind {
	case core.ManyToMany:
		if m.op == OpLink {
			return m.linkManyToMany(ctx, nearKey, ids)
		}
		return ids, m.unlinkManyToMany(ctx, nearKey, ids)
	case core.HasMany:
		return ids, m.hasMany(ctx, ids)
	case core.BelongsTo:
		return ids, m.belongsTo(ctx, ids[0])
	default:
		return nil, &core.UnprocessableError{ColumnID: m.ep.Column.ID, Reason: "unsupported relation kind " + string(m.ep.Kind)}
	}
}

// nearKey checks that the near record exists and returns the value of its
// key column.
func (m *mutation) nearKey(ctx context.Context) (any, error) {
	near := m.ep.Near
	pk, err := primaryKey(m.ep.Column.ID, near)
	if err != nil {
		return nil, err
	}
	q := sqlb.From(m.ident(near.Name)).
		Columns(m.ident(m.ep.NearKey.Name)).
		Where(m.eq(m.ident(pk.Name), m.req.NearID)).
		Build(m.d.LimitStyle())
	query, args := sqlb.Render(q, m.d.PlaceholderStyle())

	var key any
	err = m.q.QueryRowContext(ctx, query, args...).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.RecordNotFoundError{Table: near.ID, IDs: []string{m.req.NearID}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s of %s: %w", m.req.NearID, near.ID, err)
	}
	return key, nil
}

// checkFar returns RecordNotFound for the ids missing from the far table.
func (m *mutation) checkFar(ctx context.Context, ids []string) error {
	far := m.ep.Far
	pk, err := primaryKey(m.ep.Column.ID, far)
	if err != nil {
		return err
	}
	q := sqlb.From(m.ident(far.Name)).
		Columns(m.ident(pk.Name)).
		Where(m.in(m.ident(pk.Name), ids)).
		Build(m.d.LimitStyle())

	found := make(map[string]bool, len(ids))
	err = m.query(ctx, q, func(rows *sql.Rows) error {
		var v any
		if err := rows.Scan(&v); err != nil {
			return err
		}
		found[key(v)] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read records of %s: %w", far.ID, err)
	}
	return missing(far.ID, ids, found)
}

// belongsTo points the near foreign key at the far record, or clears it
// when it currently points there.
func (m *mutation) belongsTo(ctx context.Context, farID string) error {
	if err := m.checkFar(ctx, []string{farID}); err != nil {
		return err
	}
	near, far := m.ep.Near, m.ep.Far
	nearPK, _ := primaryKey(m.ep.Column.ID, near)
	fk := m.ident(m.ep.NearKey.Name)
	target := m.keyOf(far, m.ep.FarKey, farID)

	var stmt sqlb.Expr
	if m.op == OpLink {
		if err := m.clearOneToOne(ctx, near, m.ep.NearKey, far, m.ep.FarKey, farID); err != nil {
			return err
		}
		stmt = m.update(near, sqlb.Template("{} = {}", fk, target),
			m.eq(m.ident(nearPK.Name), m.req.NearID))
	} else {
		stmt = m.update(near, sqlb.Template("{} = NULL", fk),
			m.eq(m.ident(nearPK.Name), m.req.NearID),
			sqlb.Template("{} = {}", fk, target))
	}
	if err := m.exec(ctx, stmt); err != nil {
		return err
	}
	return m.touchBoth(ctx, []string{farID})
}

// hasMany points the far children at the near record, or clears the ones
// currently pointing at it.
func (m *mutation) hasMany(ctx context.Context, ids []string) error {
	if err := m.checkFar(ctx, ids); err != nil {
		return err
	}
	near, far := m.ep.Near, m.ep.Far
	farPK, _ := primaryKey(m.ep.Column.ID, far)
	fk := m.ident(m.ep.FarKey.Name)
	target := m.keyOf(near, m.ep.NearKey, m.req.NearID)

	var stmt sqlb.Expr
	if m.op == OpLink {
		if err := m.clearOneToOne(ctx, far, m.ep.FarKey, near, m.ep.NearKey, m.req.NearID); err != nil {
			return err
		}
		stmt = m.update(far, sqlb.Template("{} = {}", fk, target),
			m.in(m.ident(farPK.Name), ids))
	} else {
		stmt = m.update(far, sqlb.Template("{} = NULL", fk),
			m.in(m.ident(farPK.Name), ids),
			sqlb.Template("{} = {}", fk, target))
	}
	if err := m.exec(ctx, stmt); err != nil {
		return err
	}
	return m.touchBoth(ctx, ids)
}

// clearOneToOne detaches whichever child currently points at the parent
// record, so that linking keeps the relation one to one.
func (m *mutation) clearOneToOne(ctx context.Context, child *core.Table, childKey *core.Column, parent *core.Table, parentKey *core.Column, parentID string) error {
	if m.ep.Declared != core.OneToOne {
		return nil
	}
	fk := m.ident(childKey.Name)
	return m.exec(ctx, m.update(child, sqlb.Template("{} = NULL", fk),
		sqlb.Template("{} = {}", fk, m.keyOf(parent, parentKey, parentID))))
}

// linkManyToMany inserts the junction rows that do not exist yet. Far ids
// already linked are skipped and not reported.
func (m *mutation) linkManyToMany(ctx context.Context, nearKey any, ids []string) ([]string, error) {
	if nearKey == nil {
		return nil, &core.UnprocessableError{ColumnID: m.ep.Column.ID, Reason: "near record has no key value"}
	}
	far, j := m.ep.Far, m.ep.Junction
	farPK, err := primaryKey(m.ep.Column.ID, far)
	if err != nil {
		return nil, err
	}
	farKey := m.ident(far.Name, m.ep.FarKey.Name)
	jFar := m.ident(j.Name, m.ep.JunctionFar.Name)
	jNear := m.ident(j.Name, m.ep.JunctionNear.Name)
	q := sqlb.From(m.ident(far.Name)).
		Columns(m.ident(far.Name, farPK.Name), farKey, jNear).
		Join("LEFT", m.ident(j.Name), sqlb.Template("{} = {} AND {} = {}", jFar, farKey, jNear, sqlb.Arg(nearKey))).
		Where(m.in(m.ident(far.Name, farPK.Name), ids)).
		Build(m.d.LimitStyle())

	found := make(map[string]bool, len(ids))
	keys := make(map[string]any, len(ids))
	linked := make(map[string]bool, len(ids))
	err = m.query(ctx, q, func(rows *sql.Rows) error {
		var pk, fk, existing any
		if err := rows.Scan(&pk, &fk, &existing); err != nil {
			return err
		}
		id := key(pk)
		found[id] = true
		keys[id] = fk
		if existing != nil {
			linked[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read links of %s: %w", m.ep.Column.ID, err)
	}
	if err := missing(far.ID, ids, found); err != nil {
		return nil, err
	}

	var added []string
	var values []sqlb.Expr
	for _, id := range ids {
		if linked[id] {
			continue
		}
		added = append(added, id)
		values = append(values, sqlb.Template("({}, {})", sqlb.Arg(nearKey), sqlb.Arg(keys[id])))
	}
	if len(added) == 0 {
		return nil, nil
	}
	stmt := sqlb.Concat(
		sqlb.Raw("INSERT INTO "), m.ident(j.Name),
		sqlb.Template(" ({}, {}) VALUES ", m.ident(m.ep.JunctionNear.Name), m.ident(m.ep.JunctionFar.Name)),
		sqlb.Join(", ", values...),
	)
	if err := m.exec(ctx, stmt); err != nil {
		return nil, err
	}
	return added, m.touchBoth(ctx, added)
}

// unlinkManyToMany deletes the junction rows between the near record and
// the far records.
func (m *mutation) unlinkManyToMany(ctx context.Context, nearKey any, ids []string) error {
	if err := m.checkFar(ctx, ids); err != nil {
		return err
	}
	far, j := m.ep.Far, m.ep.Junction
	farPK, _ := primaryKey(m.ep.Column.ID, far)
	keys := sqlb.From(m.ident(far.Name)).
		Columns(m.ident(m.ep.FarKey.Name)).
		Where(m.in(m.ident(farPK.Name), ids)).
		Build(m.d.LimitStyle())
	stmt := sqlb.Concat(
		sqlb.Raw("DELETE FROM "), m.ident(j.Name),
		sqlb.Template(" WHERE {} = {} AND {} IN ({})",
			m.ident(m.ep.JunctionNear.Name), sqlb.Arg(nearKey),
			m.ident(m.ep.JunctionFar.Name), keys),
	)
	if err := m.exec(ctx, stmt); err != nil {
		return err
	}
	return m.touchBoth(ctx, ids)
}

// touchBoth bumps the last-modified column of the near record and of the
// far records, on tables that have one.
func (m *mutation) touchBoth(ctx context.Context, farIDs []string) error {
	if err := m.touch(ctx, m.ep.Near, []string{m.req.NearID}); err != nil {
		return err
	}
	return m.touch(ctx, m.ep.Far, farIDs)
}

func (m *mutation) touch(ctx context.Context, t *core.Table, ids []string) error {
	lm := t.LastModifiedColumn()
	pk := t.PrimaryKey()
	if lm == nil || pk == nil || len(ids) == 0 {
		return nil
	}
	return m.exec(ctx, m.update(t,
		sqlb.Template("{} = {}", m.ident(lm.Name), sqlb.Arg(m.now)),
		m.in(m.ident(pk.Name), ids)))
}

// keyOf selects col of the record of t with the given primary key. MySQL
// only accepts a subquery on the table being updated when it is wrapped in
// a derived table.
func (m *mutation) keyOf(t *core.Table, col *core.Column, id string) sqlb.Expr {
	pk := t.PrimaryKey()
	inner := sqlb.From(m.ident(t.Name)).
		Columns(m.ident(col.Name)).
		Where(m.eq(m.ident(pk.Name), id)).
		Build(m.d.LimitStyle())
	outer := sqlb.From(sqlb.As(sqlb.Paren(inner), m.ident(derivedAlias))).
		Columns(m.ident(derivedAlias, col.Name)).
		Build(m.d.LimitStyle())
	return sqlb.Paren(outer)
}

func (m *mutation) update(t *core.Table, set sqlb.Expr, where ...sqlb.Expr) sqlb.Expr {
	conds := make([]sqlb.Expr, len(where))
	for i, w := range where {
		conds[i] = w
		if len(where) > 1 {
			conds[i] = sqlb.Paren(w)
		}
	}
	return sqlb.Concat(
		sqlb.Raw("UPDATE "), m.ident(t.Name),
		sqlb.Raw(" SET "), set,
		sqlb.Raw(" WHERE "), sqlb.Join(" AND ", conds...),
	)
}

func (m *mutation) exec(ctx context.Context, stmt sqlb.Expr) error {
	query, args := sqlb.Render(stmt, m.d.PlaceholderStyle())
	if _, err := m.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s through %s: %w", m.op, m.ep.Column.ID, err)
	}
	return nil
}

func (m *mutation) query(ctx context.Context, q sqlb.Expr, scan func(*sql.Rows) error) error {
	query, args := sqlb.Render(q, m.d.PlaceholderStyle())
	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (m *mutation) ident(parts ...string) sqlb.Expr {
	return sqlb.Ident(m.d, parts...)
}

func (m *mutation) eq(col sqlb.Expr, id string) sqlb.Expr {
	return sqlb.Template("{} = {}", col, sqlb.Arg(id))
}

func (m *mutation) in(col sqlb.Expr, ids []string) sqlb.Expr {
	args := make([]sqlb.Expr, len(ids))
	for i, id := range ids {
		args[i] = sqlb.Arg(id)
	}
	return sqlb.Template("{} IN ({})", col, sqlb.Join(", ", args...))
}

func primaryKey(columnID string, t *core.Table) (*core.Column, error) {
	pk := t.PrimaryKey()
	if pk == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: columnID, What: "primary key of table " + t.ID}
	}
	return pk, nil
}

func missing(tableID string, ids []string, found map[string]bool) error {
	var out []string
	for _, id := range ids {
		if !found[id] {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return &core.RecordNotFoundError{Table: tableID, IDs: out}
	}
	return nil
}

// key renders a scanned primary key the way ids arrive in requests.
func key(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
