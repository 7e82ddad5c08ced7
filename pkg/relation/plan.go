package relation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Synthetic columns of batch and count queries.
const (
	GroupColumn = "__gs_group_id"
	CountColumn = "__gs_count"
)

// Mode selects the shape of a relation read.
type Mode int

const (
	// ModeSingle lists the far rows of one parent.
	ModeSingle Mode = iota
	// ModeBatch lists the far rows of many parents in one query.
	ModeBatch
	// ModeCount counts the far rows of many parents in one query.
	ModeCount
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeBatch:
		return "batch"
	case ModeCount:
		return "count"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single", "":
		return ModeSingle, nil
	case "batch":
		return ModeBatch, nil
	case "count":
		return ModeCount, nil
	default:
		return 0, fmt.Errorf("unknown relation mode %q (want single, batch or count)", s)
	}
}

// ListArgs paginates the far rows of each parent. Zero Limit means no limit.
type ListArgs struct {
	Limit  int
	Offset int
}

func (a ListArgs) paginated() bool {
	return a.Limit > 0 || a.Offset > 0
}

// Row is one far row keyed by column name.
type Row map[string]any

// Group holds the far rows of one parent id.
type Group struct {
	ParentID any
	Rows     []Row
}

// Count holds the number of far rows of one parent id.
type Count struct {
	ParentID any
	Count    int64
}

// Plan is a relation read ready to execute.
type Plan struct {
	Mode      Mode
	Column    *core.Column
	Endpoints *Endpoints
	// ParentIDs are the requested ids, de-duplicated in input order.
	ParentIDs []any
	// Query is empty when there is nothing to read.
	Query sqlb.Expr

	style core.PlaceholderStyle
}

// SQL renders the query for the target engine.
func (p *Plan) SQL() (string, []any) {
	return sqlb.Render(p.Query, p.style)
}

// ResolveRelation plans a read of the far side of a relation column.
func (r *Resolver) ResolveRelation(ctx context.Context, col *core.Column, mode Mode, parentIDs []any, args ListArgs) (*Plan, error) {
	ep, err := r.Endpoints(ctx, col)
	if err != nil {
		return nil, err
	}
	pk := ep.Near.PrimaryKey()
	if pk == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: col.ID, What: "primary key of table " + ep.Near.ID}
	}

	plan := &Plan{
		Mode:      mode,
		Column:    col,
		Endpoints: ep,
		ParentIDs: uniqueParentIDs(parentIDs),
		style:     r.dialect.PlaceholderStyle(),
	}

	switch mode {
	case ModeSingle:
		if len(plan.ParentIDs) != 1 {
			return nil, &core.UnprocessableError{
				ColumnID: col.ID,
				Reason:   fmt.Sprintf("single mode takes exactly one parent id, got %d", len(plan.ParentIDs)),
			}
		}
		plan.Query = r.listArm(ep, pk, plan.ParentIDs[0], args, false).Build(r.dialect.LimitStyle())
	case ModeBatch, ModeCount:
		if len(plan.ParentIDs) == 0 {
			return plan, nil
		}
		arms := make([]sqlb.Expr, len(plan.ParentIDs))
		for i, id := range plan.ParentIDs {
			if mode == ModeCount {
				arms[i] = r.countArm(ep, pk, id).Build(r.dialect.LimitStyle())
				continue
			}
			arm := r.listArm(ep, pk, id, args, true).Build(r.dialect.LimitStyle())
			if args.paginated() || len(plan.ParentIDs) > 1 {
				arm = r.dialect.WrapUnionArm(arm, "__gs_b"+strconv.Itoa(i+1))
			}
			arms[i] = arm
		}
		plan.Query = sqlb.UnionAll(arms...)
	default:
		return nil, fmt.Errorf("unknown relation mode %d", mode)
	}

	r.logger.Debug("planned relation read",
		slog.String("column", col.ID),
		slog.String("kind", string(ep.Kind)),
		slog.String("mode", mode.String()),
		slog.Int("parents", len(plan.ParentIDs)))
	return plan, nil
}

// listArm selects the physical far columns reachable from one parent id.
func (r *Resolver) listArm(ep *Endpoints, pk *core.Column, id any, args ListArgs, tagged bool) *sqlb.Select {
	near := Ref{Table: ep.Near, Alias: AliasPrefix + "0"}
	p := NewPath(r.dialect, near)
	p.Extend(ep, &Aliases{})
	far := p.Far()

	var cols []sqlb.Expr
	if tagged {
		cols = append(cols, sqlb.As(sqlb.Arg(id), sqlb.Ident(r.dialect, GroupColumn)))
	}
	for _, c := range ep.Far.Columns {
		if c.IsVirtual() || c.Name == "" {
			continue
		}
		cols = append(cols, sqlb.As(far.Col(r.dialect, c), sqlb.Ident(r.dialect, c.Name)))
	}

	s := p.Joined(cols...).Where(eq(near.Col(r.dialect, pk), sqlb.Arg(id)))
	// Derived tables may only carry ORDER BY when they are paginated.
	if farPK := ep.Far.PrimaryKey(); farPK != nil && (!tagged || args.paginated()) {
		s.OrderBy(far.Col(r.dialect, farPK))
	}
	if args.paginated() {
		if args.Limit > 0 {
			s.Limit(args.Limit)
		}
		s.Offset(args.Offset)
	}
	return s
}

func (r *Resolver) countArm(ep *Endpoints, pk *core.Column, id any) *sqlb.Select {
	near := Ref{Table: ep.Near, Alias: AliasPrefix + "0"}
	p := NewPath(r.dialect, near)
	p.Extend(ep, &Aliases{})
	return p.Joined(
		sqlb.As(sqlb.Arg(id), sqlb.Ident(r.dialect, GroupColumn)),
		sqlb.As(sqlb.Raw("COUNT(*)"), sqlb.Ident(r.dialect, CountColumn)),
	).Where(eq(near.Col(r.dialect, pk), sqlb.Arg(id)))
}

// Fetch runs a single or batch plan and returns one group per parent id,
// in the order the ids were requested.
func (p *Plan) Fetch(ctx context.Context, q core.Querier) ([]Group, error) {
	if p.Mode == ModeCount {
		return nil, fmt.Errorf("count plans are read with Counts")
	}
	groups := make([]Group, len(p.ParentIDs))
	index := make(map[string]int, len(p.ParentIDs))
	for i, id := range p.ParentIDs {
		groups[i] = Group{ParentID: id, Rows: []Row{}}
		index[groupKey(id)] = i
	}
	if p.Query.IsZero() {
		return groups, nil
	}

	rows, err := p.query(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		i := 0
		if p.Mode == ModeBatch {
			key, ok := row[GroupColumn]
			if !ok {
				return nil, fmt.Errorf("batch row has no %s column", GroupColumn)
			}
			delete(row, GroupColumn)
			if i, ok = index[groupKey(key)]; !ok {
				return nil, fmt.Errorf("batch row tagged with unknown parent %v", key)
			}
		}
		groups[i].Rows = append(groups[i].Rows, row)
	}
	return groups, nil
}

// Counts runs a count plan and returns one count per parent id.
func (p *Plan) Counts(ctx context.Context, q core.Querier) ([]Count, error) {
	if p.Mode != ModeCount {
		return nil, fmt.Errorf("%s plans are read with Fetch", p.Mode)
	}
	counts := make([]Count, len(p.ParentIDs))
	index := make(map[string]int, len(p.ParentIDs))
	for i, id := range p.ParentIDs {
		counts[i] = Count{ParentID: id}
		index[groupKey(id)] = i
	}
	if p.Query.IsZero() {
		return counts, nil
	}

	rows, err := p.query(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		i, ok := index[groupKey(row[GroupColumn])]
		if !ok {
			return nil, fmt.Errorf("count row tagged with unknown parent %v", row[GroupColumn])
		}
		n, err := toInt64(row[CountColumn])
		if err != nil {
			return nil, err
		}
		counts[i].Count += n
	}
	return counts, nil
}

func (p *Plan) query(ctx context.Context, q core.Querier) ([]Row, error) {
	query, args := p.SQL()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation %s: %w", p.Column.ID, err)
	}
	defer func() { _ = rows.Close() }()
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation %s: %w", p.Column.ID, err)
	}
	return out, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = convertValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func convertValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// uniqueParentIDs drops repeated ids, keeping the first occurrence.
func uniqueParentIDs(ids []any) []any {
	seen := make(map[string]struct{}, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		k := groupKey(id)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, id)
	}
	return out
}

// groupKey compares ids by their text form: drivers return the synthetic
// group column as text or integer regardless of the bound type.
func groupKey(v any) string {
	return fmt.Sprint(convertValue(v))
}

func toInt64(v any) (int64, error) {
	switch n := convertValue(v).(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
