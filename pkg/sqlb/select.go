package sqlb

import (
	"strconv"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Select is a mutable SELECT statement builder. Use Clone before deriving
// variants from a shared base.
type Select struct {
	columns []Expr
	from    Expr
	joins   []Expr
	where   []Expr
	groupBy []Expr
	orderBy []Expr
	limit   int
	offset  int
}

// From starts a SELECT over a table expression.
func From(table Expr) *Select {
	return &Select{from: table, limit: -1}
}

// Columns appends select-list entries.
func (s *Select) Columns(cols ...Expr) *Select {
	s.columns = append(s.columns, cols...)
	return s
}

// SetColumns replaces the select list.
func (s *Select) SetColumns(cols ...Expr) *Select {
	s.columns = append([]Expr(nil), cols...)
	return s
}

// Join adds "<kind> JOIN table ON on". kind is e.g. "INNER" or "LEFT".
func (s *Select) Join(kind string, table, on Expr) *Select {
	s.joins = append(s.joins, Concat(Raw(kind+" JOIN "), table, Raw(" ON "), on))
	return s
}

// Where adds AND-combined conditions.
func (s *Select) Where(conds ...Expr) *Select {
	s.where = append(s.where, conds...)
	return s
}

// GroupBy appends grouping expressions.
func (s *Select) GroupBy(exprs ...Expr) *Select {
	s.groupBy = append(s.groupBy, exprs...)
	return s
}

// OrderBy appends ordering expressions (including ASC/DESC).
func (s *Select) OrderBy(exprs ...Expr) *Select {
	s.orderBy = append(s.orderBy, exprs...)
	return s
}

// Limit sets the row limit; negative means none.
func (s *Select) Limit(n int) *Select {
	s.limit = n
	return s
}

// Offset sets the row offset.
func (s *Select) Offset(n int) *Select {
	s.offset = n
	return s
}

// Clone returns an independent copy.
func (s *Select) Clone() *Select {
	c := *s
	c.columns = append([]Expr(nil), s.columns...)
	c.joins = append([]Expr(nil), s.joins...)
	c.where = append([]Expr(nil), s.where...)
	c.groupBy = append([]Expr(nil), s.groupBy...)
	c.orderBy = append([]Expr(nil), s.orderBy...)
	return &c
}

// Build renders the statement. Pagination follows the limit style.
func (s *Select) Build(style core.LimitStyle) Expr {
	parts := []Expr{Raw("SELECT ")}
	if len(s.columns) == 0 {
		parts = append(parts, Raw("*"))
	} else {
		parts = append(parts, Join(", ", s.columns...))
	}
	parts = append(parts, Raw(" FROM "), s.from)
	for _, j := range s.joins {
		parts = append(parts, Raw(" "), j)
	}
	if len(s.where) > 0 {
		conds := make([]Expr, len(s.where))
		for i, w := range s.where {
			conds[i] = w
			if len(s.where) > 1 {
				conds[i] = Paren(w)
			}
		}
		parts = append(parts, Raw(" WHERE "), Join(" AND ", conds...))
	}
	if len(s.groupBy) > 0 {
		parts = append(parts, Raw(" GROUP BY "), Join(", ", s.groupBy...))
	}

	paginate := s.limit >= 0 || s.offset > 0
	orderBy := s.orderBy
	if paginate && style == core.OffsetFetch && len(orderBy) == 0 {
		orderBy = []Expr{Raw("(SELECT NULL)")}
	}
	if len(orderBy) > 0 {
		parts = append(parts, Raw(" ORDER BY "), Join(", ", orderBy...))
	}

	if paginate {
		switch style {
		case core.OffsetFetch:
			parts = append(parts, Raw(" OFFSET "+strconv.Itoa(s.offset)+" ROWS"))
			if s.limit >= 0 {
				parts = append(parts, Raw(" FETCH NEXT "+strconv.Itoa(s.limit)+" ROWS ONLY"))
			}
		default:
			if s.limit >= 0 {
				parts = append(parts, Raw(" LIMIT "+strconv.Itoa(s.limit)))
			}
			if s.offset > 0 {
				parts = append(parts, Raw(" OFFSET "+strconv.Itoa(s.offset)))
			}
		}
	}
	return Concat(parts...)
}

