// Package query compiles grid state into a single parameterized SELECT over
// one entity and its relations. Identifiers only ever come from the entity
// catalog; every user-supplied value is bound as a parameter.
package query

import (
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/gnemet/gridengine/schema"
)

// Query is an executable query plan for one page (or one chunk) of rows.
type Query struct {
	Entity *schema.Entity
	// Columns are the base-table columns to select, primary key first.
	Columns []string
	// Eager are relation chains to batch-load after the rows, every prefix
	// listed before its extensions.
	Eager []string
	// Sort describes how the requested sort was handled.
	Sort SortPlan

	wheres  []sq.Sqlizer
	joins   []string
	groupBy []string
	orders  []string
}

// NewQuery starts an unfiltered plan over the entity.
func NewQuery(e *schema.Entity) *Query {
	return &Query{Entity: e}
}

// Select adds base columns, skipping duplicates and undeclared names.
func (q *Query) Select(cols ...string) *Query {
	for _, c := range cols {
		if c == "" || !q.Entity.HasColumn(c) || slices.Contains(q.Columns, c) {
			continue
		}
		q.Columns = append(q.Columns, c)
	}
	return q
}

// With adds eager-load relation chains.
func (q *Query) With(paths ...string) *Query {
	for _, p := range paths {
		if p != "" && !slices.Contains(q.Eager, p) {
			q.Eager = append(q.Eager, p)
		}
	}
	return q
}

// Where ANDs a predicate onto the plan. Nil predicates are ignored.
func (q *Query) Where(pred sq.Sqlizer) *Query {
	if pred != nil {
		q.wheres = append(q.wheres, pred)
	}
	return q
}

// OrderBy appends a structural order expression. Values never appear in it.
func (q *Query) OrderBy(expr string) *Query {
	q.orders = append(q.orders, expr)
	return q
}

// HasOrder reports whether any order has been applied.
func (q *Query) HasOrder() bool {
	return len(q.orders) > 0
}

func (q *Query) leftJoin(clause string) {
	q.joins = append(q.joins, "LEFT JOIN "+clause)
}

func (q *Query) groupByPrimaryKey() {
	q.groupBy = append(q.groupBy, q.qualify(q.Entity.PrimaryKey))
}

// Clone returns an independent copy.
func (q *Query) Clone() *Query {
	c := *q
	c.Columns = slices.Clone(q.Columns)
	c.Eager = slices.Clone(q.Eager)
	c.wheres = slices.Clone(q.wheres)
	c.joins = slices.Clone(q.joins)
	c.groupBy = slices.Clone(q.groupBy)
	c.orders = slices.Clone(q.orders)
	return &c
}

func (q *Query) table() string {
	return pq.QuoteIdentifier(q.Entity.Table)
}

func (q *Query) qualify(col string) string {
	return q.table() + "." + pq.QuoteIdentifier(col)
}

func (q *Query) builder() sq.SelectBuilder {
	cols := q.Columns
	if len(cols) == 0 {
		cols = []string{q.Entity.PrimaryKey}
	}
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = q.qualify(c)
	}
	b := sq.Select(selected...).From(q.table())
	for _, j := range q.joins {
		b = b.JoinClause(j)
	}
	for _, w := range q.wheres {
		b = b.Where(w)
	}
	if len(q.groupBy) > 0 {
		b = b.GroupBy(q.groupBy...)
	}
	orders := slices.Clone(q.orders)
	// A primary-key tie-breaker keeps pages stable.
	orders = append(orders, q.qualify(q.Entity.PrimaryKey)+" ASC")
	return b.OrderBy(orders...).PlaceholderFormat(sq.Dollar)
}

// ToSQL renders the unpaginated plan.
func (q *Query) ToSQL() (string, []any, error) {
	sql, args, err := q.builder().ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build %s query: %w", q.Entity.Name, err)
	}
	return sql, args, nil
}

// LimitSQL renders the plan restricted to limit rows after offset.
func (q *Query) LimitSQL(limit, offset int) (string, []any, error) {
	b := q.builder()
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build %s page query: %w", q.Entity.Name, err)
	}
	return sql, args, nil
}

// PageSQL renders one page; page is 1-based.
func (q *Query) PageSQL(page, perPage int) (string, []any, error) {
	if page < 1 {
		page = 1
	}
	return q.LimitSQL(perPage, (page-1)*perPage)
}

// CountSQL counts matching base rows. Sort joins and ordering do not affect
// the count and are left out.
func (q *Query) CountSQL() (string, []any, error) {
	b := sq.Select("COUNT(*)").From(q.table())
	for _, w := range q.wheres {
		b = b.Where(w)
	}
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build %s count query: %w", q.Entity.Name, err)
	}
	return sql, args, nil
}
