package query

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/schema"
	"github.com/gnemet/gridengine/state"
)

// SortState is the outcome of resolving a sort request.
type SortState int

const (
	NoSort SortState = iota
	DirectSort
	RelationSort
	RelationSortUnsupported
)

func (s SortState) String() string {
	switch s {
	case DirectSort:
		return "direct"
	case RelationSort:
		return "relation"
	case RelationSortUnsupported:
		return "unsupported"
	default:
		return "none"
	}
}

// SortPlan records how a sort request was applied.
type SortPlan struct {
	State     SortState
	Column    string
	Direction state.Direction
	// Join is set when a relation sort had to join instead of using a
	// correlated subquery.
	Join   bool
	Reason string
}

// Applied reports whether the plan changed the order.
func (p SortPlan) Applied() bool {
	return p.State == DirectSort || p.State == RelationSort
}

// Sorter applies a sort request to a query.
type Sorter interface {
	Sort(q *Query, id string, dir state.Direction) SortPlan
}

// SortResolver orders by direct columns and single-level relations. Deeper
// relation sorts are refused and leave the order untouched.
type SortResolver struct {
	registry *column.Registry
	logger   *slog.Logger
}

func NewSortResolver(registry *column.Registry, logger *slog.Logger) *SortResolver {
	return &SortResolver{registry: registry, logger: logger}
}

func (s *SortResolver) Sort(q *Query, id string, dir state.Direction) SortPlan {
	if id == "" {
		return SortPlan{State: NoSort}
	}
	if dir != state.Desc {
		dir = state.Asc
	}
	plan := SortPlan{Column: id, Direction: dir}

	d, ok := s.registry.Lookup(id)
	if !ok {
		return s.fallback(q, plan, id, griderr.New(griderr.ErrInvalidColumn, id, "not a configured column"))
	}

	switch d.Kind {
	case column.KindDirect:
		if !d.Sortable {
			plan.Reason = "column is not sortable"
			s.logger.Debug("sort ignored", "column", id, "reason", plan.Reason)
			return plan
		}
		q.OrderBy(q.qualify(d.DBKey) + " " + sqlDirection(dir))
		plan.State = DirectSort
		return plan
	case column.KindRelation:
		if !d.Relation.Sortable() {
			err := griderr.New(griderr.ErrUnsupportedSortTarget, id,
				fmt.Sprintf("relation %q is nested %d level(s) deep", d.Relation.Raw, d.Relation.NestingLevel()))
			s.logger.Warn("sort rejected, keeping previous order", "column", id, "error", err)
			plan.State = RelationSortUnsupported
			plan.Reason = err.Error()
			return plan
		}
		if !d.Sortable {
			plan.Reason = "column is not sortable"
			s.logger.Debug("sort ignored", "column", id, "reason", plan.Reason)
			return plan
		}
		join, err := s.relationOrder(q, d, dir)
		if err != nil {
			return s.fallback(q, plan, d.Key, err)
		}
		plan.State = RelationSort
		plan.Join = join
		return plan
	default:
		plan.Reason = fmt.Sprintf("%s columns are not sortable", d.Kind)
		s.logger.Debug("sort ignored", "column", id, "reason", plan.Reason)
		return plan
	}
}

// fallback orders by name when it is a plain column of the entity, which
// covers sort keys like updated_at that were never configured as columns.
func (s *SortResolver) fallback(q *Query, plan SortPlan, name string, cause error) SortPlan {
	if name != "" && q.Entity.HasColumn(name) {
		q.OrderBy(q.qualify(name) + " " + sqlDirection(plan.Direction))
		plan.State = DirectSort
		plan.Reason = "ordered by raw column"
		s.logger.Debug("sort resolved by raw column", "column", name, "cause", cause)
		return plan
	}
	plan.Reason = cause.Error()
	s.logger.Debug("sort ignored", "column", plan.Column, "error", cause)
	return plan
}

// relationOrder prefers a correlated subquery returning one value per base
// row. belongs_to_many is sorted through left joins grouped by the primary
// key, taking the smallest (asc) or largest (desc) related value.
func (s *SortResolver) relationOrder(q *Query, d *column.Descriptor, dir state.Direction) (bool, error) {
	hop := d.Relation.Hops[0]
	if hop.Relation.Kind == schema.BelongsToMany {
		links, alias, err := chainLinks(q.table(), d.Relation.Hops, "s")
		if err != nil {
			return false, err
		}
		for _, l := range links {
			q.leftJoin(l.from() + " ON " + l.On)
		}
		q.groupByPrimaryKey()
		agg := "MIN"
		if dir == state.Desc {
			agg = "MAX"
		}
		expr := jsonExpr(aliasCol(alias, d.Relation.Column()), d.Relation.JSONPath())
		q.OrderBy(agg + "(" + expr + ") " + sqlDirection(dir))
		return true, nil
	}

	links, alias, err := chainLinks(q.table(), d.Relation.Hops, "r")
	if err != nil {
		return false, err
	}
	expr := jsonExpr(aliasCol(alias, d.Relation.Column()), d.Relation.JSONPath())
	var b strings.Builder
	b.WriteString("(SELECT " + expr + " FROM " + links[0].from())
	for _, l := range links[1:] {
		b.WriteString(" JOIN " + l.from() + " ON " + l.On)
	}
	b.WriteString(" WHERE " + links[0].On)
	b.WriteString(" ORDER BY " + expr + " " + sqlDirection(dir) + " LIMIT 1) " + sqlDirection(dir))
	q.OrderBy(b.String())
	return false, nil
}

func sqlDirection(d state.Direction) string {
	if d == state.Desc {
		return "DESC"
	}
	return "ASC"
}
