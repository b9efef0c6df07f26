package query

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/internal/render"
	"github.com/gnemet/gridengine/schema"
	"github.com/gnemet/gridengine/state"
)

// Options tune a Builder. Nil collaborators get the package defaults.
type Options struct {
	CaseInsensitive  bool
	DefaultSort      string
	DefaultDirection state.Direction
	// Actions are per-row templates; the fields they reference are selected.
	Actions []string

	Searcher Searcher
	Filterer Filterer
	Sorter   Sorter
	Logger   *slog.Logger
}

// Builder compiles QueryState into a Query for one table instance.
type Builder struct {
	registry *column.Registry
	resolver *relation.Resolver
	scanner  *render.Scanner
	opts     Options
	logger   *slog.Logger
}

func NewBuilder(registry *column.Registry, resolver *relation.Resolver, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := registry.Entity()
	if opts.Searcher == nil {
		opts.Searcher = NewPrefixSearcher(e, opts.CaseInsensitive, opts.Logger)
	}
	if opts.Filterer == nil {
		opts.Filterer = NewPredicateFilterer(e)
	}
	if opts.Sorter == nil {
		opts.Sorter = NewSortResolver(registry, opts.Logger)
	}
	return &Builder{
		registry: registry,
		resolver: resolver,
		scanner: render.NewScanner(func(segs []string) []string {
			return resolver.LongestChain(e, segs)
		}),
		opts:   opts,
		logger: opts.Logger,
	}
}

// Build never fails: every unusable part of the state or the constraints
// is logged and left out of the plan.
func (b *Builder) Build(st state.QueryState, constraints []Constraint) *Query {
	e := b.registry.Entity()
	q := NewQuery(e)
	visible := b.registry.Visible(st.Visible)

	// 1. custom constraints
	b.applyConstraints(q, constraints)

	// 2. minimal select list and 3. eager loads
	refs := b.templateRefs(visible)
	eager := b.resolver.EagerLoadPaths(e, append(column.RelationChains(visible), refs.Relations...)...)
	q.Select(b.selectColumns(st, visible, refs, eager)...)
	q.With(eager...)

	// 4. search
	if term := strings.TrimSpace(st.Search); term != "" {
		q.Where(b.opts.Searcher.Search(term, b.searchColumns(st, visible)))
	}

	// 5. filter
	if st.HasFilter() {
		b.applyFilter(q, st)
	}

	// 6. date range
	if st.HasDateRange() {
		b.applyDateRange(q, st)
	}

	// 7. sort
	q.Sort = b.opts.Sorter.Sort(q, st.SortColumn, st.SortDirection)
	if !q.Sort.Applied() && b.opts.DefaultSort != "" {
		b.opts.Sorter.Sort(q, b.opts.DefaultSort, b.opts.DefaultDirection)
	}
	return q
}

// ResolveSort reports how a sort on id would be applied, without building a
// plan. Rejections are logged as they are during Build.
func (b *Builder) ResolveSort(id string, dir state.Direction) SortPlan {
	return b.opts.Sorter.Sort(NewQuery(b.registry.Entity()), id, dir)
}

// Scanner returns the dependency scanner bound to this table's entity.
func (b *Builder) Scanner() *render.Scanner {
	return b.scanner
}

func (b *Builder) applyConstraints(q *Query, cs []Constraint) {
	if len(cs) == 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.logger.Warn("custom constraints dropped", "error",
				griderr.New(griderr.ErrQueryConstraint, q.Entity.Name, fmt.Sprint(p)))
		}
	}()
	preds, err := constraintPredicates(q.Entity, cs, func(c Constraint, reason string) {
		b.logger.Debug("custom constraint skipped", "column", c.Column, "reason", reason)
	})
	if err != nil {
		b.logger.Warn("custom constraints dropped", "error", err)
		return
	}
	for _, p := range preds {
		q.Where(p)
	}
}

func (b *Builder) templateRefs(visible []*column.Descriptor) render.Refs {
	var templates []string
	for _, d := range visible {
		if d.RawTemplate != "" {
			templates = append(templates, d.RawTemplate)
		}
	}
	templates = append(templates, b.opts.Actions...)
	return b.scanner.Scan(templates...)
}

func (b *Builder) selectColumns(st state.QueryState, visible []*column.Descriptor, refs render.Refs, eager []string) []string {
	e := b.registry.Entity()
	cols := []string{e.PrimaryKey}
	if d, ok := b.registry.Lookup(st.SortColumn); ok && d.Kind == column.KindDirect {
		cols = append(cols, d.DBKey)
	} else if e.HasColumn(st.SortColumn) {
		cols = append(cols, st.SortColumn)
	}
	for _, d := range visible {
		switch d.Kind {
		case column.KindDirect, column.KindJSON:
			cols = append(cols, d.DBKey)
		case column.KindFunction:
			// Accessors may read any attribute unless the column names one.
			if e.HasColumn(d.Key) {
				cols = append(cols, d.Key)
			} else {
				cols = append(cols, e.ColumnNames()...)
			}
		}
	}
	cols = append(cols, refs.Fields...)
	for _, p := range eager {
		if strings.Contains(p, ".") {
			continue
		}
		if rel, ok := e.Relation(p); ok {
			cols = append(cols, rel.ParentKey())
		}
	}
	return cols
}

func queryable(d *column.Descriptor) bool {
	return d.Kind == column.KindDirect || d.Kind == column.KindRelation || d.Kind == column.KindJSON
}

func (b *Builder) searchColumns(st state.QueryState, visible []*column.Descriptor) []*column.Descriptor {
	if st.FilterColumn != "" {
		if d, ok := b.registry.Lookup(st.FilterColumn); ok && queryable(d) {
			return []*column.Descriptor{d}
		}
	}
	var cols []*column.Descriptor
	for _, d := range visible {
		if d.Searchable && queryable(d) {
			cols = append(cols, d)
		}
	}
	return cols
}

func (b *Builder) applyFilter(q *Query, st state.QueryState) {
	d, ok := b.registry.Lookup(st.FilterColumn)
	if !ok || !queryable(d) {
		b.logger.Debug("filter ignored", "error",
			griderr.New(griderr.ErrInvalidColumn, st.FilterColumn, "not a filterable column"))
		return
	}
	pred, err := b.opts.Filterer.Filter(d, st.FilterOperator, st.FilterValue)
	if err != nil {
		b.logger.Debug("filter ignored", "column", d.Identifier, "error", err)
		return
	}
	q.Where(pred)
}

func (b *Builder) applyDateRange(q *Query, st state.QueryState) {
	d, ok := b.registry.Lookup(st.DateColumn)
	if !ok || !queryable(d) {
		e := b.registry.Entity()
		if !e.HasColumn(st.DateColumn) {
			b.logger.Debug("date range ignored", "error",
				griderr.New(griderr.ErrInvalidColumn, st.DateColumn, "not a date column"))
			return
		}
		d = &column.Descriptor{Identifier: st.DateColumn, Kind: column.KindDirect, DBKey: st.DateColumn, Type: string(schema.TypeDate)}
	}
	pred, err := b.opts.Filterer.DateRange(d, st.DateFrom, st.DateTo)
	if err != nil {
		b.logger.Debug("date range ignored", "column", d.Identifier, "error", err)
		return
	}
	q.Where(pred)
}
