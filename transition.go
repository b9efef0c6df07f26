package gridengine

import (
	"context"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/state"
)

// SortBy sorts on column id. Sorting again on the current column flips the
// direction; a new column starts ascending.
func (t *Table) SortBy(st state.QueryState, id string) state.QueryState {
	dir := state.Asc
	if st.SortColumn == id {
		dir = st.SortDirection.Toggle()
	}
	return t.SortOn(st, id, dir)
}

// SortOn sorts on column id in direction dir. A column that cannot be
// sorted, such as a nested relation, leaves st and its order unchanged.
func (t *Table) SortOn(st state.QueryState, id string, dir state.Direction) state.QueryState {
	if plan := t.builder.ResolveSort(id, dir); !plan.Applied() {
		t.logger.Debug("sort request ignored", "column", id, "state", plan.State, "reason", plan.Reason)
		return st
	}
	st = st.Clone()
	st.SortColumn = id
	st.SortDirection = dir
	return st
}

// SetSearch replaces the search text and goes back to the first page.
func (t *Table) SetSearch(st state.QueryState, term string) state.QueryState {
	st = st.Clone()
	st.Search = strings.TrimSpace(term)
	st.Page = 1
	return st
}

// SetFilter replaces the filter and goes back to the first page. Moving the
// filter to another column drops that column's cached value list so the
// picker shows fresh values.
func (t *Table) SetFilter(ctx context.Context, st state.QueryState, id, op, value string) state.QueryState {
	next := st.Clone()
	if id != "" && id != st.FilterColumn && t.distinct != nil {
		if err := t.distinct.Invalidate(ctx, id); err != nil {
			t.logger.Warn("distinct values not invalidated", "column", id, "error", err)
		}
	}
	next.FilterColumn = id
	next.FilterOperator = op
	next.FilterValue = value
	next.Page = 1
	return next
}

// SetDateRange restricts column id to [from, to] and goes back to the first
// page. Empty bounds clear the range.
func (t *Table) SetDateRange(st state.QueryState, id, from, to string) state.QueryState {
	st = st.Clone()
	st.DateColumn, st.DateFrom, st.DateTo = id, from, to
	st.Page = 1
	return st
}

// ToggleColumn flips the visibility of column id. Unknown ids leave st
// unchanged.
func (t *Table) ToggleColumn(st state.QueryState, id string) state.QueryState {
	d, ok := t.registry.Lookup(id)
	if !ok {
		t.logger.Debug("toggle ignored", "error", griderr.New(griderr.ErrInvalidColumn, id, "not a configured column"))
		return st
	}
	st = st.Clone()
	if st.Visible == nil {
		st.Visible = map[string]bool{}
	}
	st.Visible[id] = !t.registry.IsVisible(d, st.Visible)
	return st
}

// GoToPage moves to page n, clamped to at least 1.
func (t *Table) GoToPage(st state.QueryState, n int) state.QueryState {
	st = st.Clone()
	st.Page = max(n, 1)
	return st
}

// Update loads the user's state, applies each transition in order, saves
// the result and returns it.
func (t *Table) Update(ctx context.Context, user string, fns ...func(state.QueryState) state.QueryState) state.QueryState {
	st := t.LoadState(ctx, user)
	for _, fn := range fns {
		st = fn(st)
	}
	st = st.Normalize(t.cfg.PerPage)
	t.SaveState(ctx, user, st)
	return st
}
