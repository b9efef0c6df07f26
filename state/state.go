// Package state holds the per-user grid state (search, sort, filter, date
// range, paging, column visibility) and the stores that persist it between
// requests.
package state

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection coerces anything but "desc" to Asc.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// Toggle returns the opposite direction.
func (d Direction) Toggle() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

const (
	DefaultPerPage = 10
	MaxPerPage     = 500
)

// QueryState is one user's view of one table. It is passed by value; use
// Clone before mutating Visible on a copy.
type QueryState struct {
	Search         string          `json:"search,omitempty"`
	SortColumn     string          `json:"sort_column,omitempty"`
	SortDirection  Direction       `json:"sort_direction,omitempty"`
	FilterColumn   string          `json:"filter_column,omitempty"`
	FilterOperator string          `json:"filter_operator,omitempty"`
	FilterValue    string          `json:"filter_value,omitempty"`
	DateColumn     string          `json:"date_column,omitempty"`
	DateFrom       string          `json:"date_from,omitempty"`
	DateTo         string          `json:"date_to,omitempty"`
	Page           int             `json:"page"`
	PerPage        int             `json:"per_page"`
	Visible        map[string]bool `json:"visible,omitempty"`
}

// Clone returns a deep copy.
func (s QueryState) Clone() QueryState {
	c := s
	if s.Visible != nil {
		c.Visible = maps.Clone(s.Visible)
	}
	return c
}

// Normalize enforces positive paging and a valid direction.
func (s QueryState) Normalize(defaultPerPage int) QueryState {
	s = s.Clone()
	if defaultPerPage <= 0 {
		defaultPerPage = DefaultPerPage
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if s.PerPage < 1 {
		s.PerPage = defaultPerPage
	}
	if s.PerPage > MaxPerPage {
		s.PerPage = MaxPerPage
	}
	s.SortDirection = ParseDirection(string(s.SortDirection))
	s.Search = strings.TrimSpace(s.Search)
	return s
}

// Offset is the row offset of the current page.
func (s QueryState) Offset() int {
	if s.Page < 1 || s.PerPage < 1 {
		return 0
	}
	return (s.Page - 1) * s.PerPage
}

// HasDateRange reports whether a complete date range is set.
func (s QueryState) HasDateRange() bool {
	return s.DateColumn != "" && s.DateFrom != "" && s.DateTo != ""
}

// HasFilter reports whether a filter column and a non-empty value are set.
func (s QueryState) HasFilter() bool {
	return s.FilterColumn != "" && strings.TrimSpace(s.FilterValue) != ""
}

// FromValues overlays request query parameters on base. It understands the
// datagrid parameters limit/offset as well as page/per_page, and sort given
// as "column:dir".
func FromValues(q url.Values, base QueryState) QueryState {
	s := base.Clone()

	if v, ok := q["search"]; ok {
		s.Search = firstOf(v)
	}
	if v := q.Get("sort"); v != "" {
		col, dir, _ := strings.Cut(v, ":")
		s.SortColumn = col
		s.SortDirection = ParseDirection(dir)
	}
	if v, ok := q["filter"]; ok {
		s.FilterColumn = firstOf(v)
	}
	if v, ok := q["filter_op"]; ok {
		s.FilterOperator = firstOf(v)
	}
	if v, ok := q["filter_value"]; ok {
		s.FilterValue = firstOf(v)
	}
	if v, ok := q["date_column"]; ok {
		s.DateColumn = firstOf(v)
	}
	if v, ok := q["date_from"]; ok {
		s.DateFrom = firstOf(v)
	}
	if v, ok := q["date_to"]; ok {
		s.DateTo = firstOf(v)
	}

	if n, err := strconv.Atoi(q.Get("per_page")); err == nil {
		s.PerPage = n
	} else if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		s.PerPage = n
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		s.Page = n
	} else if n, err := strconv.Atoi(q.Get("offset")); err == nil && s.PerPage > 0 {
		s.Page = n/s.PerPage + 1
	}

	for _, id := range splitList(q["hide"]) {
		if s.Visible == nil {
			s.Visible = map[string]bool{}
		}
		s.Visible[id] = false
	}
	for _, id := range splitList(q["show"]) {
		if s.Visible == nil {
			s.Visible = map[string]bool{}
		}
		s.Visible[id] = true
	}
	return s
}

func firstOf(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Key identifies one user's state for one table instance.
type Key struct {
	Table string
	User  string
}

func (k Key) String() string {
	return fmt.Sprintf("gridengine:state:%s:%s", k.Table, k.User)
}
