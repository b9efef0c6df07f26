package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/internal/testutil"
	"github.com/gnemet/gridengine/state"
)

func newBuilder(t *testing.T, opts Options, cfgs ...column.Config) *Builder {
	t.Helper()
	cat, emp := testutil.Employees(t)
	res := relation.NewResolver(cat)
	logger := testutil.NewTestLogger(t)
	opts.Logger = logger
	return NewBuilder(column.Build(emp, res, cfgs, logger), res, opts)
}

func toSQL(t *testing.T, q *Query) (string, []any) {
	t.Helper()
	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	return sql, args
}

func TestSearchAcrossDirectAndRelationColumns(t *testing.T) {
	b := newBuilder(t, Options{},
		column.Config{Key: "name"},
		column.Config{Key: "dept", Relation: "department:name"},
	)

	sql, args := toSQL(t, b.Build(state.QueryState{Search: "Ali"}, nil))

	assert.Equal(t,
		`SELECT "employees"."id", "employees"."name", "employees"."department_id" FROM "employees" `+
			`WHERE ("employees"."name" LIKE $1 OR EXISTS (SELECT 1 FROM "departments" AS r1 `+
			`WHERE r1."id" = "employees"."department_id" AND r1."name" LIKE $2)) `+
			`ORDER BY "employees"."id" ASC`, sql)
	assert.Equal(t, []any{"Ali%", "Ali%"}, args)
}

func TestSearchEscapesWildcardsAndHonoursCase(t *testing.T) {
	b := newBuilder(t, Options{CaseInsensitive: true}, column.Config{Key: "name"})

	sql, args := toSQL(t, b.Build(state.QueryState{Search: "50%_off"}, nil))

	assert.Contains(t, sql, `WHERE "employees"."name" ILIKE $1`)
	assert.Equal(t, []any{`50\%\_off%`}, args)
}

func TestNumericSearchUsesEquality(t *testing.T) {
	b := newBuilder(t, Options{},
		column.Config{Key: "name"},
		column.Config{Key: "salary"},
		column.Config{Key: "active"},
	)

	sql, args := toSQL(t, b.Build(state.QueryState{Search: "42"}, nil))
	assert.Contains(t, sql, `WHERE ("employees"."name" LIKE $1 OR "employees"."salary" = $2)`)
	assert.Equal(t, []any{"42%", int64(42)}, args)

	sql, args = toSQL(t, b.Build(state.QueryState{Search: "Bob"}, nil))
	assert.Contains(t, sql, `WHERE "employees"."name" LIKE $1 ORDER BY`)
	assert.Equal(t, []any{"Bob%"}, args)
}

func TestSearchScopedToFilterColumn(t *testing.T) {
	b := newBuilder(t, Options{},
		column.Config{Key: "name"},
		column.Config{Key: "dept", Relation: "department:name"},
	)

	sql, args := toSQL(t, b.Build(state.QueryState{Search: "Ali", FilterColumn: "dept"}, nil))

	assert.Contains(t, sql, `WHERE EXISTS (SELECT 1 FROM "departments" AS r1 WHERE r1."id" = "employees"."department_id" AND r1."name" LIKE $1)`)
	assert.NotContains(t, sql, `"employees"."name" LIKE`)
	assert.Equal(t, []any{"Ali%"}, args)
}

func TestNumericFilterBindsNumber(t *testing.T) {
	b := newBuilder(t, Options{}, column.Config{Key: "name"}, column.Config{Key: "salary"})

	sql, args := toSQL(t, b.Build(state.QueryState{FilterColumn: "salary", FilterOperator: ">", FilterValue: "100"}, nil))
	assert.Contains(t, sql, `WHERE "employees"."salary" > $1`)
	assert.Equal(t, []any{int64(100)}, args)

	_, args = toSQL(t, b.Build(state.QueryState{FilterColumn: "salary", FilterValue: "99.5"}, nil))
	require.Len(t, args, 1)
	assert.Equal(t, "99.5", args[0].(interface{ String() string }).String())

	sql, args = toSQL(t, b.Build(state.QueryState{FilterColumn: "salary", FilterValue: "lots"}, nil))
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, args)
}

func TestFilterTargets(t *testing.T) {
	b := newBuilder(t, Options{},
		column.Config{Key: "name"},
		column.Config{Key: "dept", Relation: "department:name", Type: column.TypeSelect},
		column.Config{Key: "meta", JSON: "address.city"},
		column.Config{Key: "active"},
		column.Config{Function: "fullName"},
	)

	tests := []struct {
		name  string
		st    state.QueryState
		where string
		args  []any
	}{
		{
			name:  "free text defaults to prefix like",
			st:    state.QueryState{FilterColumn: "name", FilterValue: "<b>Al</b>"},
			where: `WHERE "employees"."name" LIKE $1`,
			args:  []any{"Al%"},
		},
		{
			name:  "relation wrapped in exists",
			st:    state.QueryState{FilterColumn: "dept", FilterValue: "Sales"},
			where: `WHERE EXISTS (SELECT 1 FROM "departments" AS r1 WHERE r1."id" = "employees"."department_id" AND r1."name" = $1)`,
			args:  []any{"Sales"},
		},
		{
			name:  "json path extraction",
			st:    state.QueryState{FilterColumn: "meta.address.city", FilterValue: "Bud"},
			where: `WHERE ("employees"."meta" #>> '{address,city}') LIKE $1`,
			args:  []any{"Bud%"},
		},
		{
			name:  "boolean",
			st:    state.QueryState{FilterColumn: "active", FilterValue: "true"},
			where: `WHERE "employees"."active" = $1`,
			args:  []any{true},
		},
		{
			name:  "explicit operator overrides default",
			st:    state.QueryState{FilterColumn: "name", FilterOperator: "!=", FilterValue: "Bob"},
			where: `WHERE "employees"."name" <> $1`,
			args:  []any{"Bob"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, args := toSQL(t, b.Build(tc.st, nil))
			assert.Contains(t, sql, tc.where)
			assert.Equal(t, tc.args, args)
		})
	}

	for _, st := range []state.QueryState{
		{FilterColumn: "fullName", FilterValue: "x"},
		{FilterColumn: "ghost", FilterValue: "x"},
		{FilterColumn: "name", FilterValue: "   "},
		{FilterColumn: "name", FilterValue: "<script>alert(1)</script>"},
	} {
		sql, _ := toSQL(t, b.Build(st, nil))
		assert.NotContains(t, sql, "WHERE", st.FilterColumn)
	}
}

func TestDateRangeIsInclusive(t *testing.T) {
	b := newBuilder(t, Options{}, column.Config{Key: "name"}, column.Config{Key: "hired_at"})

	sql, args := toSQL(t, b.Build(state.QueryState{DateColumn: "hired_at", DateFrom: "2024-01-01", DateTo: "2024-01-31"}, nil))
	assert.Contains(t, sql, `WHERE "employees"."hired_at" BETWEEN $1 AND $2`)
	require.Len(t, args, 2)
	assert.True(t, args[0].(time.Time).Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, args[1].(time.Time).Equal(time.Date(2024, 1, 31, 23, 59, 59, 999999000, time.UTC)))

	// an unconfigured but declared column still works
	sql, _ = toSQL(t, b.Build(state.QueryState{DateColumn: "updated_at", DateFrom: "2024-01-01", DateTo: "2024-02-01 12:00:00"}, nil))
	assert.Contains(t, sql, `WHERE "employees"."updated_at" BETWEEN $1 AND $2`)

	sql, _ = toSQL(t, b.Build(state.QueryState{DateColumn: "hired_at", DateFrom: "2024-01-01"}, nil))
	assert.NotContains(t, sql, "BETWEEN")
	sql, _ = toSQL(t, b.Build(state.QueryState{DateColumn: "hired_at", DateFrom: "yesterday-ish", DateTo: "2024-01-01"}, nil))
	assert.NotContains(t, sql, "BETWEEN")
}

func TestSortResolution(t *testing.T) {
	cfgs := []column.Config{
		{Key: "name"},
		{Key: "dept", Relation: "department:name"},
		{Key: "company", Relation: "department.company:name"},
		{Key: "project", Relation: "projects:title"},
		{Key: "hours", Relation: "timesheets:hours"},
		{Function: "fullName"},
	}

	tests := []struct {
		name    string
		opts    Options
		st      state.QueryState
		state   SortState
		orderBy string
	}{
		{
			name:    "direct",
			st:      state.QueryState{SortColumn: "name", SortDirection: state.Desc},
			state:   DirectSort,
			orderBy: `ORDER BY "employees"."name" DESC, "employees"."id" ASC`,
		},
		{
			name:  "belongs_to correlated subquery",
			st:    state.QueryState{SortColumn: "dept", SortDirection: state.Asc},
			state: RelationSort,
			orderBy: `ORDER BY (SELECT r1."name" FROM "departments" AS r1 WHERE r1."id" = "employees"."department_id" ` +
				`ORDER BY r1."name" ASC LIMIT 1) ASC, "employees"."id" ASC`,
		},
		{
			name:  "has_many correlated subquery",
			st:    state.QueryState{SortColumn: "hours", SortDirection: state.Desc},
			state: RelationSort,
			orderBy: `ORDER BY (SELECT r1."hours" FROM "timesheets" AS r1 WHERE r1."employee_id" = "employees"."id" ` +
				`ORDER BY r1."hours" DESC LIMIT 1) DESC, "employees"."id" ASC`,
		},
		{
			name:    "nested relation rejected, default order stays",
			opts:    Options{DefaultSort: "name"},
			st:      state.QueryState{SortColumn: "company", SortDirection: state.Desc},
			state:   RelationSortUnsupported,
			orderBy: `ORDER BY "employees"."name" ASC, "employees"."id" ASC`,
		},
		{
			name:    "function column is not sortable",
			st:      state.QueryState{SortColumn: "fullName"},
			state:   NoSort,
			orderBy: `ORDER BY "employees"."id" ASC`,
		},
		{
			name:    "raw column fallback",
			st:      state.QueryState{SortColumn: "updated_at", SortDirection: state.Desc},
			state:   DirectSort,
			orderBy: `ORDER BY "employees"."updated_at" DESC, "employees"."id" ASC`,
		},
		{
			name:    "unknown column",
			st:      state.QueryState{SortColumn: "nope"},
			state:   NoSort,
			orderBy: `ORDER BY "employees"."id" ASC`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newBuilder(t, tc.opts, cfgs...).Build(tc.st, nil)
			sql, _ := toSQL(t, q)
			assert.Equal(t, tc.state, q.Sort.State)
			assert.Contains(t, sql, tc.orderBy)
		})
	}
}

func TestNestedSortLeavesOrderUnchanged(t *testing.T) {
	b := newBuilder(t, Options{DefaultSort: "name", DefaultDirection: state.Desc},
		column.Config{Key: "name"},
		column.Config{Key: "company", Relation: "department.company:name"},
	)

	before, _ := toSQL(t, b.Build(state.QueryState{}, nil))
	q := b.Build(state.QueryState{SortColumn: "company", SortDirection: state.Asc}, nil)
	after, _ := toSQL(t, q)

	assert.Equal(t, before, after)
	assert.Equal(t, RelationSortUnsupported, q.Sort.State)
	assert.NotEmpty(t, q.Sort.Reason)
}

func TestBelongsToManySortJoins(t *testing.T) {
	b := newBuilder(t, Options{}, column.Config{Key: "name"}, column.Config{Key: "project", Relation: "projects:title"})

	q := b.Build(state.QueryState{SortColumn: "project", SortDirection: state.Desc}, nil)
	sql, _ := toSQL(t, q)

	assert.True(t, q.Sort.Join)
	assert.Contains(t, sql, `FROM "employees" LEFT JOIN "employee_project" AS sp1 ON sp1."employee_id" = "employees"."id" `+
		`LEFT JOIN "projects" AS s1 ON s1."id" = sp1."project_id"`)
	assert.Contains(t, sql, `GROUP BY "employees"."id" ORDER BY MAX(s1."title") DESC, "employees"."id" ASC`)

	count, _, err := q.CountSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "employees"`, count)
}

func TestSelectAndEagerMinimization(t *testing.T) {
	b := newBuilder(t, Options{Actions: []string{`{{ row.age }} {{ row.edit() }}`}},
		column.Config{Key: "name"},
		column.Config{Key: "email", Hide: true},
		column.Config{Key: "meta", JSON: "color"},
		column.Config{Raw: `<a href="/e/{{ row.id }}">{{ row.status }} {{ row.department.company.name }}</a>`},
		column.Config{Function: "fullName", Key: "name"},
	)

	q := b.Build(state.QueryState{}, nil)
	assert.Equal(t, []string{"id", "name", "meta", "age", "status", "department_id"}, q.Columns)
	assert.Equal(t, []string{"department", "department.company"}, q.Eager)

	shown := b.Build(state.QueryState{Visible: map[string]bool{"email": true}}, nil)
	assert.Contains(t, shown.Columns, "email")

	all := newBuilder(t, Options{}, column.Config{Function: "fullName"}).Build(state.QueryState{}, nil)
	assert.ElementsMatch(t, []string{"active", "age", "department_id", "email", "hired_at", "id", "meta", "name", "salary", "status", "updated_at"}, all.Columns)
}

func TestCustomConstraints(t *testing.T) {
	b := newBuilder(t, Options{}, column.Config{Key: "name"})

	cs, err := ParseConstraints([]any{
		[]any{"active", true},
		[]any{"salary", ">", 100},
		map[string]any{"status": "open"},
		[]any{"ghost", 1},
		[]any{"email", nil},
		[]any{"age", "in", []any{30, 40}},
	})
	require.NoError(t, err)

	sql, args := toSQL(t, b.Build(state.QueryState{Search: "Al"}, cs))
	assert.Contains(t, sql, `WHERE "employees"."active" = $1 AND "employees"."salary" > $2 AND "employees"."status" = $3 `+
		`AND "employees"."age" IN ($4,$5) AND "employees"."name" LIKE $6`)
	assert.Equal(t, []any{true, 100, "open", 30, 40, "Al%"}, args)

	bad, err := ParseConstraints([]any{[]any{"active", true}, []any{"salary", "~*", 1}})
	require.NoError(t, err)
	sql, args = toSQL(t, b.Build(state.QueryState{}, bad))
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, args)
}

func TestParseConstraintForms(t *testing.T) {
	single, err := ParseConstraints([]any{"status", "open"})
	require.NoError(t, err)
	assert.Equal(t, []Constraint{{Column: "status", Value: "open"}}, single)

	fromMap, err := ParseConstraints(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, []Constraint{{Column: "a", Value: 1}, {Column: "b", Value: 2}}, fromMap)

	_, err = ParseConstraints([]any{[]any{1, 2}})
	assert.Error(t, err)
	_, err = ParseConstraints("status=open")
	assert.Error(t, err)
}

func TestPaging(t *testing.T) {
	b := newBuilder(t, Options{}, column.Config{Key: "name"})
	q := b.Build(state.QueryState{Search: "A"}, nil)

	page, args, err := q.PageSQL(3, 10)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "employees"."id", "employees"."name" FROM "employees" WHERE "employees"."name" LIKE $1 `+
		`ORDER BY "employees"."id" ASC LIMIT 10 OFFSET 20`, page)
	assert.Equal(t, []any{"A%"}, args)

	count, args, err := q.CountSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "employees" WHERE "employees"."name" LIKE $1`, count)
	assert.Equal(t, []any{"A%"}, args)
}
