package relation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/testutil"
	"github.com/gnemet/gridengine/schema"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		rels    []string
		attrs   []string
		nesting int
	}{
		{"department:name", []string{"department"}, []string{"name"}, 0},
		{"department.company:name", []string{"department", "company"}, []string{"name"}, 1},
		{"profile:settings.theme", []string{"profile"}, []string{"settings", "theme"}, 1},
		{"a.b:c.d", []string{"a", "b"}, []string{"c", "d"}, 2},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			p, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.rels, p.Relations)
			assert.Equal(t, tc.attrs, p.Attribute)
			assert.Equal(t, tc.nesting, p.NestingLevel())
			assert.Equal(t, tc.nesting == 0, p.Sortable())
			assert.Equal(t, tc.in, p.String())
		})
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"department",
		"department:name:extra",
		":name",
		"department:",
		"depart ment:name",
		"department:na-me",
		"department..company:name",
		"department:name;--",
		"drop:name",
		"department:UNION",
		"dept\x00:name",
		"1dept:name",
	}

	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, griderr.ErrInvalidRelationString))
		})
	}
}

func TestPrefixes(t *testing.T) {
	assert.Equal(t, []string{"a", "a.b", "a.b.c"}, Prefixes("a.b.c"))
	assert.Equal(t, []string{"a"}, Prefixes("a"))
	assert.Nil(t, Prefixes(""))
}

func TestResolve(t *testing.T) {
	cat, emp := testutil.Employees(t)
	r := NewResolver(cat)

	res, err := r.Resolve(emp, "department.company:name")
	require.NoError(t, err)
	require.Len(t, res.Hops, 2)
	assert.Equal(t, "departments", res.Hops[0].To.Name)
	assert.Equal(t, "companies", res.Target.Name)
	assert.Equal(t, schema.TypeText, res.ColumnType())

	res, err = r.Resolve(emp, "profile:settings.theme")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeJSON, res.ColumnType())
	assert.Equal(t, []string{"theme"}, res.JSONPath())

	for _, in := range []string{"manager:name", "department:budget", "department:name.first"} {
		_, err := r.Resolve(emp, in)
		assert.True(t, errors.Is(err, griderr.ErrInvalidRelationString), in)
	}
}

func TestEagerLoadPaths(t *testing.T) {
	cat, emp := testutil.Employees(t)
	r := NewResolver(cat)

	paths := r.EagerLoadPaths(emp, "department.company", "department", "projects", "nope", "")
	assert.Equal(t, []string{"department", "department.company", "projects"}, paths)
}

func TestLongestChain(t *testing.T) {
	cat, emp := testutil.Employees(t)
	r := NewResolver(cat)

	assert.Equal(t, []string{"department", "company"}, r.LongestChain(emp, []string{"department", "company", "name"}))
	assert.Equal(t, []string{}, r.LongestChain(emp, []string{"meta", "color"}))
	assert.True(t, r.IsRelation(emp, "profile"))
	assert.False(t, r.IsRelation(emp, "name"))
}
