package column

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/internal/testutil"
)

func build(t *testing.T, configs ...Config) *Registry {
	t.Helper()
	cat, emp := testutil.Employees(t)
	return Build(emp, relation.NewResolver(cat), configs, testutil.NewTestLogger(t))
}

func boolPtr(b bool) *bool { return &b }

func TestIdentifierPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{"function wins", Config{Function: "fullName", Key: "name", JSON: "a"}, "fullName"},
		{"key and json", Config{Key: "meta", JSON: "a.b"}, "meta.a.b"},
		{"key", Config{Key: "name"}, "name"},
		{"positional", Config{Raw: "<b>x</b>"}, "col_3"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Identifier(3, tc.cfg))
			assert.Equal(t, Identifier(3, tc.cfg), Identifier(3, tc.cfg))
		})
	}
}

func TestBuildClassifies(t *testing.T) {
	r := build(t,
		Config{Key: "name"},
		Config{Key: "dept", Relation: "department:name"},
		Config{Key: "company", Relation: "department.company:name"},
		Config{Key: "meta", JSON: "color"},
		Config{Function: "fullName", Key: "name"},
		Config{Raw: `<a href="/e/{{ row.id }}">open</a>`},
		Config{Key: "bad", Relation: "department:budget"},
		Config{Key: "ghost"},
		Config{Label: "Nothing"},
		Config{Key: "salary", Hide: true, Sortable: boolPtr(false)},
		Config{Key: "email", Searchable: boolPtr(false)},
	)

	cols := r.Columns()
	require.Len(t, cols, 11)

	expect := []struct {
		id         string
		kind       Kind
		sortable   bool
		searchable bool
		visible    bool
	}{
		{"name", KindDirect, true, true, true},
		{"dept", KindRelation, true, true, true},
		{"company", KindRelation, false, true, true},
		{"meta.color", KindJSON, false, false, true},
		{"fullName", KindFunction, false, false, true},
		{"col_5", KindRaw, false, false, true},
		{"bad", KindNone, false, false, true},
		{"ghost", KindNone, false, false, true},
		{"col_8", KindNone, false, false, true},
		{"salary", KindDirect, false, true, false},
		{"email", KindDirect, true, false, true},
	}
	for i, e := range expect {
		d := cols[i]
		assert.Equal(t, e.id, d.Identifier, "column %d", i)
		assert.Equal(t, e.kind, d.Kind, e.id)
		assert.Equal(t, e.sortable, d.Sortable, e.id)
		assert.Equal(t, e.searchable, d.Searchable, e.id)
		assert.Equal(t, e.visible, d.Visible, e.id)
	}

	dept, ok := r.Lookup("dept")
	require.True(t, ok)
	assert.Equal(t, "department", dept.Relation.Root())
	assert.Equal(t, "text", dept.Type)

	salary, _ := r.Lookup("salary")
	assert.True(t, salary.Numeric())
	assert.Equal(t, "salary", salary.DBKey)

	meta, _ := r.Lookup("meta.color")
	assert.Equal(t, "meta", meta.DBKey)
	assert.Equal(t, "color", meta.JSONPath)
}

func TestBuildLabelsAndDuplicates(t *testing.T) {
	r := build(t,
		Config{Key: "hired_at"},
		Config{Function: "fullName"},
		Config{Key: "name", Label: "Employee"},
		Config{Key: "name"},
	)

	cols := r.Columns()
	assert.Equal(t, "Hired At", cols[0].Label)
	assert.Equal(t, "Full Name", cols[1].Label)
	assert.Equal(t, "Employee", cols[2].Label)
	assert.Equal(t, "name_3", cols[3].Identifier)
}

func TestVisibility(t *testing.T) {
	r := build(t,
		Config{Key: "name"},
		Config{Key: "email", Hide: true},
		Config{Key: "dept", Relation: "department:name"},
	)

	assert.Equal(t, map[string]bool{"name": true, "email": false, "dept": true}, r.DefaultVisibility())

	ids := func(ds []*Descriptor) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Identifier)
		}
		return out
	}
	assert.Equal(t, []string{"name", "dept"}, ids(r.Visible(nil)))
	assert.Equal(t, []string{"email", "dept"}, ids(r.Visible(map[string]bool{"email": true, "name": false})))
	assert.Equal(t, []string{"department"}, RelationChains(r.Visible(nil)))
}

func TestClassSpecDecoding(t *testing.T) {
	var fromYAML []Config
	require.NoError(t, yaml.Unmarshal([]byte(`
- key: status
  class:
    text-red: "row.status == 'overdue'"
    text-green: "row.status == 'paid'"
- key: name
  class: font-bold
`), &fromYAML))
	assert.Equal(t, []ClassRule{
		{Class: "text-red", When: "row.status == 'overdue'"},
		{Class: "text-green", When: "row.status == 'paid'"},
	}, fromYAML[0].Class.Rules)
	assert.Equal(t, "font-bold", fromYAML[1].Class.Static)

	var fromJSON []Config
	require.NoError(t, json.Unmarshal([]byte(`[{"key":"status","class":{"b":"row.x > 1","a":"row.x < 0"}},{"key":"n","class":"c"}]`), &fromJSON))
	assert.Equal(t, "a", fromJSON[0].Class.Rules[0].Class)
	assert.Equal(t, "c", fromJSON[1].Class.Static)
	assert.True(t, Config{}.Class.Empty())
}

func TestValidate(t *testing.T) {
	var good map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
id: employees
entity: employees
per_page: 25
default_sort: {column: name, direction: desc}
columns:
  - key: name
  - key: dept
    relation: department:name
  - key: meta
    json: address.city
  - function: fullName
  - raw: "<b>{{ row.name }}</b>"
    class: {bold: "row.active == true"}
actions:
  - '<a href="/employees/{{ row.id }}">Edit</a>'
constraints:
  - [active, true]
  - [salary, ">", 100]
  - {status: open}
`), &good))
	assert.NoError(t, Validate(good))

	var bad map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
entity: employees
per_page: 0
columns:
  - key: "name; drop table"
  - relation: "department"
    colour: red
`), &bad))
	err := Validate(bad)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Problems), 3)
}
