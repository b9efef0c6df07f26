package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = "testdata/gridengine.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfiguredTables(t *testing.T) {
	out, err := run(t, "validate", "-c", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "ok   employees.yaml\n", out)
}

func TestValidateReportsBrokenFiles(t *testing.T) {
	out, err := run(t, "validate",
		filepath.Join("testdata", "tables", "employees.yaml"),
		filepath.Join("testdata", "tables", "broken.yaml"),
		filepath.Join("testdata", "tables", "missing.yaml"),
	)
	require.Error(t, err)
	assert.Equal(t, "2 of 3 table configs invalid", err.Error())
	assert.Contains(t, out, "ok   employees.yaml")
	assert.Contains(t, out, "FAIL broken.yaml")
	assert.Contains(t, out, "FAIL missing.yaml")
}

type planOutput struct {
	Page struct {
		SQL  string `json:"sql"`
		Args []any  `json:"args"`
	} `json:"page"`
	Count struct {
		SQL  string `json:"sql"`
		Args []any  `json:"args"`
	} `json:"count"`
	Sort       string `json:"sort"`
	SortReason string `json:"sortReason"`
}

func plan(t *testing.T, args ...string) planOutput {
	t.Helper()
	out, err := run(t, append([]string{"plan", "-c", testConfig, "staff"}, args...)...)
	require.NoError(t, err)

	var p planOutput
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	return p
}

func TestPlanDefaultRequest(t *testing.T) {
	p := plan(t)

	assert.Equal(t, "direct", p.Sort)
	assert.Contains(t, p.Page.SQL, `FROM "employees" WHERE "employees"."active" = $1`)
	assert.Contains(t, p.Page.SQL, `ORDER BY "employees"."name" ASC, "employees"."id" ASC LIMIT 25`)
	assert.Equal(t, []any{true}, p.Page.Args)
	assert.Equal(t, `SELECT COUNT(*) FROM "employees" WHERE "employees"."active" = $1`, p.Count.SQL)
}

func TestPlanSearch(t *testing.T) {
	p := plan(t, "--search", "  Ali ")

	assert.Contains(t, p.Page.SQL, `"employees"."active" = $1 AND (`)
	assert.Contains(t, p.Page.SQL, `"employees"."name" LIKE $2`)
	require.GreaterOrEqual(t, len(p.Page.Args), 2)
	assert.Equal(t, true, p.Page.Args[0])
	assert.Equal(t, "Ali%", p.Page.Args[1])
	assert.Equal(t, p.Page.Args, p.Count.Args)
}

func TestPlanSortKeepsPriorOrderWhenRejected(t *testing.T) {
	p := plan(t, "--sort", "company:desc")
	assert.Equal(t, "direct", p.Sort)
	assert.Contains(t, p.Page.SQL, `ORDER BY "employees"."name" ASC, "employees"."id" ASC`)

	p = plan(t, "--sort", "email:desc")
	assert.Contains(t, p.Page.SQL, `ORDER BY "employees"."email" DESC, "employees"."id" ASC`)
}

func TestPlanPaging(t *testing.T) {
	p := plan(t, "--page", "3", "--per-page", "10")
	assert.Contains(t, p.Page.SQL, "LIMIT 10 OFFSET 20")
}

func TestUnknownTable(t *testing.T) {
	_, err := run(t, "plan", "-c", testConfig, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "nope"`)
}

func TestBadLogLevel(t *testing.T) {
	_, err := run(t, "validate", "-c", testConfig, "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "plan", "-c", filepath.Join(t.TempDir(), "none.yaml"), "staff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
