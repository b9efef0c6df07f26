// Package testutil provides fixtures shared by package tests: a logger that
// writes to t.Log and a small personnel catalog.
package testutil

import (
	"log/slog"
	"testing"

	"github.com/gnemet/gridengine/schema"
)

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// CatalogYAML declares employees with a department (belongs_to, which itself
// belongs to a company), a profile (has_one), timesheets (has_many) and
// projects (belongs_to_many).
const CatalogYAML = `
entities:
  employees:
    table: employees
    primary_key: id
    columns:
      id: integer
      name: text
      email: text
      salary: number
      age: integer
      status: text
      active: boolean
      hired_at: date
      updated_at: date
      department_id: integer
      meta: json
    relations:
      department:
        kind: belongs_to
        entity: departments
        foreign_key: department_id
      profile:
        kind: has_one
        entity: profiles
        foreign_key: employee_id
      timesheets:
        kind: has_many
        entity: timesheets
        foreign_key: employee_id
      projects:
        kind: belongs_to_many
        entity: projects
        pivot: employee_project
        pivot_foreign_key: employee_id
        pivot_related_key: project_id
  departments:
    columns:
      id: integer
      name: text
      company_id: integer
    relations:
      company:
        kind: belongs_to
        entity: companies
  companies:
    columns:
      id: integer
      name: text
  profiles:
    columns:
      id: integer
      employee_id: integer
      bio: text
      settings: json
  timesheets:
    columns:
      id: integer
      employee_id: integer
      hours: number
  projects:
    columns:
      id: integer
      title: text
`

// Catalog parses CatalogYAML.
func Catalog(t testing.TB) *schema.Catalog {
	t.Helper()
	c, err := schema.ParseCatalog([]byte(CatalogYAML))
	if err != nil {
		t.Fatalf("parse test catalog: %v", err)
	}
	return c
}

// Employees returns the catalog and its employees entity.
func Employees(t testing.TB) (*schema.Catalog, *schema.Entity) {
	t.Helper()
	c := Catalog(t)
	e, _ := c.Entity("employees")
	return c, e
}
