package gridengine

import (
	"html"
	"strings"

	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/jsonpath"
	"github.com/gnemet/gridengine/internal/render"
	"github.com/gnemet/gridengine/record"
	"github.com/gnemet/gridengine/state"
)

// Cell is one rendered value. Text is plain; HTML is safe to embed.
type Cell struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
	Text   string `json:"text"`
	HTML   string `json:"html"`
	Class  string `json:"class,omitempty"`
}

// RenderRow renders the columns visible under st for one row.
func (t *Table) RenderRow(row record.Row, st state.QueryState) []Cell {
	rec := record.Record{Row: row, Accessors: t.accessors}
	visible := t.registry.Visible(st.Visible)
	cells := make([]Cell, 0, len(visible))
	for _, d := range visible {
		cells = append(cells, t.cell(d, rec))
	}
	return cells
}

// RenderActions renders the action templates for one row.
func (t *Table) RenderActions(row record.Row) []string {
	rec := record.Record{Row: row, Accessors: t.accessors}
	out := make([]string, len(t.cfg.Actions))
	for i, tpl := range t.cfg.Actions {
		out[i] = t.renderer.Render(tpl, rec)
	}
	return out
}

func (t *Table) cell(d *column.Descriptor, rec record.Record) Cell {
	c := Cell{Column: d.Identifier, Class: t.renderer.Class(d.Class, rec.Row)}

	if d.Kind == column.KindRaw {
		c.HTML = t.renderer.Render(d.RawTemplate, rec)
		c.Text = render.StripTags(c.HTML)
		c.Value = c.Text
		return c
	}

	v, ok := t.value(d, rec)
	if !ok {
		c.Text, c.HTML = render.NA, render.NA
		return c
	}
	if !jsonpath.IsMissing(v) {
		c.Value = v
	}
	c.Text = display(v)
	c.HTML = html.EscapeString(c.Text)
	return c
}

func (t *Table) value(d *column.Descriptor, rec record.Record) (any, bool) {
	switch d.Kind {
	case column.KindDirect:
		v, ok := rec.Row[d.DBKey]
		return v, ok
	case column.KindJSON:
		return jsonpath.Extract(rec.Row, d.DBKey, d.JSONPath), true
	case column.KindRelation:
		return render.Attribute(rec.Row, d.Relation.Chain()+"."+d.Relation.AttributePath())
	case column.KindFunction:
		if !rec.HasAccessor(d.Function) {
			return nil, false
		}
		v, err := rec.Invoke(d.Function)
		if err != nil {
			t.logger.Warn("accessor failed", "column", d.Identifier, "error", err)
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

// display formats a cell value; collected has-many values are joined.
func display(v any) string {
	if vs, ok := v.([]any); ok {
		parts := make([]string, 0, len(vs))
		for _, x := range vs {
			if s := jsonpath.Format(x); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return jsonpath.Format(v)
}
