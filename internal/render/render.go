package render

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/jsonpath"
	"github.com/gnemet/gridengine/record"
)

// NA is written for markers that cannot be resolved.
const NA = "N/A"

var (
	marker     = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	callMarker = regexp.MustCompile(`^row\.([A-Za-z_][A-Za-z0-9_]*)\(\s*\)$`)
	attrMarker = regexp.MustCompile(`^row\.([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)$`)
)

// Renderer expands {{ row.accessor() }} and {{ row.attr.path }} markers.
type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render never fails: a template that cannot be rendered is returned as
// escaped literal text and the failure is logged.
func (r *Renderer) Render(tpl string, src record.Source) (out string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("template render panicked", "error", griderr.New(griderr.ErrTemplateRender, tpl, fmt.Sprint(p)))
			out = html.EscapeString(tpl)
		}
	}()
	s, err := r.expand(tpl, src)
	if err != nil {
		r.logger.Warn("template render failed", "error", griderr.Wrap(griderr.ErrTemplateRender, tpl, err))
		return html.EscapeString(tpl)
	}
	return Sanitize(s)
}

func (r *Renderer) expand(tpl string, src record.Source) (string, error) {
	var firstErr error
	s := marker.ReplaceAllStringFunc(tpl, func(m string) string {
		if firstErr != nil {
			return ""
		}
		expr := marker.FindStringSubmatch(m)[1]
		if c := callMarker.FindStringSubmatch(expr); c != nil {
			if !src.HasAccessor(c[1]) {
				return NA
			}
			v, err := src.Invoke(c[1])
			if err != nil {
				firstErr = err
				return ""
			}
			return templateValue(v)
		}
		if a := attrMarker.FindStringSubmatch(expr); a != nil {
			v, ok := Attribute(src.Attrs(), a[1])
			if !ok {
				return NA
			}
			return html.EscapeString(templateValue(v))
		}
		return NA
	})
	return s, firstErr
}

// Attribute resolves a dotted path through the row, its loaded relations and
// any embedded JSON.
func Attribute(row record.Row, path string) (any, bool) {
	v, rest, ok := row.Walk(path)
	if !ok {
		return nil, false
	}
	if len(rest) > 0 {
		v = jsonpath.ExtractValue(v, strings.Join(rest, "."))
		if jsonpath.IsMissing(v) {
			return nil, false
		}
	}
	return v, true
}

// templateValue differs from jsonpath.Format only for booleans, which
// templates print as true/false, and for collected relation values.
func templateValue(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, templateValue(e))
		}
		return strings.Join(parts, ", ")
	}
	return jsonpath.Format(v)
}

// Class resolves a column's class: the static string, or every rule whose
// condition holds, space-joined in rule order. Broken conditions are logged
// and treated as false.
func (r *Renderer) Class(spec column.ClassSpec, row record.Row) string {
	if spec.Static != "" {
		return spec.Static
	}
	var classes []string
	for _, rule := range spec.Rules {
		ok, err := EvaluateCondition(rule.When, row)
		if err != nil {
			r.logger.Debug("class condition invalid", "class", rule.Class, "when", rule.When, "error", err)
			continue
		}
		if ok {
			classes = append(classes, rule.Class)
		}
	}
	return strings.Join(classes, " ")
}
