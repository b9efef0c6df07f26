package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/schema"
)

// Constraint is a caller-supplied predicate on a base column.
type Constraint struct {
	Column   string `json:"column"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value"`
}

var constraintOps = map[string]string{
	"=": "=", "==": "=",
	"!=": "<>", "<>": "<>",
	">": ">", ">=": ">=", "<": "<", "<=": "<=",
	"like": "LIKE", "ilike": "ILIKE", "not like": "NOT LIKE",
	"in": "IN", "not in": "NOT IN",
}

// ParseConstraints accepts the three written forms: [column, value],
// [column, operator, value] and {column: value}. A list may mix them; a
// single map or a single tuple is also accepted.
func ParseConstraints(raw any) ([]Constraint, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Constraint:
		return v, nil
	case map[string]any:
		return mapConstraints(v), nil
	case []any:
		if isTuple(v) {
			c, err := tupleConstraint(v)
			if err != nil {
				return nil, err
			}
			return []Constraint{c}, nil
		}
		var out []Constraint
		for i, item := range v {
			switch it := item.(type) {
			case []any:
				c, err := tupleConstraint(it)
				if err != nil {
					return nil, griderr.Wrap(griderr.ErrQueryConstraint, fmt.Sprintf("constraint %d", i), err)
				}
				out = append(out, c)
			case map[string]any:
				out = append(out, mapConstraints(it)...)
			default:
				return nil, griderr.New(griderr.ErrQueryConstraint, fmt.Sprintf("constraint %d", i),
					fmt.Sprintf("unexpected %T", item))
			}
		}
		return out, nil
	default:
		return nil, griderr.New(griderr.ErrQueryConstraint, "constraints", fmt.Sprintf("unexpected %T", raw))
	}
}

// isTuple tells a bare [column, ...] tuple from a list of constraints.
func isTuple(v []any) bool {
	if len(v) < 2 || len(v) > 3 {
		return false
	}
	_, ok := v[0].(string)
	return ok
}

func tupleConstraint(t []any) (Constraint, error) {
	col, ok := t[0].(string)
	if !ok {
		return Constraint{}, fmt.Errorf("column must be a string, got %T", t[0])
	}
	switch len(t) {
	case 2:
		return Constraint{Column: col, Value: t[1]}, nil
	case 3:
		op, ok := t[1].(string)
		if !ok {
			return Constraint{}, fmt.Errorf("operator must be a string, got %T", t[1])
		}
		return Constraint{Column: col, Operator: op, Value: t[2]}, nil
	default:
		return Constraint{}, fmt.Errorf("expected 2 or 3 elements, got %d", len(t))
	}
}

func mapConstraints(m map[string]any) []Constraint {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	out := make([]Constraint, 0, len(m))
	for _, c := range cols {
		out = append(out, Constraint{Column: c, Value: m[c]})
	}
	return out
}

// constraintPredicates validates every constraint. Unknown columns and empty
// values are skipped and reported through skip; anything malformed fails the
// whole set.
func constraintPredicates(e *schema.Entity, cs []Constraint, skip func(Constraint, string)) ([]sq.Sqlizer, error) {
	var preds []sq.Sqlizer
	for _, c := range cs {
		if !e.HasColumn(c.Column) {
			skip(c, "unknown column")
			continue
		}
		if emptyValue(c.Value) {
			skip(c, "empty value")
			continue
		}
		op := "="
		if c.Operator != "" {
			var ok bool
			op, ok = constraintOps[strings.ToLower(strings.TrimSpace(c.Operator))]
			if !ok {
				return nil, griderr.New(griderr.ErrQueryConstraint, c.Column, fmt.Sprintf("unsupported operator %q", c.Operator))
			}
		}
		expr := qualifiedIn(pq.QuoteIdentifier(e.Table), c.Column)
		list := isList(c.Value)
		switch op {
		case "IN", "NOT IN":
			if !list {
				return nil, griderr.New(griderr.ErrQueryConstraint, c.Column, op+" needs a list value")
			}
			if op == "IN" {
				preds = append(preds, sq.Eq{expr: c.Value})
			} else {
				preds = append(preds, sq.NotEq{expr: c.Value})
			}
		default:
			if list {
				if op != "=" {
					return nil, griderr.New(griderr.ErrQueryConstraint, c.Column, "list value needs = or in")
				}
				preds = append(preds, sq.Eq{expr: c.Value})
				continue
			}
			preds = append(preds, sq.Expr(expr+" "+op+" ?", c.Value))
		}
	}
	return preds, nil
}

func emptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return rv.Len() == 0
	}
	return false
}

func isList(v any) bool {
	if _, ok := v.([]byte); ok {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Slice
}
