package query

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/schema"
)

// Filterer builds the single-column filter and the date-range predicates.
type Filterer interface {
	Filter(d *column.Descriptor, op, value string) (sq.Sqlizer, error)
	DateRange(d *column.Descriptor, from, to string) (sq.Sqlizer, error)
}

// comparison operators a filter may request, normalized to SQL.
var filterOps = map[string]string{
	"=": "=", "==": "=", "eq": "=",
	"!=": "<>", "<>": "<>", "ne": "<>",
	">": ">", "gt": ">",
	">=": ">=", "gte": ">=",
	"<": "<", "lt": "<",
	"<=": "<=", "lte": "<=",
	"like": "LIKE", "ilike": "ILIKE",
	"not like": "NOT LIKE",
}

// DefaultOperator is = for typed and select-style columns and LIKE for
// free text.
func DefaultOperator(typ string) string {
	switch typ {
	case column.TypeSelect, column.TypeDistinct,
		string(schema.TypeNumber), string(schema.TypeInteger),
		string(schema.TypeDate), string(schema.TypeBoolean):
		return "="
	}
	return "LIKE"
}

// ResolveOperator normalizes op, falling back to the column type's default
// for empty or unknown operators.
func ResolveOperator(typ, op string) string {
	if sqlOp, ok := filterOps[strings.ToLower(strings.TrimSpace(op))]; ok {
		return sqlOp
	}
	return DefaultOperator(typ)
}

// PredicateFilterer binds sanitized values typed after the column.
type PredicateFilterer struct {
	entity *schema.Entity
}

func NewPredicateFilterer(entity *schema.Entity) *PredicateFilterer {
	return &PredicateFilterer{entity: entity}
}

func (f *PredicateFilterer) Filter(d *column.Descriptor, op, value string) (sq.Sqlizer, error) {
	value = SanitizeValue(value)
	if value == "" {
		return nil, nil
	}
	sqlOp := ResolveOperator(d.Type, op)
	build, err := filterPredicate(d, sqlOp, value)
	if err != nil {
		return nil, err
	}
	return targeter{entity: f.entity}.on(d, build)
}

func filterPredicate(d *column.Descriptor, op, value string) (func(string) sq.Sqlizer, error) {
	if strings.HasSuffix(op, "LIKE") {
		pattern := prefixPattern(value)
		return func(expr string) sq.Sqlizer {
			return sq.Expr(textExpr(d, expr)+" "+op+" ?", pattern)
		}, nil
	}
	switch schema.ColumnType(d.Type) {
	case schema.TypeNumber, schema.TypeInteger:
		n, ok := numericValue(value)
		if !ok {
			return nil, griderr.New(griderr.ErrInvalidColumn, d.Identifier, fmt.Sprintf("%q is not a number", value))
		}
		return func(expr string) sq.Sqlizer { return sq.Expr(numericExpr(d, expr)+" "+op+" ?", n) }, nil
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, griderr.New(griderr.ErrInvalidColumn, d.Identifier, fmt.Sprintf("%q is not a boolean", value))
		}
		if op != "=" && op != "<>" {
			op = "="
		}
		return func(expr string) sq.Sqlizer { return sq.Expr(boolExpr(d, expr)+" "+op+" ?", b) }, nil
	case schema.TypeDate:
		t, _, err := parseDate(value)
		if err != nil {
			return nil, griderr.Wrap(griderr.ErrInvalidColumn, d.Identifier, err)
		}
		return func(expr string) sq.Sqlizer {
			return sq.Expr("CAST("+expr+" AS DATE) "+op+" ?", t.Format("2006-01-02"))
		}, nil
	default:
		return func(expr string) sq.Sqlizer { return sq.Expr(expr+" "+op+" ?", value) }, nil
	}
}

// jsonValued reports whether the expression yields text extracted from JSON.
func jsonValued(d *column.Descriptor) bool {
	return d.Kind == column.KindJSON || (d.Kind == column.KindRelation && len(d.Relation.JSONPath()) > 0)
}

func textExpr(d *column.Descriptor, expr string) string {
	switch schema.ColumnType(d.Type) {
	case schema.TypeText, column.TypeSelect, column.TypeDistinct:
		return expr
	}
	if jsonValued(d) {
		return expr
	}
	return "CAST(" + expr + " AS TEXT)"
}

func numericExpr(d *column.Descriptor, expr string) string {
	if jsonValued(d) {
		return "CAST(" + expr + " AS NUMERIC)"
	}
	return expr
}

func boolExpr(d *column.Descriptor, expr string) string {
	if jsonValued(d) {
		return "CAST(" + expr + " AS BOOLEAN)"
	}
	return expr
}

// DateRange is inclusive on both ends. A date-only upper bound covers the
// whole day.
func (f *PredicateFilterer) DateRange(d *column.Descriptor, from, to string) (sq.Sqlizer, error) {
	lo, _, err := parseDate(from)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrInvalidColumn, d.Identifier, err)
	}
	hi, dateOnly, err := parseDate(to)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrInvalidColumn, d.Identifier, err)
	}
	if dateOnly {
		hi = endOfDay(hi)
	}
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	return targeter{entity: f.entity}.on(d, func(expr string) sq.Sqlizer {
		if jsonValued(d) {
			expr = "CAST(" + expr + " AS TIMESTAMP)"
		}
		return sq.Expr(expr+" BETWEEN ? AND ?", lo, hi)
	})
}
