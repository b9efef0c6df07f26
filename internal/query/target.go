package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/schema"
)

// link is one joined table of a relation chain. On correlates it with the
// previous link, or with the outer table for the first one.
type link struct {
	Table string
	Alias string
	On    string
}

func (l link) from() string {
	return pq.QuoteIdentifier(l.Table) + " AS " + l.Alias
}

func aliasCol(alias, col string) string {
	return alias + "." + pq.QuoteIdentifier(col)
}

// chainLinks turns relation hops into joins starting from parent, which is
// an already-qualified table reference. The returned alias holds the
// terminal entity. Aliases are prefixed so nested uses cannot collide.
func chainLinks(parent string, hops []relation.Hop, prefix string) ([]link, string, error) {
	var links []link
	cur := parent
	for i, h := range hops {
		rel := h.Relation
		alias := fmt.Sprintf("%s%d", prefix, i+1)
		switch rel.Kind {
		case schema.BelongsTo:
			links = append(links, link{
				Table: h.To.Table, Alias: alias,
				On: aliasCol(alias, rel.OwnerKey) + " = " + qualifiedIn(cur, rel.ForeignKey),
			})
		case schema.HasOne, schema.HasMany:
			links = append(links, link{
				Table: h.To.Table, Alias: alias,
				On: aliasCol(alias, rel.ForeignKey) + " = " + qualifiedIn(cur, rel.LocalKey),
			})
		case schema.BelongsToMany:
			pivot := fmt.Sprintf("%sp%d", prefix, i+1)
			links = append(links,
				link{
					Table: rel.Pivot, Alias: pivot,
					On: aliasCol(pivot, rel.PivotForeignKey) + " = " + qualifiedIn(cur, rel.LocalKey),
				},
				link{
					Table: h.To.Table, Alias: alias,
					On: aliasCol(alias, rel.OwnerKey) + " = " + aliasCol(pivot, rel.PivotRelatedKey),
				})
		default:
			return nil, "", griderr.New(griderr.ErrInvalidRelationString, rel.Name,
				fmt.Sprintf("unsupported relation kind %q", rel.Kind))
		}
		cur = alias
	}
	return links, cur, nil
}

// qualifiedIn qualifies col with a table reference or alias.
func qualifiedIn(ref, col string) string {
	return ref + "." + pq.QuoteIdentifier(col)
}

// jsonExpr extracts a JSON path as text.
func jsonExpr(expr string, path []string) string {
	if len(path) == 0 {
		return expr
	}
	return "(" + expr + " #>> " + pq.QuoteLiteral("{"+strings.Join(path, ",")+"}") + ")"
}

// existsIn renders EXISTS (SELECT 1 FROM <chain> WHERE <correlation> AND pred).
func existsIn(links []link, pred sq.Sqlizer) (sq.Sqlizer, error) {
	b := sq.Select("1").From(links[0].from())
	for _, l := range links[1:] {
		b = b.Join(l.from() + " ON " + l.On)
	}
	b = b.Where(links[0].On).Where(pred)
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("EXISTS ("+sql+")", args...), nil
}

// targeter maps a column descriptor onto the SQL expression holding its
// value, wrapping relation columns in an existence subquery.
type targeter struct {
	entity *schema.Entity
}

func (t targeter) base() string {
	return pq.QuoteIdentifier(t.entity.Table)
}

// on builds pred over the column's value expression.
func (t targeter) on(d *column.Descriptor, pred func(expr string) sq.Sqlizer) (sq.Sqlizer, error) {
	switch d.Kind {
	case column.KindDirect:
		return pred(qualifiedIn(t.base(), d.DBKey)), nil
	case column.KindJSON:
		return pred(jsonExpr(qualifiedIn(t.base(), d.DBKey), strings.Split(d.JSONPath, "."))), nil
	case column.KindRelation:
		links, alias, err := chainLinks(t.base(), d.Relation.Hops, "r")
		if err != nil {
			return nil, err
		}
		expr := jsonExpr(aliasCol(alias, d.Relation.Column()), d.Relation.JSONPath())
		return existsIn(links, pred(expr))
	default:
		return nil, griderr.New(griderr.ErrInvalidColumn, d.Identifier,
			fmt.Sprintf("%s column has no queryable value", d.Kind))
	}
}
