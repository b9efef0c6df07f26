package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/schema"
)

// PivotKeyColumn is the extra column a belongs_to_many eager query returns,
// holding the parent key each related row belongs to.
const PivotKeyColumn = "__pivot_key"

// DistinctSQL lists up to limit distinct non-null values of a column as
// text, ordered case-insensitively so the limit keeps the first values of
// the presented list. Relation columns read the related table joined from the base one,
// so only values actually related to some base row are listed.
func DistinctSQL(e *schema.Entity, d *column.Descriptor, limit int) (string, []any, error) {
	base := pq.QuoteIdentifier(e.Table)
	var expr string
	b := sq.Select()
	switch d.Kind {
	case column.KindDirect:
		expr = qualifiedIn(base, d.DBKey)
		b = b.From(base)
	case column.KindJSON:
		expr = jsonExpr(qualifiedIn(base, d.DBKey), strings.Split(d.JSONPath, "."))
		b = b.From(base)
	case column.KindRelation:
		links, alias, err := chainLinks(base, d.Relation.Hops, "r")
		if err != nil {
			return "", nil, err
		}
		expr = jsonExpr(aliasCol(alias, d.Relation.Column()), d.Relation.JSONPath())
		b = b.From(base)
		for _, l := range links {
			b = b.Join(l.from() + " ON " + l.On)
		}
	default:
		return "", nil, griderr.New(griderr.ErrInvalidColumn, d.Identifier,
			fmt.Sprintf("%s columns have no distinct values", d.Kind))
	}
	text := "CAST(" + expr + " AS TEXT)"
	b = b.Column(text + " AS value").
		Where(expr + " IS NOT NULL").
		GroupBy(text).
		OrderBy("LOWER("+text+")", "value")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return b.PlaceholderFormat(sq.Dollar).ToSql()
}

// EagerSQL loads the related rows of one relation for a batch of parent key
// values in a single IN query. ChildKey names the column of each returned
// row to match against the parent's rel.ParentKey().
func EagerSQL(rel *schema.Relation, related *schema.Entity, keys []any) (sql string, args []any, childKey string, err error) {
	table := pq.QuoteIdentifier(related.Table)
	cols := related.ColumnNames()
	selected := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		selected = append(selected, qualifiedIn(table, c))
	}
	b := sq.Select(selected...).From(table)

	switch rel.Kind {
	case schema.BelongsTo:
		childKey = rel.OwnerKey
		b = b.Where(sq.Eq{qualifiedIn(table, rel.OwnerKey): keys})
	case schema.HasOne, schema.HasMany:
		childKey = rel.ForeignKey
		b = b.Where(sq.Eq{qualifiedIn(table, rel.ForeignKey): keys})
	case schema.BelongsToMany:
		pivot := pq.QuoteIdentifier(rel.Pivot)
		childKey = PivotKeyColumn
		b = b.Column(qualifiedIn(pivot, rel.PivotForeignKey) + " AS " + PivotKeyColumn).
			Join(pivot + " ON " + qualifiedIn(pivot, rel.PivotRelatedKey) + " = " + qualifiedIn(table, rel.OwnerKey)).
			Where(sq.Eq{qualifiedIn(pivot, rel.PivotForeignKey): keys})
	default:
		return "", nil, "", griderr.New(griderr.ErrInvalidRelationString, rel.Name,
			fmt.Sprintf("unsupported relation kind %q", rel.Kind))
	}
	sql, args, err = b.OrderBy(qualifiedIn(table, related.PrimaryKey)).PlaceholderFormat(sq.Dollar).ToSql()
	return sql, args, childKey, err
}
