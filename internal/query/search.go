package query

import (
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/schema"
)

// Searcher turns a search term into one predicate over the given columns.
// It returns nil when no column can take the term.
type Searcher interface {
	Search(term string, cols []*column.Descriptor) sq.Sqlizer
}

// PrefixSearcher matches the term as a prefix of text columns and by
// equality on numeric columns, ORed across columns.
type PrefixSearcher struct {
	entity          *schema.Entity
	caseInsensitive bool
	logger          *slog.Logger
}

func NewPrefixSearcher(entity *schema.Entity, caseInsensitive bool, logger *slog.Logger) *PrefixSearcher {
	return &PrefixSearcher{entity: entity, caseInsensitive: caseInsensitive, logger: logger}
}

func (s *PrefixSearcher) Search(term string, cols []*column.Descriptor) sq.Sqlizer {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	t := targeter{entity: s.entity}
	var group sq.Or
	for _, d := range cols {
		match, ok := s.match(d, term)
		if !ok {
			continue
		}
		pred, err := t.on(d, match)
		if err != nil {
			s.logger.Debug("column skipped in search", "column", d.Identifier, "error", err)
			continue
		}
		group = append(group, pred)
	}
	switch len(group) {
	case 0:
		return nil
	case 1:
		return group[0]
	}
	return group
}

func (s *PrefixSearcher) match(d *column.Descriptor, term string) (func(string) sq.Sqlizer, bool) {
	switch schema.ColumnType(d.Type) {
	case schema.TypeNumber, schema.TypeInteger:
		n, ok := numericValue(term)
		if !ok {
			return nil, false
		}
		return func(expr string) sq.Sqlizer { return sq.Expr(expr+" = ?", n) }, true
	case schema.TypeBoolean:
		return nil, false
	case schema.TypeDate, schema.TypeJSON:
		return s.like(func(expr string) string { return "CAST(" + expr + " AS TEXT)" }, term), true
	default:
		return s.like(func(expr string) string { return expr }, term), true
	}
}

func (s *PrefixSearcher) like(wrap func(string) string, term string) func(string) sq.Sqlizer {
	op := " LIKE ?"
	if s.caseInsensitive {
		op = " ILIKE ?"
	}
	pattern := prefixPattern(term)
	return func(expr string) sq.Sqlizer { return sq.Expr(wrap(expr)+op, pattern) }
}
