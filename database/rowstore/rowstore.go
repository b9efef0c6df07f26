// Package rowstore runs query plans against a database/sql connection and
// batch-loads the relations the plan asks for.
package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/query"
	"github.com/gnemet/gridengine/record"
	"github.com/gnemet/gridengine/schema"
)

// Querier is the part of *sql.DB, *sql.Conn and *sql.Tx the store uses.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Page is one page of materialized rows.
type Page struct {
	Rows     []record.Row `json:"rows"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PerPage  int          `json:"per_page"`
	LastPage int          `json:"last_page"`
}

// Store executes plans for one catalog.
type Store struct {
	db      Querier
	catalog *schema.Catalog
	logger  *slog.Logger
}

func New(db Querier, catalog *schema.Catalog, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, catalog: catalog, logger: logger}
}

// Fetch counts the matching rows and loads one page with its relations.
func (s *Store) Fetch(ctx context.Context, q *query.Query, page, perPage int) (Page, error) {
	total, err := s.Count(ctx, q)
	if err != nil {
		return Page{}, err
	}
	sqlText, args, err := q.PageSQL(page, perPage)
	if err != nil {
		return Page{}, err
	}
	rows, err := s.Query(ctx, sqlText, args...)
	if err != nil {
		return Page{}, err
	}
	if err := s.Load(ctx, q.Entity, rows, q.Eager); err != nil {
		return Page{}, err
	}
	last := 1
	if perPage > 0 && total > 0 {
		last = (total + perPage - 1) / perPage
	}
	return Page{Rows: rows, Total: total, Page: page, PerPage: perPage, LastPage: last}, nil
}

// Count returns the number of rows the plan matches.
func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	sqlText, args, err := q.CountSQL()
	if err != nil {
		return 0, err
	}
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return 0, griderr.Wrap(griderr.ErrStore, q.Entity.Name, err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, griderr.Wrap(griderr.ErrStore, q.Entity.Name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, griderr.Wrap(griderr.ErrStore, q.Entity.Name, err)
	}
	return n, nil
}

// Chunk walks every row of the plan in chunks of size, loading relations per
// chunk. It stops at the first error fn returns.
func (s *Store) Chunk(ctx context.Context, q *query.Query, size int, fn func([]record.Row) error) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}
	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		sqlText, args, err := q.LimitSQL(size, offset)
		if err != nil {
			return err
		}
		rows, err := s.Query(ctx, sqlText, args...)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := s.Load(ctx, q.Entity, rows, q.Eager); err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
		if len(rows) < size {
			return nil
		}
	}
}

// Query runs a statement and scans every row.
func (s *Store) Query(ctx context.Context, sqlText string, args ...any) ([]record.Row, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, "query", err)
	}
	defer rows.Close()
	out, err := ScanRows(rows)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, "scan", err)
	}
	return out, nil
}

// Load attaches the relations named by paths to rows. Paths must list every
// prefix before its extensions, as query.Query.Eager does; each path costs
// one query however many rows there are.
func (s *Store) Load(ctx context.Context, e *schema.Entity, rows []record.Row, paths []string) error {
	if len(rows) == 0 {
		return nil
	}
	for _, p := range paths {
		if err := s.loadPath(ctx, e, rows, strings.Split(p, ".")); err != nil {
			return fmt.Errorf("eager load %s.%s: %w", e.Name, p, err)
		}
	}
	return nil
}

func (s *Store) loadPath(ctx context.Context, from *schema.Entity, rows []record.Row, segs []string) error {
	rel, related, err := s.catalog.Related(from, segs[0])
	if err != nil {
		return griderr.Wrap(griderr.ErrInvalidRelationString, segs[0], err)
	}
	if len(segs) > 1 {
		return s.loadPath(ctx, related, children(rows, rel.Name), segs[1:])
	}
	if len(rows) > 0 {
		if _, loaded := rows[0][rel.Name]; loaded {
			return nil
		}
	}
	return s.loadRelation(ctx, rel, related, rows)
}

func (s *Store) loadRelation(ctx context.Context, rel *schema.Relation, related *schema.Entity, rows []record.Row) error {
	parentKey := rel.ParentKey()
	seen := make(map[string]struct{})
	var keys []any
	for _, r := range rows {
		v := r[parentKey]
		if v == nil {
			continue
		}
		k := keyOf(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}

	groups := make(map[string][]record.Row)
	if len(keys) > 0 {
		sqlText, args, childKey, err := query.EagerSQL(rel, related, keys)
		if err != nil {
			return err
		}
		children, err := s.Query(ctx, sqlText, args...)
		if err != nil {
			return err
		}
		s.logger.Debug("eager loaded relation", "relation", rel.Name, "parents", len(keys), "rows", len(children))
		for _, c := range children {
			k := keyOf(c[childKey])
			if childKey == query.PivotKeyColumn {
				delete(c, query.PivotKeyColumn)
			}
			groups[k] = append(groups[k], c)
		}
	}

	for _, r := range rows {
		matched := groups[keyOf(r[parentKey])]
		if r[parentKey] == nil {
			matched = nil
		}
		if rel.Many() {
			if matched == nil {
				matched = []record.Row{}
			}
			r[rel.Name] = matched
			continue
		}
		if len(matched) == 0 {
			r[rel.Name] = nil
			continue
		}
		r[rel.Name] = matched[0]
	}
	return nil
}

// children collects the loaded rows of a relation across parents.
func children(rows []record.Row, name string) []record.Row {
	var out []record.Row
	for _, r := range rows {
		switch v := r[name].(type) {
		case record.Row:
			out = append(out, v)
		case []record.Row:
			out = append(out, v...)
		}
	}
	return out
}

// keyOf normalizes key values so an int64 from one table matches the same
// number scanned from another.
func keyOf(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// ScanRows materializes every row, turning []byte values into strings.
func ScanRows(rows *sql.Rows) ([]record.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []record.Row
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(record.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
