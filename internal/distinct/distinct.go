// Package distinct caches the candidate values of filterable columns.
package distinct

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/gnemet/gridengine/cache"
	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/query"
)

const (
	DefaultTTL       = 300 * time.Second
	DefaultMaxValues = 1000
)

// Querier runs the distinct-value query. *sql.DB and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a value list stays cached.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxValues caps each value list.
func WithMaxValues(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithSingleFlight collapses concurrent misses for the same column into one
// store query.
func WithSingleFlight() Option {
	return func(c *Cache) {
		c.group = &singleflight.Group{}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache is a read-through, TTL-bounded cache of distinct column values for
// one table instance. The backing cache may be nil, in which case every call
// computes.
type Cache struct {
	table    string
	registry *column.Registry
	db       Querier
	backend  cache.Cache
	ttl      time.Duration
	max      int
	group    *singleflight.Group
	logger   *slog.Logger
}

func New(table string, registry *column.Registry, db Querier, backend cache.Cache, opts ...Option) *Cache {
	c := &Cache{
		table:    table,
		registry: registry,
		db:       db,
		backend:  backend,
		ttl:      DefaultTTL,
		max:      DefaultMaxValues,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the cache key of a column's value list.
func (c *Cache) Key(id string) string {
	return fmt.Sprintf("gridengine:distinct:%s:%s", c.table, id)
}

// ValuesFor returns the column's distinct values, sorted case-insensitively.
// A failing cache backend degrades to computing the list directly.
func (c *Cache) ValuesFor(ctx context.Context, id string) ([]string, error) {
	key := c.Key(id)
	if c.backend != nil {
		raw, ok, err := c.backend.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("distinct cache unavailable, computing directly", "column", id,
				"error", griderr.Wrap(griderr.ErrCacheUnavailable, key, err))
			return c.compute(ctx, id)
		case ok:
			var values []string
			if err := json.Unmarshal(raw, &values); err == nil {
				return values, nil
			}
			c.logger.Warn("discarding undecodable distinct cache entry", "key", key)
		}
	}

	values, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.backend != nil {
		raw, _ := json.Marshal(values)
		if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn("distinct cache write failed", "column", id,
				"error", griderr.Wrap(griderr.ErrCacheUnavailable, key, err))
		}
	}
	return values, nil
}

func (c *Cache) load(ctx context.Context, id string) ([]string, error) {
	if c.group == nil {
		return c.compute(ctx, id)
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.compute(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops the cached lists of the given columns.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) error {
	if c.backend == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.Key(id)
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		return griderr.Wrap(griderr.ErrCacheUnavailable, strings.Join(keys, ","), err)
	}
	return nil
}

func (c *Cache) compute(ctx context.Context, id string) ([]string, error) {
	d, ok := c.registry.Lookup(id)
	if !ok {
		return nil, griderr.New(griderr.ErrInvalidColumn, id, "not a configured column")
	}
	q, args, err := query.DistinctSQL(c.registry.Entity(), d, c.max)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, id, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, griderr.Wrap(griderr.ErrStore, id, err)
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, id, err)
	}
	return Normalize(values, c.max), nil
}

// Normalize drops empty and duplicate values, sorts case-insensitively
// (ties broken by byte order so the result is deterministic) and caps the
// list at max entries.
func Normalize(values []string, max int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(out, func(i, j int) bool {
		if c := col.CompareString(out[i], out[j]); c != 0 {
			return c < 0
		}
		return out[i] < out[j]
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
