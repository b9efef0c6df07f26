package gridengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gnemet/gridengine/cache"
	"github.com/gnemet/gridengine/database/cursorpool"
	"github.com/gnemet/gridengine/database/rowstore"
	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/distinct"
	"github.com/gnemet/gridengine/internal/query"
	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/internal/render"
	"github.com/gnemet/gridengine/record"
	"github.com/gnemet/gridengine/schema"
	"github.com/gnemet/gridengine/state"
)

// Querier runs read queries. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options wire a Table to its collaborators. Only DB is required for
// fetching; the rest degrade to in-memory or disabled behavior when nil.
type Options struct {
	DB Querier
	// Cache backs the distinct-value lists. Nil computes on every call.
	Cache cache.Cache
	// States persists QueryState per user. Nil keeps state in memory.
	States state.Store
	// Cursors streams exports through a server-side cursor. Nil pages
	// through the plan with LIMIT/OFFSET.
	Cursors *cursorpool.Pool
	// Accessors back function columns and {{ row.name() }} markers.
	Accessors record.Accessors

	DistinctTTL  time.Duration
	SingleFlight bool
	ExportChunk  int
	Logger       *slog.Logger
}

const DefaultExportChunk = 500

// Table is one configured grid over one entity.
type Table struct {
	id          string
	cfg         TableConfig
	entity      *schema.Entity
	registry    *column.Registry
	builder     *query.Builder
	renderer    *render.Renderer
	distinct    *distinct.Cache
	rows        *rowstore.Store
	cursors     *cursorpool.Pool
	states      state.Store
	accessors   record.Accessors
	constraints []query.Constraint
	chunk       int
	logger      *slog.Logger
}

// New builds a table instance. It fails only when the entity is unknown;
// unusable columns and constraints are logged and left out.
func New(catalog *schema.Catalog, cfg TableConfig, opts Options) (*Table, error) {
	entity, ok := catalog.Entity(cfg.Entity)
	if !ok {
		return nil, fmt.Errorf("table %q: unknown entity %q", cfg.ID, cfg.Entity)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With("table", id)

	resolver := relation.NewResolver(catalog)
	registry := column.Build(entity, resolver, cfg.Columns, logger)

	constraints, err := query.ParseConstraints(cfg.Constraints)
	if err != nil {
		logger.Warn("table constraints dropped", "error", err)
		constraints = nil
	}

	bopts := query.Options{
		CaseInsensitive: cfg.SearchCaseInsensitive,
		Actions:         cfg.Actions,
		Logger:          logger,
	}
	if cfg.DefaultSort != nil {
		bopts.DefaultSort = cfg.DefaultSort.Column
		bopts.DefaultDirection = state.ParseDirection(cfg.DefaultSort.Direction)
	}

	states := opts.States
	if states == nil {
		states = state.NewMemoryStore()
	}
	chunk := opts.ExportChunk
	if chunk <= 0 {
		chunk = DefaultExportChunk
	}

	t := &Table{
		id:          id,
		cfg:         cfg,
		entity:      entity,
		registry:    registry,
		builder:     query.NewBuilder(registry, resolver, bopts),
		renderer:    render.NewRenderer(logger),
		cursors:     opts.Cursors,
		states:      states,
		accessors:   opts.Accessors,
		constraints: constraints,
		chunk:       chunk,
		logger:      logger,
	}
	if opts.DB != nil {
		t.rows = rowstore.New(opts.DB, catalog, logger)
		dopts := []distinct.Option{
			distinct.WithTTL(opts.DistinctTTL),
			distinct.WithMaxValues(cfg.MaxDistinctValues),
			distinct.WithLogger(logger),
		}
		if opts.SingleFlight {
			dopts = append(dopts, distinct.WithSingleFlight())
		}
		t.distinct = distinct.New(id, registry, opts.DB, opts.Cache, dopts...)
	}
	return t, nil
}

func (t *Table) ID() string { return t.id }

func (t *Table) Entity() *schema.Entity { return t.entity }

// Column is the public view of one configured column.
type Column struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	Type       string `json:"type"`
	Sortable   bool   `json:"sortable"`
	Searchable bool   `json:"searchable"`
	Visible    bool   `json:"visible"`
}

// Columns lists every configured column with its visibility under st.
func (t *Table) Columns(st state.QueryState) []Column {
	out := make([]Column, 0, len(t.registry.Columns()))
	for _, d := range t.registry.Columns() {
		out = append(out, Column{
			ID:         d.Identifier,
			Label:      d.Label,
			Kind:       string(d.Kind),
			Type:       d.Type,
			Sortable:   d.Sortable,
			Searchable: d.Searchable,
			Visible:    t.registry.IsVisible(d, st.Visible),
		})
	}
	return out
}

// DefaultState is the state of a user who has not interacted yet.
func (t *Table) DefaultState() state.QueryState {
	st := state.QueryState{
		Page:    1,
		PerPage: t.cfg.PerPage,
		Visible: t.registry.DefaultVisibility(),
	}
	if t.cfg.DefaultSort != nil {
		st.SortColumn = t.cfg.DefaultSort.Column
		st.SortDirection = state.ParseDirection(t.cfg.DefaultSort.Direction)
	}
	return st.Normalize(t.cfg.PerPage)
}

func (t *Table) stateKey(user string) state.Key {
	return state.Key{Table: t.id, User: user}
}

// LoadState returns the user's stored state, or the default state when none
// is stored or the store is unavailable.
func (t *Table) LoadState(ctx context.Context, user string) state.QueryState {
	st, ok, err := t.states.Get(ctx, t.stateKey(user))
	if err != nil {
		t.logger.Warn("state store unavailable, using defaults", "user", user, "error", err)
		return t.DefaultState()
	}
	if !ok {
		return t.DefaultState()
	}
	return st.Normalize(t.cfg.PerPage)
}

// SaveState persists st. A failing store is logged; the request goes on.
func (t *Table) SaveState(ctx context.Context, user string, st state.QueryState) {
	if err := t.states.Put(ctx, t.stateKey(user), st); err != nil {
		t.logger.Warn("state not saved", "user", user, "error", err)
	}
}

// ForgetState drops the user's stored state.
func (t *Table) ForgetState(ctx context.Context, user string) {
	if err := t.states.Forget(ctx, t.stateKey(user)); err != nil {
		t.logger.Warn("state not forgotten", "user", user, "error", err)
	}
}

// Plan compiles st into an executable query.
func (t *Table) Plan(st state.QueryState) *query.Query {
	return t.builder.Build(st.Normalize(t.cfg.PerPage), t.constraints)
}

// Result is one rendered page.
type Result struct {
	rowstore.Page
	Columns []Column       `json:"columns"`
	Cells   [][]Cell       `json:"cells"`
	Actions [][]string     `json:"actions,omitempty"`
	Sort    query.SortPlan `json:"-"`
}

var errNoDB = errors.New("table has no database")

// Fetch runs the plan for st's page and renders every visible cell. Only
// data-store failures are returned.
func (t *Table) Fetch(ctx context.Context, st state.QueryState) (*Result, error) {
	if t.rows == nil {
		return nil, griderr.Wrap(griderr.ErrStore, t.id, errNoDB)
	}
	st = st.Normalize(t.cfg.PerPage)
	q := t.builder.Build(st, t.constraints)
	page, err := t.rows.Fetch(ctx, q, st.Page, st.PerPage)
	if err != nil {
		t.logger.Error("fetch failed", "error", err)
		return nil, err
	}

	res := &Result{Page: page, Columns: t.Columns(st), Sort: q.Sort}
	res.Cells = make([][]Cell, len(page.Rows))
	for i, row := range page.Rows {
		res.Cells[i] = t.RenderRow(row, st)
	}
	if len(t.cfg.Actions) > 0 {
		res.Actions = make([][]string, len(page.Rows))
		for i, row := range page.Rows {
			res.Actions[i] = t.RenderActions(row)
		}
	}
	return res, nil
}

// DistinctValues returns the candidate values of a filterable column. An
// unknown or unqueryable column yields no values.
func (t *Table) DistinctValues(ctx context.Context, id string) ([]string, error) {
	if t.distinct == nil {
		return nil, griderr.Wrap(griderr.ErrStore, t.id, errNoDB)
	}
	values, err := t.distinct.ValuesFor(ctx, id)
	switch {
	case err == nil:
		return values, nil
	case griderr.Fatal(err):
		t.logger.Error("distinct values failed", "column", id, "error", err)
		return nil, err
	default:
		t.logger.Debug("no distinct values", "column", id, "error", err)
		return []string{}, nil
	}
}
