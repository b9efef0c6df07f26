package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gnemet/gridengine"
	"github.com/gnemet/gridengine/cache"
	"github.com/gnemet/gridengine/database/cursorpool"
	"github.com/gnemet/gridengine/internal/config"
	"github.com/gnemet/gridengine/schema"
	"github.com/gnemet/gridengine/state"
)

// app is everything a command needs once the config files are loaded.
type app struct {
	cfg     *config.Config
	catalog *schema.Catalog
	tables  map[string]gridengine.TableConfig
	order   []string
	logger  *slog.Logger

	pool    *cursorpool.Pool
	closers []func() error
}

func loadApp(g *globals) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	catalog, err := schema.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a := &app{cfg: cfg, catalog: catalog, tables: map[string]gridengine.TableConfig{}, logger: g.logger}
	for _, p := range cfg.TablePaths() {
		tc, err := gridengine.LoadTableConfig(p)
		if err != nil {
			return nil, err
		}
		if tc.ID == "" {
			return nil, fmt.Errorf("%s: table config needs an id", p)
		}
		if _, dup := a.tables[tc.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate table id %q", p, tc.ID)
		}
		a.tables[tc.ID] = tc
		a.order = append(a.order, tc.ID)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func (a *app) connect(ctx context.Context) error {
	db, err := a.cfg.DefaultDatabase()
	if err != nil {
		return err
	}
	a.pool, err = cursorpool.Open(ctx, db.DSN(), cursorpool.Options{
		MaxCursors:      a.cfg.MaxCursors(),
		IdleTimeout:     a.cfg.IdleTimeout(),
		AbsTimeout:      a.cfg.AbsTimeout(),
		CleanupInterval: a.cfg.IdleTimeout(),
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", db.Name, err)
	}
	a.closers = append(a.closers, a.pool.Shutdown)
	a.logger.Info("connected", "database", db.Name, "host", db.Host)
	return nil
}

func (a *app) redis(r config.Redis) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
	a.closers = append(a.closers, client.Close)
	return client
}

// table builds a table instance. online connects to the database first.
func (a *app) table(ctx context.Context, id string, online bool) (*gridengine.Table, error) {
	tc, ok := a.tables[id]
	if !ok {
		return nil, fmt.Errorf("unknown table %q (configured: %v)", id, a.order)
	}
	opts := gridengine.Options{
		DistinctTTL:  a.cfg.CacheTTL(),
		SingleFlight: a.cfg.Cache.SingleFlight,
		ExportChunk:  a.cfg.ChunkSize(),
		Logger:       a.logger,
	}
	if tc.MaxDistinctValues == 0 {
		tc.MaxDistinctValues = a.cfg.Cache.MaxDistinctValues
	}

	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		opts.Cache = cache.NewRedis(a.redis(a.cfg.Cache.Redis), "")
	default:
		opts.Cache = cache.NewMemory()
	}
	if a.cfg.State.Backend == config.BackendRedis {
		opts.States = state.NewRedisStore(a.redis(a.cfg.State.Redis), a.cfg.StateTTL())
	}

	if online {
		if err := a.connect(ctx); err != nil {
			return nil, err
		}
		opts.DB = a.pool.DB()
		if a.cfg.Export.UseCursor {
			opts.Cursors = a.pool
		}
	}
	return gridengine.New(a.catalog, tc, opts)
}

// stateFlags are the grid request parameters shared by plan, list and
// export. Only flags given on the command line override the stored state.
type stateFlags struct {
	user              string
	search, sort      string
	filter, op, value string
	dateCol, from, to string
	page, perPage     int
	show, hide        []string
}

func (s *stateFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.user, "user", "", "load and save the state of this user")
	f.StringVar(&s.search, "search", "", "search text")
	f.StringVar(&s.sort, "sort", "", "sort as column[:asc|desc]")
	f.StringVar(&s.filter, "filter", "", "filter column")
	f.StringVar(&s.op, "op", "", "filter operator")
	f.StringVar(&s.value, "value", "", "filter value")
	f.StringVar(&s.dateCol, "date-column", "", "date range column")
	f.StringVar(&s.from, "from", "", "date range start")
	f.StringVar(&s.to, "to", "", "date range end")
	f.IntVar(&s.page, "page", 1, "page number")
	f.IntVar(&s.perPage, "per-page", 0, "rows per page")
	f.StringSliceVar(&s.show, "show", nil, "columns to show")
	f.StringSliceVar(&s.hide, "hide", nil, "columns to hide")
}

func (s *stateFlags) values(cmd *cobra.Command) url.Values {
	v := url.Values{}
	set := func(flag, key, val string) {
		if cmd.Flags().Changed(flag) {
			v.Set(key, val)
		}
	}
	set("search", "search", s.search)
	set("filter", "filter", s.filter)
	set("op", "filter_op", s.op)
	set("value", "filter_value", s.value)
	set("date-column", "date_column", s.dateCol)
	set("from", "date_from", s.from)
	set("to", "date_to", s.to)
	set("page", "page", strconv.Itoa(s.page))
	set("per-page", "per_page", strconv.Itoa(s.perPage))
	for _, c := range s.show {
		v.Add("show", c)
	}
	for _, c := range s.hide {
		v.Add("hide", c)
	}
	return v
}

// resolve overlays the flags on the user's stored state, or on the default
// state when no user is given, and stores the result for the user. A sort
// the table rejects keeps the previous order.
func (s *stateFlags) resolve(ctx context.Context, cmd *cobra.Command, t *gridengine.Table) state.QueryState {
	apply := func(st state.QueryState) state.QueryState {
		st = state.FromValues(s.values(cmd), st)
		if cmd.Flags().Changed("sort") {
			col, dir, _ := strings.Cut(s.sort, ":")
			st = t.SortOn(st, col, state.ParseDirection(dir))
		}
		return st
	}
	if s.user == "" {
		return apply(t.DefaultState())
	}
	return t.Update(ctx, s.user, apply)
}
