// Package cursorpool keeps server-side PostgreSQL cursors open across
// requests for cursor paging, and streams plans through short-lived cursors
// for exports.
package cursorpool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/gnemet/gridengine/database/rowstore"
	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/record"
)

// Direction is a cursor paging move.
type Direction string

const (
	First    Direction = "FIRST"
	Next     Direction = "NEXT"
	Prior    Direction = "PRIOR"
	Last     Direction = "LAST"
	Backward Direction = "BACKWARD"
)

// Session is one declared cursor bound to its own connection and
// transaction.
type Session struct {
	ID         string
	CursorName string
	Query      string
	CreatedAt  time.Time
	LastUsed   time.Time

	conn *sql.Conn
	tx   *sql.Tx
	sync.Mutex
}

// Options tune a Pool. Zero timeouts disable the corresponding expiry.
type Options struct {
	MaxCursors      int
	IdleTimeout     time.Duration
	AbsTimeout      time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// Pool manages cursor sessions on top of a *sql.DB.
type Pool struct {
	db          *sql.DB
	sessions    map[string]*Session
	mu          sync.Mutex
	opts        Options
	now         func() time.Time
	cleanupStop chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

// New wraps db. A positive CleanupInterval starts the expiry sweeper.
func New(db *sql.DB, opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pool{
		db:          db,
		sessions:    make(map[string]*Session),
		opts:        opts,
		now:         time.Now,
		cleanupStop: make(chan struct{}),
		logger:      opts.Logger,
	}
	if opts.CleanupInterval > 0 {
		p.startCleanupRoutine(opts.CleanupInterval)
	}
	return p
}

// Open connects to PostgreSQL, sizes the connection pool after the cursor
// limit and checks the server is reachable.
func Open(ctx context.Context, dsn string, opts Options) (*Pool, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxCursors > 0 {
		db.SetMaxOpenConns(opts.MaxCursors + 2)
		db.SetMaxIdleConns(opts.MaxCursors/2 + 1)
	}
	if opts.AbsTimeout > 0 {
		db.SetConnMaxLifetime(opts.AbsTimeout)
	}
	if opts.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(opts.IdleTimeout)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, griderr.Wrap(griderr.ErrStore, "ping", err)
	}
	return New(db, opts), nil
}

// DB exposes the underlying handle for non-cursor queries.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Shutdown closes every session, stops the sweeper and closes the database.
func (p *Pool) Shutdown() error {
	p.stopOnce.Do(func() { close(p.cleanupStop) })
	p.mu.Lock()
	for id, s := range p.sessions {
		s.Lock()
		p.removeSession(id, s)
		s.Unlock()
	}
	p.mu.Unlock()
	return p.db.Close()
}

func (p *Pool) startCleanupRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		for {
			select {
			case <-ticker.C:
				p.cleanupTimeouts()
			case <-p.cleanupStop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (p *Pool) expired(s *Session, now time.Time) bool {
	if p.opts.AbsTimeout > 0 && now.Sub(s.CreatedAt) > p.opts.AbsTimeout {
		return true
	}
	return p.opts.IdleTimeout > 0 && now.Sub(s.LastUsed) > p.opts.IdleTimeout
}

func (p *Pool) cleanupTimeouts() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, s := range p.sessions {
		s.Lock()
		if p.expired(s, now) {
			p.logger.Info("cleaning up expired cursor", "cursor", s.CursorName, "session", id)
			p.removeSession(id, s)
		}
		s.Unlock()
	}
}

func (p *Pool) removeSession(id string, s *Session) {
	if s.tx != nil {
		s.tx.Rollback()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	delete(p.sessions, id)
}

// Len is the number of open sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func cursorName() string {
	return "cur_" + uuid.New().String()[:8]
}

// Declare opens a scrollable cursor for query under session id, or returns
// the session's existing cursor.
func (p *Pool) Declare(ctx context.Context, id, query string, args ...any) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[id]; ok {
		s.Lock()
		s.LastUsed = p.now()
		s.Unlock()
		return s, nil
	}
	if p.opts.MaxCursors > 0 && len(p.sessions) >= p.opts.MaxCursors {
		return nil, fmt.Errorf("cursor pool capacity reached (max %d)", p.opts.MaxCursors)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, "connection", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, griderr.Wrap(griderr.ErrStore, "begin", err)
	}

	name := cursorName()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DECLARE %s SCROLL CURSOR FOR %s", name, query), args...); err != nil {
		tx.Rollback()
		conn.Close()
		return nil, griderr.Wrap(griderr.ErrStore, "declare cursor", err)
	}

	now := p.now()
	s := &Session{ID: id, CursorName: name, Query: query, CreatedAt: now, LastUsed: now, conn: conn, tx: tx}
	p.sessions[id] = s
	return s, nil
}

// BuildFetchQuery renders the statements that move the cursor and fetch one
// page in the given direction.
func BuildFetchQuery(cursor string, pageSize int, dir Direction) string {
	q := "\"" + cursor + "\""
	switch dir {
	case Prior:
		return fmt.Sprintf("MOVE RELATIVE -%d FROM %s;\nFETCH FORWARD %d FROM %s;", 2*pageSize, q, pageSize, q)
	case Last:
		return fmt.Sprintf("MOVE LAST FROM %s;\nMOVE RELATIVE -%d FROM %s;\nFETCH FORWARD %d FROM %s;\nMOVE LAST FROM %s;", q, pageSize, q, pageSize, q, q)
	case Backward:
		return fmt.Sprintf("MOVE RELATIVE -%d FROM %s;", pageSize, q)
	case First:
		return fmt.Sprintf("MOVE ABSOLUTE 0 FROM %s;\nFETCH FORWARD %d FROM %s;", q, pageSize, q)
	default:
		return fmt.Sprintf("FETCH FORWARD %d FROM %s;", pageSize, q)
	}
}

// Fetch reads one page from the session's cursor.
func (p *Pool) Fetch(ctx context.Context, id string, dir Direction, count int) ([]record.Row, error) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active cursor for session %s", id)
	}

	s.Lock()
	defer s.Unlock()
	s.LastUsed = p.now()

	rows, err := s.tx.QueryContext(ctx, BuildFetchQuery(s.CursorName, count, dir))
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, "fetch", err)
	}
	defer rows.Close()
	out, err := rowstore.ScanRows(rows)
	if err != nil {
		return nil, griderr.Wrap(griderr.ErrStore, "fetch", err)
	}
	return out, nil
}

// Close closes the session's cursor and releases its connection.
func (p *Pool) Close(ctx context.Context, id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	s.Lock()
	defer s.Unlock()
	defer s.conn.Close()
	if _, err := s.tx.ExecContext(ctx, fmt.Sprintf("CLOSE %q", s.CursorName)); err != nil {
		s.tx.Rollback()
		return griderr.Wrap(griderr.ErrStore, "close cursor", err)
	}
	return s.tx.Commit()
}

// Lazy streams every row of query through a forward-only cursor in batches
// of size. The cursor lives only for the duration of the call.
func (p *Pool) Lazy(ctx context.Context, query string, args []any, size int, fn func([]record.Row) error) (err error) {
	if size <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", size)
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return griderr.Wrap(griderr.ErrStore, "begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	name := cursorName()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query), args...); err != nil {
		return griderr.Wrap(griderr.ErrStore, "declare cursor", err)
	}
	fetch := BuildFetchQuery(name, size, Next)
	for {
		rows, err := tx.QueryContext(ctx, fetch)
		if err != nil {
			return griderr.Wrap(griderr.ErrStore, "fetch", err)
		}
		batch, err := rowstore.ScanRows(rows)
		rows.Close()
		if err != nil {
			return griderr.Wrap(griderr.ErrStore, "fetch", err)
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if len(batch) < size {
			break
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CLOSE %q", name)); err != nil {
		return griderr.Wrap(griderr.ErrStore, "close cursor", err)
	}
	return tx.Commit()
}
