// Package db owns the SQLite connection pool and the schema migration
// runner. Everything above it (stores, vector index, facade) borrows
// connections through the pool and never holds one past a single operation.
package db

import (
	"container/list"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sundial-labs/memoria/internal/logging"
)

// Config controls pool behavior. URL accepts a plain path or a file: URL.
type Config struct {
	URL             string
	MaxConnections  int           // default 10
	IdleTimeout     time.Duration // default 30s; reaper period is half this
	CheckoutTimeout time.Duration // default 10s
}

// idleFloor is how many idle connections the reaper always leaves alone, so
// the pool shrinks after bursts without thrashing.
const idleFloor = 2

// Session pragmas applied to every connection on first open.
var sessionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA cache_size=-64000",
	"PRAGMA temp_store=memory",
	"PRAGMA busy_timeout=5000",
}

// Conn is one pooled session. It is owned by the pool; callers receive it
// from Get/WithConnection and must release it.
type Conn struct {
	id       int64
	sess     *sql.Conn
	created  time.Time
	lastUsed time.Time
}

// ExecContext runs a statement on this session.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.sess.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on this session.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.sess.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on this session.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.sess.QueryRowContext(ctx, query, args...)
}

// WithTransaction wraps fn in BEGIN/COMMIT, rolling back if fn errors.
func (c *Conn) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.sess.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

type waiter struct {
	ch chan *Conn // buffered 1; closed on shutdown
}

// Pool is a bounded set of SQLite sessions with FIFO waiter queueing,
// checkout health probes, an idle reaper, and graceful shutdown.
type Pool struct {
	db  *sql.DB
	cfg Config
	log *logging.Logger

	mu           sync.Mutex
	idle         []*Conn // index 0 = least recently used
	active       map[*Conn]struct{}
	total        int
	waiters      *list.List // of *waiter, FIFO
	shuttingDown bool
	nextID       int64

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// Stats is a point-in-time pool snapshot.
type Stats struct {
	ActiveConnections int `json:"activeConnections"`
	IdleConnections   int `json:"idleConnections"`
	TotalConnections  int `json:"totalConnections"`
	MaxConnections    int `json:"maxConnections"`
	WaitingRequests   int `json:"waitingRequests"`
}

// Open creates the pool and verifies the database is reachable. No pooled
// sessions are created until the first checkout.
func Open(cfg Config) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 10 * time.Second
	}

	dsn, err := buildDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxConnections)
	sqlDB.SetConnMaxLifetime(0) // SQLite doesn't need connection recycling

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Pool{
		db:         sqlDB,
		cfg:        cfg,
		log:        logging.New("pool"),
		active:     make(map[*Conn]struct{}),
		waiters:    list.New(),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go p.reaper()

	p.log.Debugf("opened %s (max=%d, idleTimeout=%s)", cfg.URL, cfg.MaxConnections, cfg.IdleTimeout)
	return p, nil
}

// buildDSN turns a file: URL or plain path into a driver DSN, creating the
// parent directory for file-backed databases.
func buildDSN(url string) (string, error) {
	path := strings.TrimPrefix(url, "file:")
	if path == "" {
		return "", fmt.Errorf("database url is required")
	}
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}
	return "file:" + path + "?_loc=UTC", nil
}

// Get checks out a connection: reuse an idle one (health-probed), create a
// fresh one under the cap, or wait FIFO for a release. The wait is bounded
// by CheckoutTimeout and by ctx.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		if p.shuttingDown {
			p.mu.Unlock()
			return nil, ErrPoolShuttingDown
		}

		// Reuse the most recently used idle session.
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active[c] = struct{}{}
			p.mu.Unlock()

			if err := p.probe(ctx, c); err != nil {
				p.log.Debugf("health probe failed on conn %d, replacing: %v", c.id, err)
				p.discard(c)
				continue
			}
			c.lastUsed = time.Now()
			return c, nil
		}

		// Room to grow: create a fresh session for this caller.
		if p.total < p.cfg.MaxConnections {
			p.total++
			p.nextID++
			id := p.nextID
			p.mu.Unlock()

			c, err := p.newConn(ctx, id)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			if p.shuttingDown {
				p.total--
				p.mu.Unlock()
				c.sess.Close()
				return nil, ErrPoolShuttingDown
			}
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return c, nil
		}

		// Saturated: wait in line.
		w := &waiter{ch: make(chan *Conn, 1)}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		timer := time.NewTimer(p.cfg.CheckoutTimeout)
		select {
		case c := <-w.ch:
			timer.Stop()
			if c == nil {
				return nil, ErrPoolShuttingDown
			}
			return c, nil
		case <-timer.C:
			if c, ok := p.abandonWait(elem, w); ok {
				return c, nil
			}
			return nil, ErrCheckoutTimeout
		case <-ctx.Done():
			timer.Stop()
			if c, ok := p.abandonWait(elem, w); ok {
				return c, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrCheckoutTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// abandonWait removes a timed-out waiter from the queue. If a release served
// it in the meantime the connection is returned to the caller instead.
func (p *Pool) abandonWait(elem *list.Element, w *waiter) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case c := <-w.ch:
		// Served just before the deadline fired; take the connection.
		return c, c != nil
	default:
		p.waiters.Remove(elem)
		return nil, false
	}
}

// Release returns a connection to the pool. A queued waiter receives it
// directly (it stays active); otherwise it joins the idle set.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, c)
	c.lastUsed = time.Now()

	if p.shuttingDown {
		p.total--
		p.mu.Unlock()
		c.sess.Close()
		return
	}

	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		w := elem.Value.(*waiter)
		p.active[c] = struct{}{}
		w.ch <- c
		p.mu.Unlock()
		return
	}

	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// WithConnection checks out a connection, runs op, and releases it on every
// exit path.
func (p *Pool) WithConnection(ctx context.Context, op func(c *Conn) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return op(c)
}

// Stats returns the current pool snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveConnections: len(p.active),
		IdleConnections:   len(p.idle),
		TotalConnections:  p.total,
		MaxConnections:    p.cfg.MaxConnections,
		WaitingRequests:   p.waiters.Len(),
	}
}

// Shutdown rejects queued waiters, stops the reaper, and closes every
// connection. Idempotent.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil
	}
	p.shuttingDown = true
	close(p.reaperStop)

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		close(elem.Value.(*waiter).ch)
	}
	p.waiters.Init()

	conns := make([]*Conn, 0, len(p.idle)+len(p.active))
	conns = append(conns, p.idle...)
	for c := range p.active {
		conns = append(conns, c)
	}
	p.idle = nil
	p.active = make(map[*Conn]struct{})
	p.total = 0
	p.mu.Unlock()

	<-p.reaperDone
	for _, c := range conns {
		c.sess.Close()
	}
	err := p.db.Close()
	p.log.Debugf("shut down (%d connections closed)", len(conns))
	return err
}

// newConn opens a dedicated session and applies the session pragmas.
func (p *Pool) newConn(ctx context.Context, id int64) (*Conn, error) {
	sess, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	for _, pragma := range sessionPragmas {
		if _, err := sess.ExecContext(ctx, pragma); err != nil {
			sess.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	now := time.Now()
	return &Conn{id: id, sess: sess, created: now, lastUsed: now}, nil
}

// probe verifies the session still answers. Probe failures are internal;
// the caller transparently gets a replacement.
func (p *Pool) probe(ctx context.Context, c *Conn) error {
	var one int
	return c.sess.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// discard drops an unhealthy active connection.
func (p *Pool) discard(c *Conn) {
	p.mu.Lock()
	delete(p.active, c)
	p.total--
	p.mu.Unlock()
	c.sess.Close()
}

// reaper periodically closes idle connections that have been unused for
// IdleTimeout, always leaving idleFloor behind. Active connections are
// never touched.
func (p *Pool) reaper() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	var victims []*Conn

	p.mu.Lock()
	for len(p.idle) > idleFloor && p.idle[0].lastUsed.Before(cutoff) {
		victims = append(victims, p.idle[0])
		p.idle = p.idle[1:]
		p.total--
	}
	p.mu.Unlock()

	for _, c := range victims {
		c.sess.Close()
	}
	if len(victims) > 0 {
		p.log.Debugf("reaped %d idle connections", len(victims))
	}
}
