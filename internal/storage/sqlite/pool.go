package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/graphkeep/graphkeep/internal/metrics"
	"github.com/graphkeep/graphkeep/internal/storage"
)

// handlePragmas is the fixed tuning set applied exactly once per handle, in
// order: durability mode, sync mode, busy wait, integrity, and page cache.
var handlePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-64000",
}

// Handle is a checked-out database connection together with its
// prepared-statement cache. A Handle is owned by exactly one logical
// operation between Acquire and Release.
type Handle struct {
	id    int
	conn  *sql.Conn
	stmts *stmtCache
}

// stmt returns a prepared statement for query through the handle's cache.
func (h *Handle) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	return h.stmts.getOrPrepare(ctx, h.conn, query)
}

// QueryContext runs a read query through the statement cache.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := h.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a single-row read query through the statement cache.
func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	stmt, err := h.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, args...), nil
}

// Pool is a bounded set of database handles gated by a counting semaphore.
// At most size operations hold a live handle at once; excess callers suspend
// on acquisition until a handle frees or the acquire timeout elapses.
type Pool struct {
	db             *sql.DB
	size           int
	acquireTimeout time.Duration
	stmtCapacity   int

	sem chan struct{}

	mu     sync.Mutex
	free   []*Handle
	nextID int
	active int
	closed bool

	timeouts atomic.Uint64
	metrics  *metrics.Collector

	// sweep is the lazy cache-maintenance hook, run from Acquire at most
	// once per sweep interval.
	sweep     func()
	sometimes *rate.Sometimes
}

// NewPool creates a pool of at most size handles over db. sweep, when
// non-nil, is invoked lazily from Acquire, throttled to once per
// sweepInterval; collector, when non-nil, receives timeout events.
func NewPool(db *sql.DB, size int, acquireTimeout time.Duration, stmtCapacity int, sweepInterval time.Duration, sweep func(), collector *metrics.Collector) *Pool {
	if size <= 0 {
		size = 5
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Pool{
		db:             db,
		size:           size,
		acquireTimeout: acquireTimeout,
		stmtCapacity:   stmtCapacity,
		sem:            make(chan struct{}, size),
		metrics:        collector,
		sweep:          sweep,
		sometimes:      &rate.Sometimes{Interval: sweepInterval},
	}
}

// Acquire blocks until a handle is free or the acquire timeout elapses,
// returning ErrPoolExhausted on timeout. Cancellation of ctx before a slot is
// granted consumes no pool capacity and is reported as the context's own
// error, distinct from pool exhaustion.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-acquireCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.timeouts.Add(1)
		if p.metrics != nil {
			p.metrics.RecordTimeout()
		}
		return nil, fmt.Errorf("%w: no handle available within %s", storage.ErrPoolExhausted, p.acquireTimeout)
	}

	h, err := p.checkout(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}

	if p.sweep != nil {
		p.sometimes.Do(p.sweep)
	}
	return h, nil
}

// checkout pops a free handle or creates a new one with the tuning pragmas
// applied. The caller already holds a semaphore slot.
func (p *Pool) checkout(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool is closed", storage.ErrStorage)
	}
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.active++
		p.mu.Unlock()
		return h, nil
	}
	p.nextID++
	id := p.nextID
	p.active++
	p.mu.Unlock()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.undoCheckout()
		return nil, fmt.Errorf("%w: failed to open connection: %v", storage.ErrStorage, err)
	}

	for _, pragma := range handlePragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			p.undoCheckout()
			return nil, fmt.Errorf("%w: failed to apply %q: %v", storage.ErrStorage, pragma, err)
		}
	}

	return &Handle{id: id, conn: conn, stmts: newStmtCache(p.stmtCapacity)}, nil
}

func (p *Pool) undoCheckout() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

// Release returns a handle to the free list and frees its semaphore slot.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	p.active--
	closed := p.closed
	if !closed {
		p.free = append(p.free, h)
	}
	p.mu.Unlock()

	if closed {
		p.closeHandle(h)
	}
	<-p.sem
}

// Retire closes a handle instead of returning it to the free list. Used when
// the connection itself is suspected broken.
func (p *Pool) Retire(h *Handle) {
	if h == nil {
		return
	}
	p.undoCheckout()
	p.closeHandle(h)
	<-p.sem
}

func (p *Pool) closeHandle(h *Handle) {
	h.stmts.Close()
	if err := h.conn.Close(); err != nil {
		log.Printf("sqlite: failed to close pooled connection %d: %v", h.id, err)
	}
}

// Stats returns a snapshot of pool utilization without blocking acquirers.
func (p *Pool) Stats() storage.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return storage.PoolStats{
		Active:    p.active,
		Available: p.size - p.active,
		Max:       p.size,
		Timeouts:  p.timeouts.Load(),
	}
}

// Close retires all free handles and marks the pool closed. Outstanding
// handles are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, h := range free {
		p.closeHandle(h)
	}
	return nil
}
