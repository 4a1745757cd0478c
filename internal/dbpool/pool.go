// Package dbpool implements the bounded database-handle pool: up to
// capacity open handles, a counting semaphore, and a mutex-guarded FIFO
// queue, wired to database/sql and the go-sql-driver/mysql driver.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kfcemployee/cinder/internal/logging"
)

// Config carries the connection parameters accepted by the server
// constructor.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// Pool hands out up to PoolSize open *sql.DB-backed handles. Its own
// checkout/release contract sits on top of database/sql because
// database/sql's SetMaxOpenConns does not block a caller past the limit —
// it queues internally without exposing a semaphore a caller can block
// on, and checkout here must block rather than ever return nothing.
type Pool struct {
	log      *logging.Logger
	db       *sql.DB
	sem      chan struct{}
	mu       sync.Mutex
	queue    []*Handle
	capacity int
	closed   bool
}

// Handle is an opaque, checked-out database connection.
type Handle struct {
	conn *sql.Conn
}

// Init opens the pool. A failure to open any single physical connection
// slot is logged and that slot is simply omitted; Init itself only
// fails if sql.Open rejects the driver name or DSN. If no slot can be
// opened, the pool is returned with no handles.
func Init(ctx context.Context, cfg Config, log *logging.Logger) (*Pool, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	p := &Pool{
		log:      log,
		db:       db,
		sem:      make(chan struct{}, cfg.PoolSize),
		queue:    make([]*Handle, 0, cfg.PoolSize),
		capacity: cfg.PoolSize,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			log.Warnf("dbpool: slot %d unavailable: %v", i, err)
			continue
		}
		p.queue = append(p.queue, &Handle{conn: conn})
		p.sem <- struct{}{}
	}
	return p, nil
}

// Checkout blocks until a handle is available and returns it. It never
// returns a nil handle on success.
func (p *Pool) Checkout(ctx context.Context) (*Handle, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	h := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()
	return h, nil
}

// Release returns a handle to the queue and signals the semaphore.
func (p *Pool) Release(h *Handle) {
	p.mu.Lock()
	p.queue = append(p.queue, h)
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// Acquire is the scoped-acquisition helper: it checks a handle out and
// returns a release func guaranteed safe to defer, so callers cannot
// forget to return a handle on any exit path.
func (p *Pool) Acquire(ctx context.Context) (*Handle, func(), error) {
	h, err := p.Checkout(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	return h, func() { p.Release(h) }, nil
}

// Available reports the number of handles currently queued (idle), for
// diagnostics.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Conn exposes the underlying *sql.Conn for query execution.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// Close drains the queue, closing every handle exactly once, and closes
// the underlying *sql.DB.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, h := range queued {
		h.conn.Close()
	}
	return p.db.Close()
}
