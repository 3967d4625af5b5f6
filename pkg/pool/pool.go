// Package pool manages named pools of embedded SQLite connections with
// primary and read-replica roles, periodic health checks, and a non-blocking
// checkout policy.
//
// Checkout never blocks: when every connection in a pool is busy, the
// least-recently-used one is handed out again. Availability is traded for
// strict single-holder isolation here; callers that need hard isolation must
// size the pool for their peak concurrency.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/agentstore/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config describes one named pool. Immutable after CreatePool.
type Config struct {
	Name         string            // Pool name used for lookups
	Path         string            // Database file path
	PoolSize     int               // Number of primary connections
	ReadReplicas int               // Number of read-replica connections
	Pragmas      map[string]string // Pragmas applied to every connection
}

// DefaultConfig returns a pool configuration with the standard durability
// and performance pragmas.
//
// journal_mode=WAL allows concurrent physical reads alongside one writer,
// synchronous=NORMAL is the usual WAL durability trade, busy_timeout keeps
// writers from failing immediately on lock contention.
func DefaultConfig(name, path string) Config {
	return Config{
		Name:         name,
		Path:         path,
		PoolSize:     5,
		ReadReplicas: 2,
		Pragmas: map[string]string{
			"journal_mode": "WAL",
			"synchronous":  "NORMAL",
			"busy_timeout": "5000",
			"cache_size":   "-2000",
			"mmap_size":    "268435456",
		},
	}
}

// Conn is one pooled connection. It is owned by the manager; callers hold it
// only between Get and Release.
type Conn struct {
	db          *sql.DB
	inUse       bool
	lastUsed    time.Time
	readReplica bool
}

// DB returns the underlying database handle
func (c *Conn) DB() *sql.DB {
	return c.db
}

// IsReadReplica reports whether this connection fills a replica slot
func (c *Conn) IsReadReplica() bool {
	return c.readReplica
}

// Stats describes the checkout state of one pool
type Stats struct {
	Total        int `json:"total"`
	InUse        int `json:"in_use"`
	Available    int `json:"available"`
	ReadReplicas int `json:"read_replicas"`
}

type dbPool struct {
	config Config
	conns  []*Conn
}

// Manager owns every named pool and the background health checker
type Manager struct {
	mu     sync.Mutex
	pools  map[string]*dbPool
	logger logging.Logger
	closed bool

	healthInterval time.Duration
	stopHealth     chan struct{}
	healthDone     chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used by the manager
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithHealthInterval overrides the health-check interval
func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.healthInterval = d
	}
}

// NewManager creates a pool manager and starts its health checker
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pools:          make(map[string]*dbPool),
		logger:         logging.Nop(),
		healthInterval: 60 * time.Second,
		stopHealth:     make(chan struct{}),
		healthDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.healthLoop()

	return m
}

// CreatePool eagerly opens PoolSize primary and ReadReplicas replica
// connections for the given config, applies the configured pragmas to each,
// and registers the pool under config.Name.
func (m *Manager) CreatePool(cfg Config) error {
	if cfg.Name == "" || cfg.Path == "" {
		return wrapError("create_pool", fmt.Errorf("%w: name and path are required", ErrInvalidConfig))
	}
	if cfg.PoolSize <= 0 {
		return wrapError("create_pool", fmt.Errorf("%w: pool size must be positive", ErrInvalidConfig))
	}
	if cfg.ReadReplicas < 0 {
		return wrapError("create_pool", fmt.Errorf("%w: replica count must be non-negative", ErrInvalidConfig))
	}

	// The database directory must exist before SQLite can create the file.
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return wrapError("create_pool", fmt.Errorf("%w: cannot create database directory: %v", ErrInvalidConfig, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrapError("create_pool", ErrManagerClosed)
	}
	if _, ok := m.pools[cfg.Name]; ok {
		return wrapError("create_pool", fmt.Errorf("%w: %s", ErrPoolExists, cfg.Name))
	}

	p := &dbPool{config: cfg}
	total := cfg.PoolSize + cfg.ReadReplicas
	for i := 0; i < total; i++ {
		conn, err := openConn(cfg, i >= cfg.PoolSize)
		if err != nil {
			for _, c := range p.conns {
				_ = c.db.Close()
			}
			return wrapError("create_pool", err)
		}
		p.conns = append(p.conns, conn)
	}

	m.pools[cfg.Name] = p
	m.logger.Info("pool created",
		"name", cfg.Name,
		"path", cfg.Path,
		"primaries", cfg.PoolSize,
		"replicas", cfg.ReadReplicas,
	)

	return nil
}

// openConn opens one physical connection, applies pragmas, and verifies the
// journal mode took effect when WAL was requested.
func openConn(cfg Config, replica bool) (*Conn, error) {
	var pragmaParts []string
	for name, value := range cfg.Pragmas {
		pragmaParts = append(pragmaParts, fmt.Sprintf("_pragma=%s(%s)", name, value))
	}
	sort.Strings(pragmaParts)

	dsn := cfg.Path
	if len(pragmaParts) > 0 {
		dsn += "?" + strings.Join(pragmaParts, "&")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One pooled Conn maps to exactly one physical SQLite connection, so the
	// checkout semantics are visible to SQLite's locking.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if want, ok := cfg.Pragmas["journal_mode"]; ok {
		var mode string
		if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to read journal mode: %w", err)
		}
		if !strings.EqualFold(mode, want) {
			_ = db.Close()
			return nil, fmt.Errorf("journal mode %q did not take effect, database reports %q", want, mode)
		}
	}

	return &Conn{
		db:          db,
		lastUsed:    time.Now(),
		readReplica: replica,
	}, nil
}

// Get checks out a connection from the named pool.
//
// Reads prefer an idle replica, then an idle primary. Writes prefer an idle
// primary, then any idle connection. When nothing is idle the
// least-recently-used connection is reissued rather than blocking.
func (m *Manager) Get(poolName string, readOnly bool) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, wrapError("get", ErrManagerClosed)
	}

	p, ok := m.pools[poolName]
	if !ok {
		return nil, wrapError("get", fmt.Errorf("%w: %s", ErrPoolNotFound, poolName))
	}

	conn := selectIdle(p.conns, readOnly)
	if conn == nil {
		// Degrade by reuse: hand out the LRU connection even though it is
		// nominally still checked out. See package doc.
		conn = selectLRU(p.conns)
		m.logger.Warn("pool exhausted, reusing least-recently-used connection",
			"pool", poolName, "read_only", readOnly)
	}

	conn.inUse = true
	conn.lastUsed = time.Now()
	return conn, nil
}

func selectIdle(conns []*Conn, readOnly bool) *Conn {
	if readOnly {
		for _, c := range conns {
			if !c.inUse && c.readReplica {
				return c
			}
		}
		for _, c := range conns {
			if !c.inUse && !c.readReplica {
				return c
			}
		}
		return nil
	}

	for _, c := range conns {
		if !c.inUse && !c.readReplica {
			return c
		}
	}
	for _, c := range conns {
		if !c.inUse {
			return c
		}
	}
	return nil
}

func selectLRU(conns []*Conn) *Conn {
	lru := conns[0]
	for _, c := range conns[1:] {
		if c.lastUsed.Before(lru.lastUsed) {
			lru = c
		}
	}
	return lru
}

// Release returns a connection to its pool. Unknown pools or connections are
// logged and ignored.
func (m *Manager) Release(poolName string, conn *Conn) {
	if conn == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolName]
	if !ok {
		m.logger.Warn("release on unknown pool", "pool", poolName)
		return
	}

	for _, c := range p.conns {
		if c == conn {
			c.inUse = false
			return
		}
	}
	m.logger.Warn("release of unknown connection", "pool", poolName)
}

// With acquires a connection, invokes fn with its database handle, and
// releases on every exit path including panics.
func (m *Manager) With(poolName string, readOnly bool, fn func(db *sql.DB) error) error {
	conn, err := m.Get(poolName, readOnly)
	if err != nil {
		return err
	}
	defer m.Release(poolName, conn)

	return fn(conn.db)
}

// Stats returns checkout counters for the named pool
func (m *Manager) Stats(poolName string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolName]
	if !ok {
		return Stats{}, wrapError("stats", fmt.Errorf("%w: %s", ErrPoolNotFound, poolName))
	}
	return poolStats(p), nil
}

// AllStats returns checkout counters for every registered pool
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.pools))
	for name, p := range m.pools {
		out[name] = poolStats(p)
	}
	return out
}

func poolStats(p *dbPool) Stats {
	s := Stats{Total: len(p.conns)}
	for _, c := range p.conns {
		if c.inUse {
			s.InUse++
		} else {
			s.Available++
		}
		if c.readReplica {
			s.ReadReplicas++
		}
	}
	return s
}

// healthLoop pings every pooled connection on a fixed interval and replaces
// dead connections in place, preserving their primary/replica role.
func (m *Manager) healthLoop() {
	defer close(m.healthDone)

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopHealth:
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

func (m *Manager) checkAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for name, p := range m.pools {
		for i, c := range p.conns {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := c.db.ExecContext(ctx, "SELECT 1")
			cancel()
			if err == nil {
				continue
			}

			m.logger.Warn("health check failed, reconnecting",
				"pool", name, "replica", c.readReplica, "error", err)

			_ = c.db.Close()
			fresh, openErr := openConn(p.config, c.readReplica)
			if openErr != nil {
				m.logger.Error("reconnect failed", "pool", name, "error", openErr)
				continue
			}
			p.conns[i] = fresh
		}
	}
}

// Close stops the health checker and closes every pooled connection
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopHealth)
	<-m.healthDone

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, p := range m.pools {
		for _, c := range p.conns {
			if err := c.db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	m.pools = make(map[string]*dbPool)

	return firstErr
}
