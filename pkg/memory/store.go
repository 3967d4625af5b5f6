// Package memory implements the unified memory store behind an LLM agent:
// session transcripts, session context, long-term key/value facts, and
// durable workflow checkpoints, all in one SQLite file.
//
// A small in-process cache fronts hot sessions; the database rows remain
// authoritative at all times. The store is independent of the vector
// subsystem but shares its pragma and durability choices (WAL,
// synchronous=NORMAL).
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liliang-cn/agentstore/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver
)

// Message roles
const (
	RoleSystem = "system"
	RoleHuman  = "human"
	RoleAI     = "ai"
)

// Message is one transcript entry. Append-only, ordered by insertion.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Context is the mutable key/value state attached to one session
type Context struct {
	SessionID      string         `json:"session_id"`
	Context        map[string]any `json:"context"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// LongTermEntry is a durable fact keyed by (key, session). An empty
// SessionID marks a global fact.
type LongTermEntry struct {
	Key            string    `json:"key"`
	SessionID      string    `json:"session_id,omitempty"`
	Value          any       `json:"value"`
	Category       string    `json:"category"`
	Importance     float64   `json:"importance"`
	AccessCount    int64     `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Checkpoint is one saved workflow state. Checkpoints sharing a thread form
// a parent-pointer lineage.
type Checkpoint struct {
	ThreadID           string         `json:"thread_id"`
	Namespace          string         `json:"checkpoint_ns"`
	CheckpointID       string         `json:"checkpoint_id"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	Blob               []byte         `json:"checkpoint"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Config configures the memory store
type Config struct {
	Path             string        // Database file path
	CacheTTL         time.Duration // Idle timeout for cached sessions
	CacheMaxSessions int64         // Capacity cap for the session cache
}

// DefaultConfig returns the standard memory store configuration
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		CacheTTL:         30 * time.Minute,
		CacheMaxSessions: 1024,
	}
}

// Store is the unified memory store
type Store struct {
	db     *sql.DB
	cfg    Config
	cache  *sessionCache
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens or creates the memory database and its session cache
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, wrapError("open", fmt.Errorf("%w: database path is required", ErrInvalidConfig))
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.CacheMaxSessions <= 0 {
		cfg.CacheMaxSessions = 1024
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapError("open", fmt.Errorf("%w: cannot create data directory: %v", ErrInvalidConfig, err))
		}
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapError("open", fmt.Errorf("failed to open database: %w", err))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, wrapError("open", fmt.Errorf("failed to ping database: %w", err))
	}

	cache, err := newSessionCache(cfg.CacheMaxSessions, cfg.CacheTTL)
	if err != nil {
		_ = db.Close()
		return nil, wrapError("open", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		cache:  cache,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		cache.close()
		return nil, err
	}

	s.logger.Info("memory store opened", "path", cfg.Path)
	return s, nil
}

// createTables creates the five memory tables
func (s *Store) createTables(ctx context.Context) error {
	createSQL := `
	CREATE TABLE IF NOT EXISTS session_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL, -- 'system', 'human', 'ai'
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_session_messages_created_at ON session_messages(created_at);

	CREATE TABLE IF NOT EXISTS session_contexts (
		session_id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_accessed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS long_term_memory (
		key TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '', -- '' marks a global fact
		value TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'general',
		importance REAL NOT NULL DEFAULT 0.5,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (key, session_id)
	);

	CREATE INDEX IF NOT EXISTS idx_long_term_memory_category ON long_term_memory(category);

	CREATE TABLE IF NOT EXISTS workflow_checkpoints (
		thread_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL DEFAULT '',
		checkpoint_id TEXT NOT NULL,
		parent_checkpoint_id TEXT,
		checkpoint BLOB NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_checkpoints_thread ON workflow_checkpoints(thread_id, created_at);

	-- Storage slot for periodic transcript summaries; the summarization
	-- logic itself lives outside this store.
	CREATE TABLE IF NOT EXISTS session_summaries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_summaries_session ON session_summaries(session_id);
	`

	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return wrapError("init", fmt.Errorf("failed to create tables: %w", err))
	}
	return nil
}

// Close closes the session cache and the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cache.close()
	return s.db.Close()
}

// checkOpen returns ErrStoreClosed when the store has been closed
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
