// Package agentstore wires the persistence core behind an LLM agent into one
// handle: a pooled SQLite vector store with an optional approximate-search
// accelerator, plus the unified session/long-term/checkpoint memory store.
package agentstore

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/agentstore/internal/logging"
	"github.com/liliang-cn/agentstore/pkg/ann"
	"github.com/liliang-cn/agentstore/pkg/config"
	"github.com/liliang-cn/agentstore/pkg/memory"
	"github.com/liliang-cn/agentstore/pkg/pool"
	"github.com/liliang-cn/agentstore/pkg/vector"
)

// vectorPool is the pool name used for all vector store traffic
const vectorPool = "vectors"

// Documents is the write-and-search surface shared by the exact store and
// the approximate index. Open picks the implementation once, at startup.
type Documents interface {
	AddDocument(ctx context.Context, content string, embedding []float32, metadata map[string]any) (string, error)
	AddDocuments(ctx context.Context, inputs []vector.Input) ([]string, error)
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]vector.ScoredDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

// ANNConfig holds the approximate-index knobs
type ANNConfig struct {
	Enabled        bool
	M              int
	EfConstruction int
	EfSearch       int
	PersistEvery   int
}

// CacheConfig holds the session cache knobs
type CacheConfig struct {
	TTL         time.Duration
	MaxSessions int
}

// Config assembles every component's settings
type Config struct {
	VectorDBPath string
	MemoryDBPath string
	PoolSize     int
	ReadReplicas int
	EmbeddingDim int
	ANN          ANNConfig
	Cache        CacheConfig
}

// DefaultConfig returns a ready-to-use local configuration
func DefaultConfig() Config {
	return Config{
		VectorDBPath: "agentstore_vectors.db",
		MemoryDBPath: "agentstore_memory.db",
		PoolSize:     5,
		ReadReplicas: 2,
		EmbeddingDim: 1536,
		ANN: ANNConfig{
			Enabled:        true,
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
			PersistEvery:   100,
		},
		Cache: CacheConfig{
			TTL:         30 * time.Minute,
			MaxSessions: 1024,
		},
	}
}

// FromEnv builds a Config from AGENTSTORE_* environment variables
func FromEnv() Config {
	s := config.Load()
	return Config{
		VectorDBPath: s.VectorDBPath,
		MemoryDBPath: s.MemoryDBPath,
		PoolSize:     s.PoolSize,
		ReadReplicas: s.ReadReplicas,
		EmbeddingDim: s.EmbeddingDim,
		ANN: ANNConfig{
			Enabled:        s.ANNEnabled,
			M:              s.ANNM,
			EfConstruction: s.ANNEfConstruction,
			EfSearch:       s.ANNEfSearch,
			PersistEvery:   100,
		},
		Cache: CacheConfig{
			TTL:         s.CacheTTL,
			MaxSessions: s.CacheMaxSessions,
		},
	}
}

// DB is the assembled persistence core
type DB struct {
	cfg    Config
	logger logging.Logger

	pools   *pool.Manager
	vectors *vector.Store
	index   *ann.Index
	docs    Documents
	mem     *memory.Store
}

// Option configures Open
type Option func(*DB)

// WithLogger sets the logger shared by every component
func WithLogger(l logging.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// Open brings up the pool manager, the vector store, the optional
// approximate index, and the memory store, in that order.
func Open(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	if cfg.VectorDBPath == "" || cfg.MemoryDBPath == "" {
		return nil, fmt.Errorf("agentstore: vector and memory database paths are required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.ReadReplicas < 0 {
		cfg.ReadReplicas = 0
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 1536
	}

	db := &DB{
		cfg:    cfg,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(db)
	}

	db.pools = pool.NewManager(pool.WithLogger(db.logger))

	poolCfg := pool.DefaultConfig(vectorPool, cfg.VectorDBPath)
	poolCfg.PoolSize = cfg.PoolSize
	poolCfg.ReadReplicas = cfg.ReadReplicas
	if err := db.pools.CreatePool(poolCfg); err != nil {
		_ = db.pools.Close()
		return nil, err
	}

	vs, err := vector.New(db.pools, vector.Config{
		PoolName:  vectorPool,
		Dimension: cfg.EmbeddingDim,
	}, vector.WithLogger(db.logger))
	if err != nil {
		_ = db.pools.Close()
		return nil, err
	}
	if err := vs.Init(ctx); err != nil {
		_ = db.pools.Close()
		return nil, err
	}
	db.vectors = vs
	db.docs = vs

	if cfg.ANN.Enabled {
		annCfg := ann.Config{
			GraphPath:      cfg.VectorDBPath + ".hnsw",
			M:              cfg.ANN.M,
			EfConstruction: cfg.ANN.EfConstruction,
			EfSearch:       cfg.ANN.EfSearch,
			PersistEvery:   cfg.ANN.PersistEvery,
		}
		ix, err := ann.New(vs, annCfg, ann.WithLogger(db.logger))
		if err != nil {
			_ = db.pools.Close()
			return nil, err
		}
		if err := ix.Open(ctx); err != nil {
			_ = db.pools.Close()
			return nil, err
		}
		db.index = ix
		db.docs = ix
	}

	memCfg := memory.DefaultConfig(cfg.MemoryDBPath)
	if cfg.Cache.TTL > 0 {
		memCfg.CacheTTL = cfg.Cache.TTL
	}
	if cfg.Cache.MaxSessions > 0 {
		memCfg.CacheMaxSessions = int64(cfg.Cache.MaxSessions)
	}
	mem, err := memory.Open(memCfg, memory.WithLogger(db.logger))
	if err != nil {
		if db.index != nil {
			_ = db.index.Close()
		}
		_ = db.pools.Close()
		return nil, err
	}
	db.mem = mem

	db.logger.Info("agentstore opened",
		"vector_db", cfg.VectorDBPath,
		"memory_db", cfg.MemoryDBPath,
		"ann", cfg.ANN.Enabled,
	)
	return db, nil
}

// Documents returns the document surface: the approximate index when it is
// enabled, the exact store otherwise.
func (db *DB) Documents() Documents {
	return db.docs
}

// Vectors returns the exact store regardless of the ANN setting
func (db *DB) Vectors() *vector.Store {
	return db.vectors
}

// Index returns the approximate index, nil when disabled
func (db *DB) Index() *ann.Index {
	return db.index
}

// Memory returns the unified memory store
func (db *DB) Memory() *memory.Store {
	return db.mem
}

// Pool returns the connection pool manager
func (db *DB) Pool() *pool.Manager {
	return db.pools
}

// Close shuts the components down in reverse dependency order
func (db *DB) Close() error {
	var firstErr error

	if db.mem != nil {
		if err := db.mem.Close(); err != nil {
			firstErr = err
		}
	}
	if db.index != nil {
		if err := db.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.vectors != nil {
		if err := db.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.pools != nil {
		if err := db.pools.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
