// Package vector implements the exact k-NN document store backing the
// agent's knowledge base.
//
// Every document row carries its content, arbitrary JSON metadata, and a
// fixed-dimension embedding encoded as a little-endian BLOB. Similarity
// search is a brute-force cosine scan over all rows: O(n*d) per query,
// intentionally simple, and used as both the correctness oracle and the
// fallback path for the approximate index in pkg/ann.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/agentstore/internal/encoding"
	"github.com/liliang-cn/agentstore/internal/logging"
	"github.com/liliang-cn/agentstore/pkg/pool"
)

// Document is one stored row. Immutable once written except for deletion.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding"`
	CreatedAt time.Time      `json:"created_at"`
}

// Input is the caller-supplied part of a document; the store assigns the id.
type Input struct {
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// ScoredDocument is a document with its similarity score for one query
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// Searcher is the one-method search contract shared by the exact store and
// the approximate index that wraps it.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]ScoredDocument, error)
}

// Stats describes the store contents
type Stats struct {
	Documents int64 `json:"documents"`
	Dimension int   `json:"dimension"`
}

// Config configures a Store
type Config struct {
	PoolName     string         // Connection pool to use
	Dimension    int            // Expected embedding dimension (informational)
	SimilarityFn SimilarityFunc // Defaults to CosineSimilarity
}

// Store is the exact vector store. All I/O goes through the named pool.
type Store struct {
	pools        *pool.Manager
	poolName     string
	dim          int
	similarityFn SimilarityFunc
	logger       logging.Logger

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

// New creates a vector store on top of an existing pool
func New(pools *pool.Manager, cfg Config, opts ...Option) (*Store, error) {
	if pools == nil {
		return nil, wrapError("new", fmt.Errorf("%w: pool manager is required", ErrInvalidConfig))
	}
	if cfg.PoolName == "" {
		return nil, wrapError("new", fmt.Errorf("%w: pool name is required", ErrInvalidConfig))
	}
	if cfg.SimilarityFn == nil {
		cfg.SimilarityFn = CosineSimilarity
	}

	s := &Store{
		pools:        pools,
		poolName:     cfg.PoolName,
		dim:          cfg.Dimension,
		similarityFn: cfg.SimilarityFn,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Init creates the documents table
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	createSQL := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	`

	err := s.pools.With(s.poolName, false, func(db *sql.DB) error {
		_, execErr := db.ExecContext(ctx, createSQL)
		return execErr
	})
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to create tables: %w", err))
	}

	s.logger.Info("vector store initialized", "pool", s.poolName, "dimension", s.dim)
	return nil
}

// Dimension returns the configured embedding dimension
func (s *Store) Dimension() int {
	return s.dim
}

// AddDocument inserts one document and returns its generated id
func (s *Store) AddDocument(ctx context.Context, content string, embedding []float32, metadata map[string]any) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", wrapError("add_document", ErrStoreClosed)
	}

	if err := encoding.ValidateVector(embedding); err != nil {
		return "", wrapError("add_document", err)
	}

	id := uuid.NewString()
	vectorBytes, err := encoding.EncodeVector(embedding)
	if err != nil {
		return "", wrapError("add_document", err)
	}
	metadataJSON, err := encoding.EncodeMetadata(metadata)
	if err != nil {
		return "", wrapError("add_document", err)
	}

	err = s.pools.With(s.poolName, false, func(db *sql.DB) error {
		_, execErr := db.ExecContext(ctx, `
			INSERT INTO documents (id, content, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, content, metadataJSON, vectorBytes, time.Now().UTC())
		return execErr
	})
	if err != nil {
		return "", wrapError("add_document", fmt.Errorf("failed to insert document: %w", err))
	}

	return id, nil
}

// AddDocuments inserts a batch of documents inside one transaction and
// returns the generated ids in input order.
func (s *Store) AddDocuments(ctx context.Context, inputs []Input) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("add_documents", ErrStoreClosed)
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	for i, in := range inputs {
		if err := encoding.ValidateVector(in.Embedding); err != nil {
			return nil, wrapError("add_documents", fmt.Errorf("invalid embedding at index %d: %w", i, err))
		}
	}

	ids := make([]string, len(inputs))

	err := s.pools.With(s.poolName, false, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO documents (id, content, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for i, in := range inputs {
			vectorBytes, err := encoding.EncodeVector(in.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode vector at index %d: %w", i, err)
			}
			metadataJSON, err := encoding.EncodeMetadata(in.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata at index %d: %w", i, err)
			}

			ids[i] = uuid.NewString()
			if _, err := stmt.ExecContext(ctx, ids[i], in.Content, metadataJSON, vectorBytes, now); err != nil {
				return fmt.Errorf("failed to insert document at index %d: %w", i, err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, wrapError("add_documents", err)
	}

	return ids, nil
}

// SimilaritySearch scores every stored document against the query and
// returns the top k by descending similarity.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("similarity_search", ErrStoreClosed)
	}
	if k <= 0 {
		k = 10
	}

	docs, err := s.fetchAll(ctx)
	if err != nil {
		return nil, wrapError("similarity_search", err)
	}

	results := make([]ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		results = append(results, ScoredDocument{
			Document: doc,
			Score:    s.similarityFn(query, doc.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// GetDocument fetches one document by id
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_document", ErrStoreClosed)
	}

	var doc Document
	var metadataJSON string
	var vectorBytes []byte

	err := s.pools.With(s.poolName, true, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `
			SELECT id, content, metadata, embedding, created_at
			FROM documents WHERE id = ?
		`, id).Scan(&doc.ID, &doc.Content, &metadataJSON, &vectorBytes, &doc.CreatedAt)
	})
	if err == sql.ErrNoRows {
		return nil, wrapError("get_document", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_document", err)
	}

	doc.Embedding, err = encoding.DecodeVector(vectorBytes)
	if err != nil {
		return nil, wrapError("get_document", err)
	}
	doc.Metadata, _ = encoding.DecodeMetadata(metadataJSON)

	return &doc, nil
}

// GetAllDocuments returns every stored document in creation order
func (s *Store) GetAllDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get_all_documents", ErrStoreClosed)
	}

	docs, err := s.fetchAll(ctx)
	if err != nil {
		return nil, wrapError("get_all_documents", err)
	}
	return docs, nil
}

// fetchAll loads every row. Rows with undecodable vectors are skipped so a
// single corrupt row cannot poison a whole scan.
func (s *Store) fetchAll(ctx context.Context) ([]Document, error) {
	var docs []Document

	err := s.pools.With(s.poolName, true, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, content, metadata, embedding, created_at
			FROM documents ORDER BY created_at, id
		`)
		if err != nil {
			return fmt.Errorf("failed to query documents: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var doc Document
			var metadataJSON string
			var vectorBytes []byte

			if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &vectorBytes, &doc.CreatedAt); err != nil {
				continue
			}

			doc.Embedding, err = encoding.DecodeVector(vectorBytes)
			if err != nil {
				s.logger.Warn("skipping document with undecodable vector", "id", doc.ID)
				continue
			}
			doc.Metadata, _ = encoding.DecodeMetadata(metadataJSON)

			docs = append(docs, doc)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

// DeleteDocument removes one document by id
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("delete_document", ErrStoreClosed)
	}
	if id == "" {
		return wrapError("delete_document", fmt.Errorf("id cannot be empty"))
	}

	var affected int64
	err := s.pools.With(s.poolName, false, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return wrapError("delete_document", fmt.Errorf("failed to delete document: %w", err))
	}
	if affected == 0 {
		return wrapError("delete_document", ErrNotFound)
	}

	return nil
}

// ClearAll removes every document
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("clear_all", ErrStoreClosed)
	}

	err := s.pools.With(s.poolName, false, func(db *sql.DB) error {
		_, execErr := db.ExecContext(ctx, "DELETE FROM documents")
		return execErr
	})
	if err != nil {
		return wrapError("clear_all", err)
	}

	return nil
}

// Stats returns the document count and configured dimension
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, wrapError("stats", ErrStoreClosed)
	}

	st := Stats{Dimension: s.dim}
	err := s.pools.With(s.poolName, true, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&st.Documents)
	})
	if err != nil {
		return Stats{}, wrapError("stats", err)
	}

	return st, nil
}

// Close marks the store closed. The pool owns the connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
