// Package ann wraps the exact vector store with a persistent HNSW graph for
// approximate O(log n) similarity search.
//
// The vector store is always the source of truth: every write lands there
// first, and any graph failure downgrades that one query to an exact scan.
// The graph cannot remove points, so deletions tombstone the dense id; the
// tombstone set is consulted at query time and compacted by RebuildIndex.
//
// Persistence is a gob graph file plus a JSON sidecar (<path>.meta) holding
// the dense-id arena. The document-id lookup table is re-derived from the
// arena on load so the two structures cannot drift apart.
package ann

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/liliang-cn/agentstore/internal/logging"
	"github.com/liliang-cn/agentstore/pkg/index"
	"github.com/liliang-cn/agentstore/pkg/vector"
)

// Config configures the approximate index
type Config struct {
	GraphPath      string // Graph file path; sidecar is GraphPath + ".meta"
	M              int    // HNSW node degree
	EfConstruction int    // HNSW construction search width
	EfSearch       int    // HNSW query search width
	PersistEvery   int    // Flush graph + sidecar every N insertions
}

// DefaultConfig returns the standard index parameters
func DefaultConfig(graphPath string) Config {
	return Config{
		GraphPath:      graphPath,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		PersistEvery:   100,
	}
}

// Stats reports the operational state of the accelerator
type Stats struct {
	Enabled    bool `json:"enabled"`
	Points     int  `json:"points"`
	Tombstones int  `json:"tombstones"`
}

// metaFile is the JSON sidecar format. Slots is the dense-id arena: index is
// the graph id, value is the document id ("" for tombstoned slots).
type metaFile struct {
	NextID     uint32   `json:"next_id"`
	Slots      []string `json:"slots"`
	Tombstones []uint32 `json:"tombstones"`
}

// Index is the approximate searcher wrapping a vector.Store
type Index struct {
	store  *vector.Store
	cfg    Config
	logger logging.Logger

	mu         sync.Mutex
	graph      *index.HNSW
	slots      []string
	lookup     map[string]uint32
	tombstones map[uint32]struct{}
	nextID     uint32
	sinceFlush int
	closed     bool
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the index logger
func WithLogger(l logging.Logger) Option {
	return func(ix *Index) {
		ix.logger = l
	}
}

// New creates the approximate index. Call Open before use.
func New(store *vector.Store, cfg Config, opts ...Option) (*Index, error) {
	if store == nil {
		return nil, wrapError("new", fmt.Errorf("%w: vector store is required", ErrInvalidConfig))
	}
	if cfg.GraphPath == "" {
		return nil, wrapError("new", fmt.Errorf("%w: graph path is required", ErrInvalidConfig))
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 100
	}

	ix := &Index{
		store:      store,
		cfg:        cfg,
		logger:     logging.Nop(),
		graph:      index.NewHNSW(cfg.M, cfg.EfConstruction, index.CosineDistance),
		lookup:     make(map[string]uint32),
		tombstones: make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}

	return ix, nil
}

// Open loads the persisted graph and sidecar, or rebuilds from the vector
// store when they are missing or inconsistent.
func (ix *Index) Open(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return wrapError("open", ErrIndexClosed)
	}

	if err := ix.loadLocked(); err != nil {
		ix.logger.Warn("index load failed, rebuilding from store", "error", err)
		return ix.rebuildLocked(ctx)
	}

	if ix.graph.Len() == 0 {
		return ix.rebuildLocked(ctx)
	}
	return nil
}

// loadLocked reads the graph file and sidecar and checks their consistency
func (ix *Index) loadLocked() error {
	graphFile, err := os.Open(ix.cfg.GraphPath)
	if err != nil {
		return err
	}
	defer func() { _ = graphFile.Close() }()

	metaBytes, err := os.ReadFile(ix.cfg.GraphPath + ".meta")
	if err != nil {
		return err
	}

	var meta metaFile
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSidecar, err)
	}

	graph := index.NewHNSW(ix.cfg.M, ix.cfg.EfConstruction, index.CosineDistance)
	if err := graph.Load(graphFile); err != nil {
		return err
	}

	live := 0
	for _, docID := range meta.Slots {
		if docID != "" {
			live++
		}
	}
	if live+len(meta.Tombstones) != graph.Len() {
		return fmt.Errorf("%w: %d live slots + %d tombstones != %d graph nodes",
			ErrCorruptSidecar, live, len(meta.Tombstones), graph.Len())
	}

	lookup := make(map[string]uint32, live)
	for id, docID := range meta.Slots {
		if docID != "" {
			lookup[docID] = uint32(id)
		}
	}
	tombstones := make(map[uint32]struct{}, len(meta.Tombstones))
	for _, id := range meta.Tombstones {
		tombstones[id] = struct{}{}
	}

	ix.graph = graph
	ix.slots = meta.Slots
	ix.lookup = lookup
	ix.tombstones = tombstones
	ix.nextID = meta.NextID

	ix.logger.Info("index loaded", "points", live, "tombstones", len(tombstones))
	return nil
}

// persistLocked writes the graph file and sidecar
func (ix *Index) persistLocked() error {
	graphFile, err := os.Create(ix.cfg.GraphPath)
	if err != nil {
		return err
	}
	if err := ix.graph.Save(graphFile); err != nil {
		_ = graphFile.Close()
		return err
	}
	if err := graphFile.Close(); err != nil {
		return err
	}

	meta := metaFile{
		NextID:     ix.nextID,
		Slots:      ix.slots,
		Tombstones: make([]uint32, 0, len(ix.tombstones)),
	}
	for id := range ix.tombstones {
		meta.Tombstones = append(meta.Tombstones, id)
	}
	sort.Slice(meta.Tombstones, func(i, j int) bool { return meta.Tombstones[i] < meta.Tombstones[j] })

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ix.cfg.GraphPath+".meta", metaBytes, 0o644); err != nil {
		return err
	}

	ix.sinceFlush = 0
	return nil
}

// allocLocked assigns the next dense id for a document. Ids are monotonic
// and never reused within a process lifetime.
func (ix *Index) allocLocked(docID string) uint32 {
	id := ix.nextID
	ix.nextID++
	for int(id) >= len(ix.slots) {
		ix.slots = append(ix.slots, "")
	}
	ix.slots[id] = docID
	ix.lookup[docID] = id
	return id
}

// AddDocument writes to the vector store first, then mirrors the vector into
// the graph under a freshly allocated dense id.
func (ix *Index) AddDocument(ctx context.Context, content string, embedding []float32, metadata map[string]any) (string, error) {
	docID, err := ix.store.AddDocument(ctx, content, embedding, metadata)
	if err != nil {
		return "", err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return docID, nil
	}

	id := ix.allocLocked(docID)
	if err := ix.graph.Insert(id, embedding); err != nil {
		// The row is durable; the graph will pick it up on the next rebuild.
		ix.logger.Warn("graph insert failed", "doc", docID, "error", err)
		return docID, nil
	}

	ix.sinceFlush++
	if ix.sinceFlush >= ix.cfg.PersistEvery {
		if err := ix.persistLocked(); err != nil {
			ix.logger.Warn("index persist failed", "error", err)
		}
	}

	return docID, nil
}

// AddDocuments batches the store write, then mirrors each vector
func (ix *Index) AddDocuments(ctx context.Context, inputs []vector.Input) ([]string, error) {
	docIDs, err := ix.store.AddDocuments(ctx, inputs)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return docIDs, nil
	}

	for i, docID := range docIDs {
		id := ix.allocLocked(docID)
		if err := ix.graph.Insert(id, inputs[i].Embedding); err != nil {
			ix.logger.Warn("graph insert failed", "doc", docID, "error", err)
			continue
		}
		ix.sinceFlush++
	}

	if ix.sinceFlush >= ix.cfg.PersistEvery {
		if err := ix.persistLocked(); err != nil {
			ix.logger.Warn("index persist failed", "error", err)
		}
	}

	return docIDs, nil
}

// SimilaritySearch queries the graph and hydrates results from the store,
// falling back to the exact scan whenever the graph cannot answer.
func (ix *Index) SimilaritySearch(ctx context.Context, query []float32, k int) ([]vector.ScoredDocument, error) {
	if k <= 0 {
		k = 10
	}

	results, err := ix.searchGraph(ctx, query, k)
	if err != nil {
		ix.logger.Warn("approximate search failed, falling back to exact", "error", err)
		return ix.store.SimilaritySearch(ctx, query, k)
	}
	if results == nil {
		// Empty graph: the exact scan is authoritative.
		return ix.store.SimilaritySearch(ctx, query, k)
	}

	return results, nil
}

func (ix *Index) searchGraph(ctx context.Context, query []float32, k int) ([]vector.ScoredDocument, error) {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil, ErrIndexClosed
	}
	if ix.graph.Len() == 0 {
		ix.mu.Unlock()
		return nil, nil
	}

	// Overfetch so tombstoned hits can be filtered without starving k.
	fetch := k + len(ix.tombstones)
	ids, _ := ix.graph.Search(query, fetch, ix.cfg.EfSearch)

	docIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dead := ix.tombstones[id]; dead {
			continue
		}
		if int(id) < len(ix.slots) && ix.slots[id] != "" {
			docIDs = append(docIDs, ix.slots[id])
		}
	}
	ix.mu.Unlock()

	if len(docIDs) == 0 {
		return nil, nil
	}

	results := make([]vector.ScoredDocument, 0, len(docIDs))
	for _, docID := range docIDs {
		doc, err := ix.store.GetDocument(ctx, docID)
		if err != nil {
			// Row deleted between graph answer and fetch: stale hit, skip it.
			continue
		}
		results = append(results, vector.ScoredDocument{
			Document: *doc,
			Score:    vector.CosineSimilarity(query, doc.Embedding),
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

// DeleteDocument removes the row and the id mapping. The graph node itself
// stays behind as a tombstone until the next RebuildIndex.
func (ix *Index) DeleteDocument(ctx context.Context, docID string) error {
	if err := ix.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if id, ok := ix.lookup[docID]; ok {
		delete(ix.lookup, docID)
		ix.slots[id] = ""
		ix.tombstones[id] = struct{}{}
	}

	return nil
}

// ClearAll empties the store and resets the graph and all mapping state
func (ix *Index) ClearAll(ctx context.Context) error {
	if err := ix.store.ClearAll(ctx); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.graph = index.NewHNSW(ix.cfg.M, ix.cfg.EfConstruction, index.CosineDistance)
	ix.slots = nil
	ix.lookup = make(map[string]uint32)
	ix.tombstones = make(map[uint32]struct{})
	ix.nextID = 0

	if err := ix.persistLocked(); err != nil {
		return wrapError("clear_all", err)
	}
	return nil
}

// RebuildIndex reconstructs the graph and the id arena from a full scan of
// the vector store, dropping every tombstone, then persists the result.
func (ix *Index) RebuildIndex(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return wrapError("rebuild_index", ErrIndexClosed)
	}
	return ix.rebuildLocked(ctx)
}

func (ix *Index) rebuildLocked(ctx context.Context) error {
	docs, err := ix.store.GetAllDocuments(ctx)
	if err != nil {
		return wrapError("rebuild_index", err)
	}

	graph := index.NewHNSW(ix.cfg.M, ix.cfg.EfConstruction, index.CosineDistance)
	slots := make([]string, 0, len(docs))
	lookup := make(map[string]uint32, len(docs))

	for i, doc := range docs {
		id := uint32(i)
		if err := graph.Insert(id, doc.Embedding); err != nil {
			return wrapError("rebuild_index", err)
		}
		slots = append(slots, doc.ID)
		lookup[doc.ID] = id
	}

	ix.graph = graph
	ix.slots = slots
	ix.lookup = lookup
	ix.tombstones = make(map[uint32]struct{})
	ix.nextID = uint32(len(docs))

	if err := ix.persistLocked(); err != nil {
		return wrapError("rebuild_index", err)
	}

	ix.logger.Info("index rebuilt", "points", len(docs))
	return nil
}

// Stats exposes whether the accelerator is active and its point count
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return Stats{
		Enabled:    !ix.closed,
		Points:     ix.graph.Len() - len(ix.tombstones),
		Tombstones: len(ix.tombstones),
	}
}

// Close persists the graph and marks the index closed
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true

	if err := ix.persistLocked(); err != nil {
		return wrapError("close", err)
	}
	return nil
}
