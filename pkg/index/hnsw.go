// Package index provides the in-memory approximate nearest neighbor graph.
//
// The graph is a Hierarchical Navigable Small World (HNSW) structure keyed by
// dense uint32 ids. Nodes live in an arena slice indexed by id; id allocation
// and the mapping back to document ids belong to the caller (pkg/ann). The
// graph itself cannot remove points: deletion is handled above this layer by
// tombstoning ids and rebuilding.
package index

import (
	"container/heap"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Node is one graph node. Fields are exported for gob serialization.
type Node struct {
	Vector    []float32
	Level     int
	Neighbors [][]uint32 // Neighbors at each level
}

// HNSW implements a Hierarchical Navigable Small World index over dense ids
type HNSW struct {
	// Parameters
	M              int     // Max number of bi-directional links per node
	MaxM           int     // Max number of links for layer 0
	EfConstruction int     // Size of dynamic candidate list during build
	ML             float64 // Level assignment probability

	// Arena: nodes indexed by dense id, nil for never-inserted slots
	nodes      []*Node
	entryPoint uint32
	hasEntry   bool
	count      int

	distFunc func(a, b []float32) float32

	mu  sync.RWMutex
	rng *rand.Rand
}

// NewHNSW creates a new HNSW index
func NewHNSW(m, efConstruction int, distFunc func(a, b []float32) float32) *HNSW {
	if m <= 0 {
		m = 16
	}
	if efConstruction <= 0 {
		efConstruction = 200
	}
	if distFunc == nil {
		distFunc = CosineDistance
	}

	return &HNSW{
		M:              m,
		MaxM:           m * 2, // MaxM = 2*M for layer 0
		EfConstruction: efConstruction,
		ML:             1.0 / math.Log(2.0),
		distFunc:       distFunc,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// selectLevel randomly selects the level for a new node
func (h *HNSW) selectLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 {
		level++
		if level > 16 { // Cap at reasonable maximum
			break
		}
	}
	return level
}

// Insert adds a new vector under a caller-assigned dense id
func (h *HNSW) Insert(id uint32, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for int(id) >= len(h.nodes) {
		h.nodes = append(h.nodes, nil)
	}
	if h.nodes[id] != nil {
		return fmt.Errorf("node %d already exists", id)
	}

	level := h.selectLevel()
	node := &Node{
		Vector:    vector,
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	for i := 0; i <= level; i++ {
		node.Neighbors[i] = make([]uint32, 0)
	}

	h.nodes[id] = node
	h.count++

	if !h.hasEntry {
		h.entryPoint = id
		h.hasEntry = true
		return nil
	}

	// Greedy descent from the entry point down to the insertion level
	currNearest := []uint32{h.entryPoint}
	entryNode := h.nodes[h.entryPoint]
	for lc := entryNode.Level; lc > level; lc-- {
		currNearest = h.searchLayerClosest(vector, currNearest, 1, lc)
	}

	// Link into every layer from level down to 0
	for lc := level; lc >= 0; lc-- {
		maxConn := h.M
		if lc == 0 {
			maxConn = h.MaxM
		}

		candidates := h.searchLayer(vector, currNearest, h.EfConstruction, lc)
		neighbors := h.selectNeighbors(vector, candidates, maxConn)

		node.Neighbors[lc] = neighbors
		for _, neighbor := range neighbors {
			h.addConnection(neighbor, id, lc)

			neighborNode := h.nodes[neighbor]
			if lc < len(neighborNode.Neighbors) && len(neighborNode.Neighbors[lc]) > maxConn {
				neighborNode.Neighbors[lc] = h.selectNeighbors(
					neighborNode.Vector,
					neighborNode.Neighbors[lc],
					maxConn,
				)
			}
		}

		currNearest = neighbors
	}

	if level > h.nodes[h.entryPoint].Level {
		h.entryPoint = id
	}

	return nil
}

// searchLayer performs a greedy beam search in one layer
func (h *HNSW) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []uint32 {
	visited := make(map[uint32]bool)
	candidates := &distHeap{}
	dynamicList := &distHeap{} // negated distances, acts as a max heap

	for _, point := range entryPoints {
		if h.nodes[point] == nil {
			continue
		}
		dist := h.distFunc(query, h.nodes[point].Vector)
		heap.Push(candidates, &heapItem{id: point, dist: dist})
		heap.Push(dynamicList, &heapItem{id: point, dist: -dist})
		visited[point] = true
	}

	for candidates.Len() > 0 {
		if dynamicList.Len() > 0 {
			lowerBound := (*candidates)[0].dist
			if lowerBound > -(*dynamicList)[0].dist {
				break
			}
		}

		current := heap.Pop(candidates).(*heapItem)
		currentNode := h.nodes[current.id]

		if layer >= len(currentNode.Neighbors) {
			continue
		}

		for _, neighbor := range currentNode.Neighbors[layer] {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true

			if h.nodes[neighbor] == nil {
				continue
			}
			dist := h.distFunc(query, h.nodes[neighbor].Vector)

			if dynamicList.Len() < ef || dist < -(*dynamicList)[0].dist {
				heap.Push(candidates, &heapItem{id: neighbor, dist: dist})
				heap.Push(dynamicList, &heapItem{id: neighbor, dist: -dist})

				if dynamicList.Len() > ef {
					heap.Pop(dynamicList)
				}
			}
		}
	}

	result := make([]uint32, 0, dynamicList.Len())
	for dynamicList.Len() > 0 {
		item := heap.Pop(dynamicList).(*heapItem)
		result = append(result, item.id)
	}

	// Reverse so the closest come first
	for i := 0; i < len(result)/2; i++ {
		result[i], result[len(result)-1-i] = result[len(result)-1-i], result[i]
	}

	return result
}

// searchLayerClosest finds the closest points in one layer
func (h *HNSW) searchLayerClosest(query []float32, entryPoints []uint32, num, layer int) []uint32 {
	candidates := h.searchLayer(query, entryPoints, num, layer)
	if len(candidates) > num {
		return candidates[:num]
	}
	return candidates
}

// selectNeighbors keeps the m closest candidates
func (h *HNSW) selectNeighbors(query []float32, candidates []uint32, m int) []uint32 {
	if len(candidates) <= m {
		return candidates
	}

	type distPair struct {
		id   uint32
		dist float32
	}

	pairs := make([]distPair, 0, len(candidates))
	for _, candidate := range candidates {
		if h.nodes[candidate] == nil {
			continue
		}
		pairs = append(pairs, distPair{
			id:   candidate,
			dist: h.distFunc(query, h.nodes[candidate].Vector),
		})
	}

	for i := 0; i < len(pairs)-1; i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].dist < pairs[i].dist {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}

	result := make([]uint32, 0, m)
	for i := 0; i < m && i < len(pairs); i++ {
		result = append(result, pairs[i].id)
	}
	return result
}

// addConnection adds a one-way link between two nodes
func (h *HNSW) addConnection(from, to uint32, layer int) {
	fromNode := h.nodes[from]
	if fromNode == nil || layer >= len(fromNode.Neighbors) {
		return
	}

	for _, neighbor := range fromNode.Neighbors[layer] {
		if neighbor == to {
			return
		}
	}

	fromNode.Neighbors[layer] = append(fromNode.Neighbors[layer], to)
}

// Search performs k-NN search and returns ids with their distances,
// closest first.
func (h *HNSW) Search(query []float32, k, ef int) ([]uint32, []float32) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return []uint32{}, []float32{}
	}
	if ef < k {
		ef = k * 2
	}

	entryNode := h.nodes[h.entryPoint]
	currNearest := []uint32{h.entryPoint}

	for layer := entryNode.Level; layer > 0; layer-- {
		currNearest = h.searchLayerClosest(query, currNearest, 1, layer)
	}

	candidates := h.searchLayer(query, currNearest, ef, 0)

	type result struct {
		id   uint32
		dist float32
	}

	results := make([]result, 0, len(candidates))
	for _, candidate := range candidates {
		if h.nodes[candidate] == nil {
			continue
		}
		results = append(results, result{
			id:   candidate,
			dist: h.distFunc(query, h.nodes[candidate].Vector),
		})
	}

	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].dist < results[i].dist {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	limit := k
	if limit > len(results) {
		limit = len(results)
	}

	ids := make([]uint32, limit)
	distances := make([]float32, limit)
	for i := 0; i < limit; i++ {
		ids[i] = results[i].id
		distances[i] = results[i].dist
	}

	return ids, distances
}

// Len returns the number of nodes in the index
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// snapshot is the gob wire format for Save/Load
type snapshot struct {
	M              int
	EfConstruction int
	EntryPoint     uint32
	HasEntry       bool
	Nodes          []*Node
}

// Save serializes the index to a writer
func (h *HNSW) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return gob.NewEncoder(w).Encode(snapshot{
		M:              h.M,
		EfConstruction: h.EfConstruction,
		EntryPoint:     h.entryPoint,
		HasEntry:       h.hasEntry,
		Nodes:          h.nodes,
	})
}

// Load deserializes the index from a reader, replacing the current contents
func (h *HNSW) Load(r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}

	h.M = snap.M
	h.MaxM = snap.M * 2
	h.ML = 1.0 / math.Log(2.0)
	h.EfConstruction = snap.EfConstruction
	h.entryPoint = snap.EntryPoint
	h.hasEntry = snap.HasEntry
	h.nodes = snap.Nodes

	h.count = 0
	for _, n := range h.nodes {
		if n != nil {
			h.count++
		}
	}

	return nil
}

// Stats returns index statistics
func (h *HNSW) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalEdges := 0
	maxLevel := 0
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		if node.Level > maxLevel {
			maxLevel = node.Level
		}
		for _, neighbors := range node.Neighbors {
			totalEdges += len(neighbors)
		}
	}

	avgEdges := float64(0)
	if h.count > 0 {
		avgEdges = float64(totalEdges) / float64(h.count)
	}

	return map[string]any{
		"nodes":              h.count,
		"total_edges":        totalEdges,
		"avg_edges_per_node": avgEdges,
		"max_level":          maxLevel,
		"m":                  h.M,
		"ef_construction":    h.EfConstruction,
	}
}

// heapItem for the search priority queues
type heapItem struct {
	id   uint32
	dist float32
}

// distHeap implements heap.Interface
type distHeap []*heapItem

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *distHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// CosineDistance computes cosine distance (1 - cosine similarity)
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1.0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - similarity
}

// EuclideanDistance computes Euclidean distance
func EuclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return float32(math.Sqrt(float64(sum)))
}
