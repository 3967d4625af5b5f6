package index

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	h := NewHNSW(16, 200, CosineDistance)

	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0.9, 0.1, 0},
	}
	for i, v := range vectors {
		if err := h.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	if h.Len() != 4 {
		t.Errorf("Len = %d, want 4", h.Len())
	}

	ids, dists := h.Search([]float32{1, 0, 0}, 2, 50)
	if len(ids) != 2 {
		t.Fatalf("got %d results, want 2", len(ids))
	}
	if ids[0] != 0 {
		t.Errorf("nearest id: got %d, want 0", ids[0])
	}
	if ids[1] != 3 {
		t.Errorf("second id: got %d, want 3", ids[1])
	}
	if dists[0] > dists[1] {
		t.Error("distances must be ascending")
	}
}

func TestInsertDuplicateID(t *testing.T) {
	h := NewHNSW(16, 200, CosineDistance)

	if err := h.Insert(0, []float32{1, 0}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := h.Insert(0, []float32{0, 1}); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestInsertSparseIDs(t *testing.T) {
	h := NewHNSW(16, 200, CosineDistance)

	// Ids need not be contiguous; the arena grows to fit.
	for _, id := range []uint32{5, 0, 100} {
		if err := h.Insert(id, []float32{float32(id), 1}); err != nil {
			t.Fatalf("Insert %d failed: %v", id, err)
		}
	}
	if h.Len() != 3 {
		t.Errorf("Len = %d, want 3", h.Len())
	}
}

func TestSearchEmpty(t *testing.T) {
	h := NewHNSW(16, 200, CosineDistance)

	ids, dists := h.Search([]float32{1, 0}, 5, 50)
	if len(ids) != 0 || len(dists) != 0 {
		t.Errorf("empty index should return no results, got %d", len(ids))
	}
}

func TestSearchRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := NewHNSW(16, 200, CosineDistance)

	const n = 500
	const dim = 16
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		vectors[i] = randomVector(rng, dim)
		if err := h.Insert(uint32(i), vectors[i]); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	// The approximate top-1 must match the exact top-1 on the vast majority
	// of queries.
	const queries = 100
	hits := 0
	for q := 0; q < queries; q++ {
		query := randomVector(rng, dim)

		best := uint32(0)
		bestDist := float32(math.MaxFloat32)
		for i, v := range vectors {
			if d := CosineDistance(query, v); d < bestDist {
				bestDist = d
				best = uint32(i)
			}
		}

		ids, _ := h.Search(query, 1, 100)
		if len(ids) == 1 && ids[0] == best {
			hits++
		}
	}

	recall := float64(hits) / float64(queries)
	if recall < 0.9 {
		t.Errorf("top-1 recall = %.2f, want >= 0.9", recall)
	}
}

func TestSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := NewHNSW(8, 100, CosineDistance)

	const n = 50
	for i := 0; i < n; i++ {
		if err := h.Insert(uint32(i), randomVector(rng, 8)); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	var buf bytes.Buffer
	if err := h.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewHNSW(8, 100, CosineDistance)
	if err := loaded.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Len() != h.Len() {
		t.Errorf("loaded Len = %d, want %d", loaded.Len(), h.Len())
	}

	// The loaded graph must answer queries identically.
	for q := 0; q < 10; q++ {
		query := randomVector(rng, 8)
		wantIDs, _ := h.Search(query, 5, 50)
		gotIDs, _ := loaded.Search(query, 5, 50)
		if fmt.Sprint(gotIDs) != fmt.Sprint(wantIDs) {
			t.Errorf("query %d: got %v, want %v", q, gotIDs, wantIDs)
		}
	}
}

func TestStats(t *testing.T) {
	h := NewHNSW(16, 200, CosineDistance)
	for i := 0; i < 10; i++ {
		if err := h.Insert(uint32(i), []float32{float32(i), 1}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	stats := h.Stats()
	if stats["nodes"] != 10 {
		t.Errorf("nodes: got %v, want 10", stats["nodes"])
	}
	if stats["m"] != 16 {
		t.Errorf("m: got %v, want 16", stats["m"])
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 1},
		{"dimension mismatch", []float32{1}, []float32{1, 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineDistance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEuclideanDistance(t *testing.T) {
	got := EuclideanDistance([]float32{0, 0}, []float32{3, 4})
	if math.Abs(float64(got)-5) > 1e-6 {
		t.Errorf("EuclideanDistance = %v, want 5", got)
	}
}
