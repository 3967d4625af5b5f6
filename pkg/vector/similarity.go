package vector

import "math"

// SimilarityFunc computes a similarity score between two vectors.
// Higher scores mean more similar.
type SimilarityFunc func(a, b []float32) float64

// CosineSimilarity computes dot(a,b) / (|a|*|b|), a score in [-1, 1].
//
// Mismatched dimensions and zero-norm vectors score 0 rather than erroring,
// so one bad row can never abort a whole search.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DotProduct computes the raw dot product of two vectors.
// Mismatched dimensions score 0.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
