package core

import "math"

// ZeroVector returns the "no embedding available" sentinel of the given dimension.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// IsZeroVector reports whether every component of v is zero.
// An empty vector counts as zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero vectors and mismatched dimensions yield 0, never a spurious match.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// ClampUnit limits a similarity score to [0,1].
func ClampUnit(x float32) float32 {
	if x < 0 || math.IsNaN(float64(x)) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float32
	for _, val := range v {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}
