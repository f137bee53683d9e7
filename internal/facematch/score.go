package facematch

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-auth/internal/apperr"
)

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// Score maps the cosine distance of two descriptors onto [0, 1].
// Identical descriptors score exactly 1, opposite ones 0.
func Score(a, b Descriptor) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: length %d does not match %d", apperr.ErrInvalidDescriptor, len(a), len(b))
	}
	if equal(a, b) {
		return 1, nil
	}
	return 1 - CosineDistance(a, b)/2, nil
}

// Validate checks that d has the expected length and is usable for cosine scoring.
func Validate(d Descriptor, length int) error {
	if len(d) != length {
		return fmt.Errorf("%w: expected %d values, got %d", apperr.ErrInvalidDescriptor, length, len(d))
	}
	var norm float64
	for i, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: value %d is not finite", apperr.ErrInvalidDescriptor, i)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", apperr.ErrInvalidDescriptor)
	}
	return nil
}

func equal(a, b Descriptor) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
