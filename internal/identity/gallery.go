// Package identity matches face embeddings against a gallery of known
// identities loaded from an Immich-style database.
package identity

import "math"

// Identity is one gallery entry: a named person with one enrolled embedding
// per face sample, each with an optional confidence weight. Immutable after
// load; a refresh replaces the whole gallery.
type Identity struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Embeddings  [][]float32 `json:"embeddings"`
	Confidences []float64   `json:"confidences"`
}

// Gallery is an immutable snapshot of all known identities
type Gallery struct {
	Identities []Identity `json:"identities"`
}

// Size returns the number of identities in the gallery
func (g *Gallery) Size() int {
	if g == nil {
		return 0
	}
	return len(g.Identities)
}

// EmbeddingCount returns the total number of enrolled embeddings
func (g *Gallery) EmbeddingCount() int {
	if g == nil {
		return 0
	}
	total := 0
	for _, id := range g.Identities {
		total += len(id.Embeddings)
	}
	return total
}

// Normalize returns a unit-length copy of v. Near-zero vectors are returned
// unchanged rather than divided by zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm < 1e-9 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// dot computes the inner product of two equal-length vectors
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
