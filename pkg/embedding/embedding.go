// Package embedding provides the Embedder contract (spec §4.2): text to
// fixed-dimension vector, batched, with graceful per-call degradation.
package embedding

import (
	"context"
	"math"
)

// Embedder converts text into fixed-dimension vectors for similarity
// search. Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding for a single text, or nil if the
	// embedder is unavailable or the call failed — per-call failures
	// degrade, they never propagate as a fatal error (spec §4.2).
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch embeds multiple texts in one round trip where the
	// underlying provider supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// VersionKey identifies the embedding model in use (the dimension is
	// not part of it), so Store can detect a model change across restarts
	// and trigger a reindex.
	VersionKey() string

	// Dimension is the fixed vector length D this embedder produces.
	Dimension() int
}

// Similarity computes cosine similarity between two equal-length vectors.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
