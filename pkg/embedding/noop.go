package embedding

import "context"

// Noop is the default Embedder: always degrades, never errors. It keeps
// the "embedder unavailable" path exercised and testable without network
// access, per spec §4.2's readiness contract.
type Noop struct {
	dimension int
}

// NewNoop constructs a Noop embedder that reports the given dimension so
// Store's vector-dimension validation still has something to compare
// against even with no live embedder configured.
func NewNoop(dimension int) *Noop {
	return &Noop{dimension: dimension}
}

func (n *Noop) Embed(_ context.Context, _ string) ([]float64, error) {
	return nil, nil
}

func (n *Noop) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	return make([][]float64, len(texts)), nil
}

func (n *Noop) VersionKey() string { return "noop" }

func (n *Noop) Dimension() int { return n.dimension }
