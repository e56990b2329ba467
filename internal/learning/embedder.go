package learning

import "context"

// Embedder produces a fixed-width context embedding for pattern storage
// and similarity queries, mirroring the shape of internal/search's
// Embedder so both layers can share one production implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
