// Package embedding maps turn text to fixed-dimension vectors. The core only
// depends on the Embedder interface; concrete backends live here.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingFailure wraps any failure of an embedding backend.
var ErrEmbeddingFailure = errors.New("embedding failed")

// Embedder is a pure text → vector function with a stable dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
	Name() string
}

// checkDims verifies a backend honored its declared dimensionality.
func checkDims(name string, want int, v []float64) error {
	if len(v) != want {
		return fmt.Errorf("%w: %s returned %d dims, want %d", ErrEmbeddingFailure, name, len(v), want)
	}
	return nil
}
