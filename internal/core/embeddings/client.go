// Package embeddings provides the vector-embedding client used for opener
// clustering.
package embeddings

import (
	"context"
	"errors"
)

// Dimensions of the embedding vectors stored in the database.
const Dimensions = 1536

// ErrEmptyResponse indicates the provider returned no vectors.
var ErrEmptyResponse = errors.New("empty embedding response")

// ErrDimensionMismatch indicates a vector of an unexpected size.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Client turns texts into embedding vectors. EmbedBatch preserves input
// order: result[i] is the vector for texts[i].
type Client interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
