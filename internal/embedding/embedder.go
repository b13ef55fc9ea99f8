// Package embedding provides text embedding over an OpenAI-compatible API and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyEmbedding is returned when the backend answers without a vector.
var ErrEmptyEmbedding = errors.New("empty embedding result")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}
