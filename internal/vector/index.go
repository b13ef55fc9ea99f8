// Package vector provides the in-process nearest-neighbor index used for message retrieval.
package vector

import "context"

// VectorIndex stores fixed-dimension vectors under append-only slot ids and maps each slot
// to the external message id it was added with.
type VectorIndex interface {
	AddWithExternalID(ctx context.Context, externalID string, vector []float32) (int64, error)
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	SearchIDs(ctx context.Context, query []float32, k int) ([]string, error)
	HasExternalID(externalID string) bool
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// VectorResult is a single search hit. Lower Distance is closer.
type VectorResult struct {
	SlotID   int64
	ID       string
	Distance float64 // squared Euclidean distance
}
