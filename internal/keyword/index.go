// Package keyword provides word lookup over stored messages.
package keyword

import (
	"context"

	"github.com/hyperjump/recall/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits, for typos.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default is 2.
	Fuzziness int
	// ChatJID restricts results to one chat when set.
	ChatJID string
}

// KeywordIndex defines keyword search operations over messages.
type KeywordIndex interface {
	Index(ctx context.Context, msg *models.Message) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of messages in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
