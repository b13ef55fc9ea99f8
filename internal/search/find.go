package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/recall/internal/keyword"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
)

// DefaultFindLimit is used when Find is called without a positive limit.
const DefaultFindLimit = 20

// ErrEmptyQuery is returned by Find for a blank query.
var ErrEmptyQuery = errors.New("query is required")

// Finder looks messages up by the words they contain. It is independent of Answer, which
// retrieves by meaning.
type Finder struct {
	keywords keyword.KeywordIndex
	storage  storage.Storage
}

// NewFinder creates a finder over a keyword index and the message store.
func NewFinder(keywords keyword.KeywordIndex, storage storage.Storage) *Finder {
	return &Finder{keywords: keywords, storage: storage}
}

// Find returns stored messages matching query, best first. Hits whose message is no longer
// stored are dropped.
func (f *Finder) Find(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) (*models.FindResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	start := time.Now()

	hits, err := f.keywords.Search(ctx, query, limit, opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	results := make([]*models.MessageMatch, 0, len(hits))
	for _, hit := range hits {
		msg, err := f.storage.GetMessage(ctx, hit.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load message %s: %w", hit.ID, err)
		}
		results = append(results, &models.MessageMatch{Message: msg, Score: hit.Score})
	}
	return &models.FindResponse{
		Query:     query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}
