package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/recall/internal/models"
)

const defaultFuzziness = 2

// messageDoc is the indexed form of a message.
type messageDoc struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	ChatJID string `json:"chat_jid"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): chat text is multilingual and
	// English stemming mangles names and non-English words.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("sender", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("chat_jid", keywordFieldMapping)
	im.AddDocumentMapping("message", docMapping)
	im.DefaultType = "message"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index in
// memory. If you change the index mapping in code, remove the index directory to rebuild it.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes msg under its id. Re-indexing an id replaces the previous entry.
func (b *BleveIndex) Index(ctx context.Context, msg *models.Message) error {
	return b.index.Index(msg.ID, messageDoc{
		Content: msg.Content,
		Sender:  msg.Sender,
		ChatJID: msg.ChatJID,
	})
}

// Search matches query against message content and returns up to limit results, best
// first. For multi-term queries, messages that match only some of the terms are pushed
// down by the square of the fraction matched.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	fuzzyEnabled := false
	fuzziness := defaultFuzziness
	chatJID := ""
	if opts != nil {
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		chatJID = opts.ChatJID
	}

	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	// Request extra hits so the coverage re-rank can promote messages past the raw top limit.
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}

	var q blevequery.Query
	if fuzzyEnabled {
		q = buildFuzzyQuery(terms, fuzziness, "content")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		q = mq
	}
	if chatJID != "" {
		tq := bleve.NewTermQuery(chatJID)
		tq.SetField("chat_jid")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.calculateTermCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness)
	}

	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		score := hit.Score
		if len(terms) > 1 {
			matched := coverage[hit.ID]
			if matched == 0 {
				matched = 1
			}
			frac := float64(matched) / float64(len(terms))
			score *= frac * frac
		}
		out = append(out, &KeywordResult{ID: hit.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?¿¡\"'()")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per term, on field.
func buildFuzzyQuery(terms []string, fuzziness int, field string) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// calculateTermCoverage counts how many query terms each message matches.
func (b *BleveIndex) calculateTermCoverage(ctx context.Context, terms []string, reqSize int, fuzzyEnabled bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if fuzzyEnabled {
			q = buildFuzzyQuery([]string{term}, fuzziness, "content")
		} else {
			mq := bleve.NewMatchQuery(term)
			mq.SetField("content")
			q = mq
		}
		req := bleve.NewSearchRequest(q)
		req.Size = reqSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// Delete removes a message from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of messages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
