// Package indexer embeds chat messages into the vector index and warms it at startup.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/keyword"
	"github.com/hyperjump/recall/internal/metrics"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/hyperjump/recall/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// MinContentLength is the shortest content, in characters, worth embedding.
const MinContentLength = 2

// Outcome describes what happened to one message.
type Outcome string

// Outcomes of IndexMessage and Ingest. Values match the metric labels.
const (
	Indexed       Outcome = metrics.OutcomeIndexed
	SkippedShort  Outcome = metrics.OutcomeSkippedShort
	EmbedFailed   Outcome = metrics.OutcomeEmbedFailed
	IndexRejected Outcome = metrics.OutcomeIndexRejected
	Cancelled     Outcome = metrics.OutcomeCancelled
	Duplicate     Outcome = metrics.OutcomeDuplicate
)

// Indexer stores messages and adds their embeddings to the vector index.
type Indexer struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	vectorIndex vector.VectorIndex
	// gate admits one ingestion at a time, in arrival order. It is held across the
	// embedding call as well, so the embedding backend never sees concurrent ingestion
	// requests and bursts queue here instead. This backpressure is intentional.
	gate     *semaphore.Weighted
	keywords keyword.KeywordIndex
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithKeywordIndex also adds stored messages to k for word lookup.
func WithKeywordIndex(k keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywords = k }
}

// WithMetrics records ingestion outcomes in c.
func WithMetrics(c *metrics.Collector) IndexerOption {
	return func(idx *Indexer) { idx.metrics = c }
}

// NewIndexer creates an indexer with the given dependencies. storage may be nil when
// only IndexMessage is used.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:     storage,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		gate:        semaphore.NewWeighted(1),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest persists msg and then indexes it. Only a storage failure is returned; the
// message is not indexed in that case. A message whose id is already stored was indexed
// when it first arrived, so it is reported as Duplicate and not embedded again.
func (idx *Indexer) Ingest(ctx context.Context, msg *models.Message) (Outcome, error) {
	if idx.storage == nil {
		return "", errors.New("indexer has no storage")
	}
	inserted, err := idx.storage.SaveMessage(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}
	if !inserted {
		idx.logger.Debug("message already stored", zap.String("id", msg.ID))
		idx.record(Duplicate)
		return Duplicate, nil
	}
	if idx.keywords != nil && msg.Content != "" {
		if err := idx.keywords.Index(ctx, msg); err != nil {
			idx.logger.Warn("keyword index failed", zap.String("id", msg.ID), zap.Error(err))
		}
	}
	return idx.IndexMessage(ctx, msg.ID, msg.Content, msg.Sender), nil
}

// IndexMessage embeds "sender: content" and adds it to the vector index under messageID.
// It never fails from the caller's point of view: every problem is logged, counted and
// reported only through the returned Outcome.
func (idx *Indexer) IndexMessage(ctx context.Context, messageID, content, sender string) Outcome {
	return idx.indexMessage(ctx, messageID, content, sender, false)
}

// indexMessage is IndexMessage. With skipKnown set, a message id the vector index already
// maps is reported as Duplicate without embedding; the check runs under the gate.
func (idx *Indexer) indexMessage(ctx context.Context, messageID, content, sender string, skipKnown bool) Outcome {
	if utf8.RuneCountInString(content) < MinContentLength {
		idx.record(SkippedShort)
		return SkippedShort
	}

	if err := idx.gate.Acquire(ctx, 1); err != nil {
		idx.logger.Warn("ingestion dropped while queued",
			zap.String("id", messageID), zap.Error(err))
		idx.record(Cancelled)
		return Cancelled
	}
	defer idx.gate.Release(1)

	if skipKnown && idx.vectorIndex.HasExternalID(messageID) {
		idx.record(Duplicate)
		return Duplicate
	}

	text := sender + ": " + content
	start := time.Now()
	vec, err := idx.embedder.Embed(ctx, text)
	idx.metrics.ObserveEmbed(time.Since(start))
	if err != nil || len(vec) == 0 {
		idx.logger.Warn("could not embed message",
			zap.String("id", messageID),
			zap.String("text", utils.Truncate(text, 80)),
			zap.Error(err))
		idx.record(EmbedFailed)
		return EmbedFailed
	}

	slot, err := idx.vectorIndex.AddWithExternalID(ctx, messageID, vec)
	if err != nil {
		idx.logger.Warn("vector index rejected message",
			zap.String("id", messageID), zap.Error(err))
		idx.record(IndexRejected)
		return IndexRejected
	}
	idx.logger.Debug("message indexed",
		zap.String("id", messageID), zap.Int64("slot", slot))
	idx.record(Indexed)
	return Indexed
}

func (idx *Indexer) record(o Outcome) {
	idx.metrics.Ingested(string(o))
}
