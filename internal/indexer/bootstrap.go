package indexer

import (
	"context"

	"go.uber.org/zap"
)

// warmLogEvery is how often Warm reports progress.
const warmLogEvery = 5

// WarmStats summarizes a warm run.
type WarmStats struct {
	Loaded  int
	Indexed int
	Known   int
}

// Warm replays up to limit recent stored messages through IndexMessage, newest first.
// Messages the vector index already holds, from a snapshot or a live ingest that ran
// while warming, are counted as Known and not embedded again. Storage errors are logged
// and end the warm early; they are never returned.
func (idx *Indexer) Warm(ctx context.Context, limit int) WarmStats {
	var stats WarmStats
	if idx.storage == nil || limit <= 0 {
		return stats
	}
	msgs, err := idx.storage.ListRecent(ctx, limit)
	if err != nil {
		idx.logger.Error("warm: could not load messages", zap.Error(err))
		return stats
	}
	stats.Loaded = len(msgs)
	idx.logger.Info("warming index", zap.Int("messages", len(msgs)))

	for i, msg := range msgs {
		if ctx.Err() != nil {
			idx.logger.Warn("warm interrupted", zap.Int("processed", i), zap.Error(ctx.Err()))
			return stats
		}
		switch idx.indexMessage(ctx, msg.ID, msg.Content, msg.Sender, true) {
		case Indexed:
			stats.Indexed++
		case Duplicate:
			stats.Known++
		}
		if (i+1)%warmLogEvery == 0 {
			idx.logger.Info("warm progress",
				zap.Int("processed", i+1), zap.Int("total", len(msgs)))
		}
	}
	idx.logger.Info("index warmed",
		zap.Int("loaded", stats.Loaded), zap.Int("indexed", stats.Indexed),
		zap.Int("known", stats.Known))
	return stats
}
