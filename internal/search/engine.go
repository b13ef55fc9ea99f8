// Package search answers questions from the indexed message history.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/llm"
	"github.com/hyperjump/recall/internal/metrics"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/hyperjump/recall/pkg/utils"
	"go.uber.org/zap"
)

// Errors returned by BuildPrompt. Each maps to a fixed reply via Reply.
var (
	ErrQuestionFailed = errors.New("question could not be embedded")
	ErrNoRelevantInfo = errors.New("no related messages found")
	ErrUnreadableRefs = errors.New("related messages could not be read")
)

// Reply returns the fixed user-facing message for a BuildPrompt error.
func Reply(err error) string {
	switch {
	case errors.Is(err, ErrNoRelevantInfo):
		return MsgNoRelevantInfo
	case errors.Is(err, ErrUnreadableRefs):
		return MsgUnreadableRefs
	default:
		return MsgQuestionFailed
	}
}

// Engine runs retrieval-augmented question answering.
type Engine struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	vectorIndex vector.VectorIndex
	generator   llm.Generator
	topK        int
	maxChars    int
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records answer outcomes in c.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine creates an engine with the given dependencies. A nil cfg uses the defaults.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	generator llm.Generator,
	cfg *config.RAGConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:     storage,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		generator:   generator,
		topK:        config.DefaultTopK,
		maxChars:    config.DefaultMaxContextChars,
		logger:      zap.NewNop(),
	}
	if cfg != nil {
		if cfg.TopK > 0 {
			e.topK = cfg.TopK
		}
		e.maxChars = cfg.MaxContextChars
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildPrompt embeds the question, retrieves the closest messages and assembles the
// generator prompt. On failure it returns ErrQuestionFailed, ErrNoRelevantInfo or
// ErrUnreadableRefs.
func (e *Engine) BuildPrompt(ctx context.Context, question string) (*Prompt, error) {
	vec, err := e.embedder.Embed(ctx, question)
	if err != nil || len(vec) == 0 {
		e.logger.Warn("could not embed question", zap.Error(err))
		return nil, ErrQuestionFailed
	}

	ids, err := e.vectorIndex.SearchIDs(ctx, vec, e.topK)
	if err != nil {
		e.logger.Warn("vector search failed", zap.Error(err))
		return nil, ErrQuestionFailed
	}
	if len(ids) == 0 {
		return nil, ErrNoRelevantInfo
	}

	cb := newContextBuilder(e.maxChars)
	used := make([]string, 0, len(ids))
	for _, id := range ids {
		text, err := e.storage.GetMessageContent(ctx, id)
		if err != nil {
			e.logger.Warn("could not read message", zap.String("id", id), zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		if !cb.add(text) {
			e.logger.Debug("context budget reached",
				zap.Int("kept", cb.len()), zap.Int("candidates", len(ids)))
			break
		}
		used = append(used, id)
	}
	if cb.len() == 0 {
		return nil, ErrUnreadableRefs
	}

	return &Prompt{
		System: SystemPrompt,
		User:   userPrompt(cb.String(), question),
		IDs:    used,
	}, nil
}

// Answer returns a grounded answer to question, or one of the fixed Msg* replies.
func (e *Engine) Answer(ctx context.Context, question string) string {
	start := time.Now()
	prompt, err := e.BuildPrompt(ctx, question)
	if err != nil {
		e.metrics.Answered(outcomeFor(err), time.Since(start))
		return Reply(err)
	}

	answer, err := e.generator.Chat(ctx, prompt.System, prompt.User)
	if err != nil || answer == "" {
		e.logger.Warn("generation failed",
			zap.String("question", utils.Truncate(question, 80)), zap.Error(err))
		e.metrics.Answered(metrics.AnswerGenerationFailed, time.Since(start))
		return MsgGenerationFailed
	}
	e.logger.Debug("answered",
		zap.Int("context_messages", len(prompt.IDs)),
		zap.Duration("took", time.Since(start)))
	e.metrics.Answered(metrics.AnswerOK, time.Since(start))
	return answer
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNoRelevantInfo):
		return metrics.AnswerNoResults
	case errors.Is(err, ErrUnreadableRefs):
		return metrics.AnswerUnreadable
	default:
		return metrics.AnswerEmbedFailed
	}
}
