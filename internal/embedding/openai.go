package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIEmbedder embeds text through an OpenAI-compatible /embeddings endpoint (Ollama, OpenAI, ...).
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithTimeout bounds each embedding request.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.logger = l
	}
}

// NewOpenAIEmbedder creates an embedder using client and model. dimensions is the expected
// vector length; responses of another length are rejected.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
		timeout:    10 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("embedding model %s returned %d dimensions, expected %d", e.model, len(vec), e.dimensions)
	}
	e.logger.Debug("embedded text",
		zap.String("model", e.model),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(start)))
	return vec, nil
}

// Dimensions returns the expected embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client is shared.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
