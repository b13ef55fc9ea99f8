package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrNoAnswer is returned when the model replies without any content.
var ErrNoAnswer = errors.New("model returned no answer")

// Generator produces a reply for a system and user prompt.
type Generator interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Options tunes chat completions.
type Options struct {
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIGenerator is a Generator backed by the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	opts   Options
	logger *zap.Logger
}

// NewOpenAIGenerator creates a generator. A nil logger disables logging.
func NewOpenAIGenerator(client *openai.Client, opts Options, logger *zap.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &OpenAIGenerator{client: client, opts: opts, logger: logger}
}

// Chat sends one system and one user message and returns the reply text.
func (g *OpenAIGenerator) Chat(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: g.opts.Temperature,
		TopP:        g.opts.TopP,
		MaxTokens:   g.opts.MaxTokens,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoAnswer
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrNoAnswer
	}
	g.logger.Debug("chat completion",
		zap.String("model", g.opts.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)))
	return answer, nil
}
