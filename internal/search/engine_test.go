package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/indexer"
	"github.com/hyperjump/recall/internal/metrics"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator captures the prompts it receives.
type fakeGenerator struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (g *fakeGenerator) Chat(ctx context.Context, system, user string) (string, error) {
	g.calls++
	g.system, g.user = system, user
	return g.reply, g.err
}

// tableEmbedder maps known texts to fixed vectors and fails on anything else.
type tableEmbedder map[string][]float32

func (e tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

func (e tableEmbedder) Dimensions() int { return 2 }
func (e tableEmbedder) Close() error    { return nil }

// mapStore serves message content from a map; ids in failing return an error.
type mapStore struct {
	storage.Storage
	content map[string]string
	failing map[string]bool
}

func (s *mapStore) GetMessageContent(ctx context.Context, id string) (string, error) {
	if s.failing[id] {
		return "", errors.New("disk I/O error")
	}
	return s.content[id], nil
}

type fixture struct {
	store   storage.Storage
	vecs    *vector.MemoryIndex
	ix      *indexer.Indexer
	gen     *fakeGenerator
	engine  *Engine
	metrics *metrics.Collector
}

func newFixture(t *testing.T, cfg *config.RAGConfig) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(16)
	vecs, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)
	gen := &fakeGenerator{reply: "Alice likes blue and red."}
	m := metrics.New(nil)
	return &fixture{
		store:   store,
		vecs:    vecs,
		ix:      indexer.NewIndexer(store, emb, vecs),
		gen:     gen,
		engine:  NewEngine(store, emb, vecs, gen, cfg, WithMetrics(m)),
		metrics: m,
	}
}

func (f *fixture) ingest(t *testing.T, id, content, sender string) {
	t.Helper()
	_, err := f.ix.Ingest(context.Background(), &models.Message{ID: id, ChatJID: "chat", Sender: sender, Content: content})
	require.NoError(t, err)
}

func TestEngine_EmptyHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stats := f.ix.Warm(ctx, 100)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 0, f.vecs.Size())

	assert.Equal(t, MsgNoRelevantInfo, f.engine.Answer(ctx, "hi"))
	assert.Zero(t, f.gen.calls)
	n, err := testutil.GatherAndCount(f.metrics.Registry(), "recall_retrieval_answers_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_GroundsAnswerInBothMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.ingest(t, "m1", "I like blue", "Alice")
	f.ingest(t, "m2", "I like red", "Alice")

	answer := f.engine.Answer(context.Background(), "what color does Alice like")
	assert.Equal(t, "Alice likes blue and red.", answer)
	require.Equal(t, 1, f.gen.calls)
	assert.Equal(t, SystemPrompt, f.gen.system)
	assert.Contains(t, f.gen.user, "- Alice: I like blue\n")
	assert.Contains(t, f.gen.user, "- Alice: I like red\n")
	assert.True(t, strings.HasPrefix(f.gen.user, "Consult the following fragments of my chat history:\n\n### CONTEXT ###\n"))
	assert.True(t, strings.HasSuffix(f.gen.user, "### END CONTEXT ###\n\nBased on the above, answer: what color does Alice like"))
}

func TestEngine_EmptyEmbeddingIngestIsHarmless(t *testing.T) {
	f := newFixture(t, nil)
	emb := tableEmbedder{"Alice: hello": {}}
	ix := indexer.NewIndexer(f.store, emb, f.vecs)

	assert.NotPanics(t, func() {
		out, err := ix.Ingest(context.Background(), &models.Message{ID: "m1", Sender: "Alice", Content: "hello"})
		require.NoError(t, err)
		assert.Equal(t, indexer.EmbedFailed, out)
	})
	assert.Equal(t, 0, f.vecs.Size())
}

func TestEngine_QuestionEmbedFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.ingest(t, "m1", "I like blue", "Alice")
	gen := &fakeGenerator{reply: "x"}
	engine := NewEngine(f.store, tableEmbedder{}, f.vecs, gen, nil)

	assert.Equal(t, MsgQuestionFailed, engine.Answer(context.Background(), "anything"))
	assert.Zero(t, gen.calls)
}

func TestEngine_UnreadableReferences(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	_, _ = vecs.AddWithExternalID(ctx, "gone", []float32{1, 0})
	_, _ = vecs.AddWithExternalID(ctx, "broken", []float32{0, 1})
	store := &mapStore{content: map[string]string{}, failing: map[string]bool{"broken": true}}
	gen := &fakeGenerator{reply: "x"}
	engine := NewEngine(store, emb, vecs, gen, nil)

	assert.Equal(t, MsgUnreadableRefs, engine.Answer(ctx, "q"))
	assert.Zero(t, gen.calls)
}

func TestEngine_StorageErrorIsAMiss(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	_, _ = vecs.AddWithExternalID(ctx, "broken", []float32{0.5, 0})
	_, _ = vecs.AddWithExternalID(ctx, "ok", []float32{1, 0})
	store := &mapStore{content: map[string]string{"ok": "Bob: fine"}, failing: map[string]bool{"broken": true}}
	engine := NewEngine(store, emb, vecs, &fakeGenerator{reply: "x"}, nil)

	prompt, err := engine.BuildPrompt(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, prompt.IDs)
}

func TestEngine_NilLoggerKeepsDefault(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	_, _ = vecs.AddWithExternalID(ctx, "broken", []float32{1, 0})
	store := &mapStore{content: map[string]string{}, failing: map[string]bool{"broken": true}}
	engine := NewEngine(store, emb, vecs, &fakeGenerator{reply: "x"}, nil, WithLogger(nil))

	assert.NotPanics(t, func() {
		assert.Equal(t, MsgQuestionFailed, engine.Answer(ctx, "unknown"))
		assert.Equal(t, MsgUnreadableRefs, engine.Answer(ctx, "q"))
	})
}

func TestEngine_GenerationFailure(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"error": {err: errors.New("timeout")},
		"empty": {reply: ""},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.ingest(t, "m1", "I like blue", "Alice")
			engine := NewEngine(f.store, embedding.NewMockEmbedder(16), f.vecs, gen, nil)
			assert.Equal(t, MsgGenerationFailed, engine.Answer(context.Background(), "color?"))
		})
	}
}

func TestEngine_RankOrderAndTopK(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	content := map[string]string{}
	for i, d := range []float32{3, 1, 4, 2, 5} {
		id := fmt.Sprintf("m%d", i)
		_, _ = vecs.AddWithExternalID(ctx, id, []float32{d, 0})
		content[id] = fmt.Sprintf("Ana: message %d", i)
	}
	store := &mapStore{content: content}
	engine := NewEngine(store, emb, vecs, &fakeGenerator{reply: "x"}, &config.RAGConfig{TopK: 3})

	prompt, err := engine.BuildPrompt(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3", "m0"}, prompt.IDs)
	i1 := strings.Index(prompt.User, "message 1")
	i3 := strings.Index(prompt.User, "message 3")
	i0 := strings.Index(prompt.User, "message 0")
	assert.True(t, i1 < i3 && i3 < i0, "context lines must follow rank order")
	assert.NotContains(t, prompt.User, "message 2")
}

func TestEngine_ContextBudget(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	content := map[string]string{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("m%d", i)
		_, _ = vecs.AddWithExternalID(ctx, id, []float32{float32(i), 0})
		content[id] = "Ana: " + strings.Repeat("x", 15) // 23 chars per line with "- " and "\n"
	}
	store := &mapStore{content: content}
	engine := NewEngine(store, emb, vecs, &fakeGenerator{reply: "x"}, &config.RAGConfig{MaxContextChars: 50})

	prompt, err := engine.BuildPrompt(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1"}, prompt.IDs)
	assert.Equal(t, 2, strings.Count(prompt.User, "- Ana: "))
}

func TestEngine_FirstEntryTruncatedToBudget(t *testing.T) {
	emb := tableEmbedder{"q": {0, 0}}
	vecs, _ := vector.NewMemoryIndex(2)
	ctx := context.Background()
	_, _ = vecs.AddWithExternalID(ctx, "long", []float32{0, 0})
	store := &mapStore{content: map[string]string{"long": strings.Repeat("y", 100)}}
	engine := NewEngine(store, emb, vecs, &fakeGenerator{reply: "x"}, &config.RAGConfig{MaxContextChars: 20})

	prompt, err := engine.BuildPrompt(ctx, "q")
	require.NoError(t, err)
	assert.Contains(t, prompt.User, "- "+strings.Repeat("y", 14)+"...\n")
}

func TestReply(t *testing.T) {
	assert.Equal(t, MsgNoRelevantInfo, Reply(ErrNoRelevantInfo))
	assert.Equal(t, MsgUnreadableRefs, Reply(ErrUnreadableRefs))
	assert.Equal(t, MsgQuestionFailed, Reply(ErrQuestionFailed))
}
