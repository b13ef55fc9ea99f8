package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/hyperjump/recall/internal/models"
)

// BagOfWordsEmbedder hashes lowercase words into a fixed number of buckets and normalizes
// the counts, so texts that share words are close. It stands in for a real model in tests
// that need retrieval to depend on content.
type BagOfWordsEmbedder struct {
	dims int
}

// NewBagOfWordsEmbedder creates an embedder producing vectors of length dims.
func NewBagOfWordsEmbedder(dims int) *BagOfWordsEmbedder {
	return &BagOfWordsEmbedder{dims: dims}
}

// Tokenize splits s into lowercase runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *BagOfWordsEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, errors.New("no words to embed")
	}
	vec := make([]float32, e.dims)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *BagOfWordsEmbedder) Dimensions() int { return e.dims }

func (e *BagOfWordsEmbedder) Close() error { return nil }

// CapturingGenerator records every prompt and answers with a fixed reply.
type CapturingGenerator struct {
	Reply string

	mu    sync.Mutex
	users []string
}

func (g *CapturingGenerator) Chat(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users = append(g.users, user)
	return g.Reply, nil
}

// LastUserPrompt returns the most recent user prompt, or "".
func (g *CapturingGenerator) LastUserPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.users) == 0 {
		return ""
	}
	return g.users[len(g.users)-1]
}

// WriteExport writes msgs to path as a gateway JSON-lines export. Every line carries all
// the fields a complete export has, including a false is_from_me.
func WriteExport(path string, msgs []*models.Message) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, m := range msgs {
		line := map[string]interface{}{
			"id":         m.ID,
			"chat_jid":   m.ChatJID,
			"chat_name":  m.ChatName,
			"sender":     m.Sender,
			"content":    m.Content,
			"timestamp":  models.NewTimestamp(m.Timestamp),
			"is_from_me": m.IsFromMe,
		}
		if err := enc.Encode(line); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}
