package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedder_Hit(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	v1, err := c.Embed(ctx, "hola")
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()
	v2, err := c.Embed(ctx, "hola")
	if err != nil {
		t.Fatal(err)
	}
	if v1[0] != v2[0] || v2[0] != 4 {
		t.Errorf("cached vector mismatch: %v vs %v", v1, v2)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}
	if c.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d", c.Dimensions())
	}
}

func TestCachedEmbedder_ReturnedVectorIsolated(t *testing.T) {
	c, err := NewCachedEmbedder(&countingEmbedder{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	v1, err := c.Embed(ctx, "hola")
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()
	v1[0] = -1
	v2, err := c.Embed(ctx, "hola")
	if err != nil {
		t.Fatal(err)
	}
	v2[1] = -1
	v3, err := c.Embed(ctx, "hola")
	if err != nil {
		t.Fatal(err)
	}
	if v3[0] != 4 || v3[1] != 1 {
		t.Errorf("cached vector was mutated by a caller: %v", v3)
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	c, err := NewCachedEmbedder(inner, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		if _, err := c.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
		c.Wait()
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner calls = %d, want 2", got)
	}
}
