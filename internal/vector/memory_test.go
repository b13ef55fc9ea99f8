package vector

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	for i, v := range vecs {
		slot, err := idx.AddWithExternalID(ctx, fmt.Sprintf("m%d", i), v)
		require.NoError(t, err)
		assert.Equal(t, int64(i), slot)
	}
	assert.Equal(t, 3, idx.Size())

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m0", results[0].ID)
	assert.Equal(t, "m1", results[1].ID)
	assert.Zero(t, results[0].Distance)
	assert.InDelta(t, 0.02, results[1].Distance, 1e-6)
}

func TestMemoryIndex_InvalidDimension(t *testing.T) {
	_, err := NewMemoryIndex(0)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	_, err = NewMemoryIndex(-1)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestMemoryIndex_DimensionMismatchLeavesSizeUnchanged(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	require.NoError(t, err)
	ctx := context.Background()

	for _, v := range [][]float32{nil, {}, {1}, {1, 2}, {1, 2, 3, 4}} {
		slot, err := idx.AddWithExternalID(ctx, "bad", v)
		var mismatch *ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 3, mismatch.Expected)
		assert.Equal(t, len(v), mismatch.Actual)
		assert.Equal(t, int64(-1), slot)
		assert.Equal(t, 0, idx.Size())

		_, err = idx.Add(ctx, v)
		require.Error(t, err)
		assert.Equal(t, 0, idx.Size())
	}

	slot, err := idx.AddWithExternalID(ctx, "good", []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(0), slot, "rejected vectors must not consume slot ids")
}

func TestMemoryIndex_MappingCoherence(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()

	n := 0
	for i := 0; i < 20; i++ {
		v := []float32{float32(i), 1}
		if i%4 == 3 {
			v = []float32{1} // rejected
		}
		if _, err := idx.AddWithExternalID(ctx, fmt.Sprintf("m%d", i), v); err == nil {
			n++
		}
	}
	slots := idx.MappedSlots()
	require.Len(t, slots, n)
	for i, slot := range slots {
		assert.Equal(t, int64(i), slot)
	}
	assert.Equal(t, n, idx.Size())
}

func TestMemoryIndex_SearchEmpty(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()

	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, _ = idx.AddWithExternalID(ctx, "a", []float32{1, 0})
	results, err = idx.Search(ctx, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_SearchWrongQueryDimension(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_, _ = idx.AddWithExternalID(ctx, "a", []float32{1, 0})

	_, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
	var mismatch *ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestMemoryIndex_KSaturation(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = idx.AddWithExternalID(ctx, fmt.Sprintf("m%d", i), []float32{float32(i), 0})
	}
	results, err := idx.Search(ctx, []float32{0, 0}, 8)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryIndex_TieBreakBySlot(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	// All at distance 1 from the origin.
	_, _ = idx.AddWithExternalID(ctx, "north", []float32{0, 1})
	_, _ = idx.AddWithExternalID(ctx, "east", []float32{1, 0})
	_, _ = idx.AddWithExternalID(ctx, "south", []float32{0, -1})
	_, _ = idx.AddWithExternalID(ctx, "near", []float32{0.5, 0})

	ids, err := idx.SearchIDs(ctx, []float32{0, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "north", "east", "south"}, ids)
}

func TestMemoryIndex_SearchDeterministic(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		v := []float32{float32(i % 5), float32(i % 3), float32(i % 7)}
		_, _ = idx.AddWithExternalID(ctx, fmt.Sprintf("m%d", i), v)
	}
	q := []float32{2, 1, 3}
	first, err := idx.SearchIDs(ctx, q, 10)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := idx.SearchIDs(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryIndex_UnmappedSlotsSkipped(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_, err := idx.Add(ctx, []float32{0, 0})
	require.NoError(t, err)
	_, _ = idx.AddWithExternalID(ctx, "far", []float32{5, 5})

	ids, err := idx.SearchIDs(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"far"}, ids)
	_, ok := idx.ExternalID(0)
	assert.False(t, ok)
}

func TestMemoryIndex_CopiesInput(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	v := []float32{1, 1}
	_, _ = idx.AddWithExternalID(ctx, "a", v)
	v[0] = 100

	results, err := idx.Search(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Distance)
}

func TestMemoryIndex_ConcurrentAddAndSearch(t *testing.T) {
	idx, _ := NewMemoryIndex(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, _ = idx.AddWithExternalID(ctx, fmt.Sprintf("w%d-%d", w, i), []float32{float32(w), float32(i), 0, 1})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				results, err := idx.Search(ctx, []float32{1, 1, 0, 1}, 5)
				assert.NoError(t, err)
				for _, r := range results {
					assert.NotEmpty(t, r.ID)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, idx.Size())
	assert.Len(t, idx.MappedSlots(), 200)
}
