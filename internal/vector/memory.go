package vector

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryIndex is a flat in-memory index using brute-force squared L2 search.
// Vectors live in one contiguous buffer; slot i occupies data[i*d : (i+1)*d].
// Every search scores all stored vectors, which is O(n*d) per query and is sized for a
// personal message archive rather than a web-scale corpus.
type MemoryIndex struct {
	dimensions int
	data       []float32
	idMap      map[int64]string
	known      map[string]struct{}
	nextSlot   int64
	logger     *zap.Logger
	mu         sync.RWMutex
}

// MemoryIndexOption configures a MemoryIndex.
type MemoryIndexOption func(*MemoryIndex)

// WithLogger sets the logger used for rejected vectors.
func WithLogger(l *zap.Logger) MemoryIndexOption {
	return func(m *MemoryIndex) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int, opts ...MemoryIndexOption) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, ErrInvalidDimension
	}
	m := &MemoryIndex{
		dimensions: dimensions,
		idMap:      make(map[int64]string),
		known:      make(map[string]struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Add stores vector under the next slot id and returns it. The slot has no external id;
// searches skip it. A vector of the wrong length is rejected and nothing is stored.
func (m *MemoryIndex) Add(ctx context.Context, vector []float32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(vector)
}

// AddWithExternalID stores vector and records externalID for the new slot in the same
// critical section, so no reader ever observes a slot without its mapping entry.
func (m *MemoryIndex) AddWithExternalID(ctx context.Context, externalID string, vector []float32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, err := m.addLocked(vector)
	if err != nil {
		return -1, err
	}
	m.idMap[slot] = externalID
	m.known[externalID] = struct{}{}
	return slot, nil
}

func (m *MemoryIndex) addLocked(vector []float32) (int64, error) {
	if len(vector) != m.dimensions {
		m.logger.Warn("vector index rejected vector",
			zap.Int("expected_dimensions", m.dimensions),
			zap.Int("got_dimensions", len(vector)))
		return -1, &ErrDimensionMismatch{Expected: m.dimensions, Actual: len(vector)}
	}
	m.data = append(m.data, vector...)
	slot := m.nextSlot
	m.nextSlot++
	return slot, nil
}

// Search returns up to k mapped slots closest to query, ascending by squared L2 distance.
// Equal distances are ordered by slot id so results are deterministic. An empty query,
// a non-positive k or an empty index yields no results.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(query) != m.dimensions {
		return nil, &ErrDimensionMismatch{Expected: m.dimensions, Actual: len(query)}
	}
	n := int(m.nextSlot)
	if n == 0 {
		return nil, nil
	}

	type scored struct {
		slot int64
		dist float64
	}
	scores := make([]scored, n)
	d := m.dimensions
	for i := 0; i < n; i++ {
		scores[i] = scored{slot: int64(i), dist: SquaredL2(query, m.data[i*d:(i+1)*d])}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].slot < scores[j].slot
	})

	if k > n {
		k = n
	}
	results := make([]*VectorResult, 0, k)
	for _, s := range scores {
		if len(results) == k {
			break
		}
		id, ok := m.idMap[s.slot]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{SlotID: s.slot, ID: id, Distance: s.dist})
	}
	return results, nil
}

// SearchIDs is Search reduced to external ids in rank order.
func (m *MemoryIndex) SearchIDs(ctx context.Context, query []float32, k int) ([]string, error) {
	results, err := m.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// ExternalID returns the external id recorded for slot.
func (m *MemoryIndex) ExternalID(slot int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idMap[slot]
	return id, ok
}

// HasExternalID reports whether some slot is mapped to externalID.
func (m *MemoryIndex) HasExternalID(externalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.known[externalID]
	return ok
}

// MappedSlots returns the sorted slot ids that have an external id.
func (m *MemoryIndex) MappedSlots() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := make([]int64, 0, len(m.idMap))
	for slot := range m.idMap {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Size returns the number of stored vectors.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.nextSlot)
}

// Dimensions returns the fixed vector length of the index.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
