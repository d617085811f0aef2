package memory

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"labrec/internal/domain"
)

// Index is a simple in-memory vector index using brute-force cosine
// similarity. Entries are keyed by id, so upserts overwrite.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]domain.IndexEntry
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimension int) *Index {
	return &Index{dimension: dimension, entries: make(map[string]domain.IndexEntry)}
}

func (s *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("entry %s: %w: got %d, want %d", e.ID, domain.ErrDimensionMismatch, len(e.Vector), s.dimension)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = domain.IndexEntry{
			ID:       e.ID,
			Vector:   append([]float64(nil), e.Vector...),
			Metadata: copyMetadata(e.Metadata),
		}
	}
	return nil
}

// Query ranks entries passing filter by cosine similarity to vector. Equal
// scores are ordered by ascending id.
func (s *Index) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query: %w: got %d, want %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]domain.Match, 0, len(s.entries))
	for id, e := range s.entries {
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		matches = append(matches, domain.Match{ID: id, Score: cosine(vector, e.Vector), Metadata: copyMetadata(e.Metadata)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

func (s *Index) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *Index) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.IndexStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexStats{TotalCount: len(s.entries), Dimension: s.dimension}, nil
}

// ListIDs returns entry ids in ascending order.
func (s *Index) ListIDs(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Get returns a copy of the entry stored under id.
func (s *Index) Get(id string) (domain.IndexEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.IndexEntry{}, false
	}
	return domain.IndexEntry{ID: e.ID, Vector: append([]float64(nil), e.Vector...), Metadata: copyMetadata(e.Metadata)}, true
}

func matchesFilter(md, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// cosine is 0 when either vector is zero.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
