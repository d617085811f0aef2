package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labrec/internal/domain"
	"labrec/internal/vectorindex/memory"
)

// mapEmbedder returns fixed vectors per text and the zero vector otherwise.
type mapEmbedder map[string][]float64

func (m mapEmbedder) Name() string   { return "map" }
func (m mapEmbedder) Dimension() int { return 3 }
func (m mapEmbedder) Embed(text string) []float64 {
	if v, ok := m[text]; ok {
		return append([]float64(nil), v...)
	}
	return make([]float64, 3)
}

type failingIndex struct {
	domain.VectorIndex
	failFor map[string]bool
	delay   time.Duration
}

func (f *failingIndex) Query(ctx context.Context, vec []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	if name, ok := filter[domain.FieldName].(string); ok && f.failFor[name] {
		return nil, errors.New("index unreachable")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.VectorIndex.Query(ctx, vec, topK, filter)
}

func seed(t *testing.T, recs ...domain.CatalogRecord) (*memory.Index, mapEmbedder) {
	t.Helper()
	emb := mapEmbedder{
		"Complete Blood Count": {1, 0, 0},
		"Hemoglobin A1c":       {0, 1, 0},
		"Lipid Panel":          {0, 0, 1},
		"CBC Panel":            {0.9, 0.1, 0},
	}
	idx := memory.NewIndex(3)
	var entries []domain.IndexEntry
	for _, r := range recs {
		entries = append(entries, domain.IndexEntry{ID: r.ID, Vector: emb.Embed(r.Name), Metadata: r.Metadata()})
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))
	return idx, emb
}

var (
	cbc   = domain.CatalogRecord{ID: "1", Name: "Complete Blood Count", Price: 120}
	a1c   = domain.CatalogRecord{ID: "2", Name: "Hemoglobin A1c"}
	lipid = domain.CatalogRecord{ID: "3", Name: "Lipid Panel"}
)

func TestExactMatchTakesPrecedence(t *testing.T) {
	idx, emb := seed(t, cbc, a1c, lipid)
	// the similarity stage would prefer A1c for this text
	emb["Complete Blood Count"] = []float64{0, 1, 0}
	r := New(emb, idx, Config{}, nil)

	res, err := r.Resolve(context.Background(), "Complete Blood Count")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, domain.MatchExact, res.Kind)
	assert.Equal(t, "1", res.Record.ID)
	assert.Equal(t, 120.0, res.Record.Price)
}

func TestExactMatchIsCaseSensitive(t *testing.T) {
	idx, emb := seed(t, cbc, a1c)
	r := New(emb, idx, Config{}, nil)

	res, err := r.Resolve(context.Background(), "complete blood count")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, domain.MatchSimilarity, res.Kind)
}

func TestSimilarityFallback(t *testing.T) {
	idx, emb := seed(t, cbc, a1c, lipid)
	r := New(emb, idx, Config{}, nil)

	res, err := r.Resolve(context.Background(), "CBC Panel")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, domain.MatchSimilarity, res.Kind)
	assert.Equal(t, "1", res.Record.ID)
	assert.Greater(t, res.Score, 0.9)
}

func TestFallbackAcceptsPoorMatchWithoutThreshold(t *testing.T) {
	idx, emb := seed(t, lipid)
	r := New(emb, idx, Config{}, nil)

	res, err := r.Resolve(context.Background(), "Unrelated Thing")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "3", res.Record.ID)
	assert.Zero(t, res.Score)
}

func TestMinScoreRejectsPoorMatch(t *testing.T) {
	idx, emb := seed(t, lipid)
	r := New(emb, idx, Config{MinScore: 0.5}, nil)

	res, err := r.Resolve(context.Background(), "CBC Panel")
	require.NoError(t, err)
	assert.False(t, res.Found())
}

func TestEmptyIndexIsNoMatch(t *testing.T) {
	emb := mapEmbedder{}
	r := New(emb, memory.NewIndex(3), Config{}, nil)

	res, err := r.Resolve(context.Background(), "CBC Panel")
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, "CBC Panel", res.Candidate)
}

func TestIndexFailureIsResolutionFailed(t *testing.T) {
	idx, emb := seed(t, cbc)
	r := New(emb, &failingIndex{VectorIndex: idx, failFor: map[string]bool{"Broken": true}}, Config{}, nil)

	_, err := r.Resolve(context.Background(), "Broken")
	assert.ErrorIs(t, err, domain.ErrResolutionFailed)
}

func TestTimeoutIsResolutionFailed(t *testing.T) {
	idx, emb := seed(t, cbc)
	r := New(emb, &failingIndex{VectorIndex: idx, delay: time.Second}, Config{Timeout: 10 * time.Millisecond}, nil)

	_, err := r.Resolve(context.Background(), "Complete Blood Count")
	assert.ErrorIs(t, err, domain.ErrResolutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveAllIsolatesFailuresAndKeepsOrder(t *testing.T) {
	idx, emb := seed(t, cbc, a1c, lipid)
	r := New(emb, &failingIndex{VectorIndex: idx, failFor: map[string]bool{"Broken": true}}, Config{Concurrency: 2}, nil)

	out := r.ResolveAll(context.Background(), []string{"Lipid Panel", "Broken", "Complete Blood Count", "Hemoglobin A1c"})
	require.Len(t, out, 4)
	assert.Equal(t, "3", out[0].Result.Record.ID)
	assert.ErrorIs(t, out[1].Err, domain.ErrResolutionFailed)
	assert.Equal(t, "Broken", out[1].Result.Candidate)
	assert.Equal(t, "1", out[2].Result.Record.ID)
	assert.Equal(t, "2", out[3].Result.Record.ID)
}
