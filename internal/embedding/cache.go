package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"labrec/internal/domain"
)

// Cached memoises an embedder's output. It is only correct for deterministic
// embedders; returned vectors are copies and may be modified by callers.
type Cached struct {
	next  domain.Embedder
	cache *lru.Cache[string, []float64]
}

// NewCached wraps next with an LRU cache of the given size.
func NewCached(next domain.Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Name() string   { return c.next.Name() }
func (c *Cached) Dimension() int { return c.next.Dimension() }

// Embed returns the cached vector for text, computing it on a miss.
func (c *Cached) Embed(text string) []float64 {
	if vec, ok := c.cache.Get(text); ok {
		return clone(vec)
	}
	vec := c.next.Embed(text)
	c.cache.Add(text, clone(vec))
	return vec
}

func clone(vec []float64) []float64 {
	out := make([]float64, len(vec))
	copy(out, vec)
	return out
}
