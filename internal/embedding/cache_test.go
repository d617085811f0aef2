package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct{ calls int }

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 2 }
func (c *countingEmbedder) Embed(text string) []float64 {
	c.calls++
	return []float64{float64(len(text)), 1}
}

func TestCachedEmbedsOncePerText(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	a := c.Embed("abc")
	b := c.Embed("abc")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls)

	// mutating a returned vector must not poison the cache
	b[0] = 99
	assert.Equal(t, 3.0, c.Embed("abc")[0])
	assert.Equal(t, "counting", c.Name())
	assert.Equal(t, 2, c.Dimension())
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)

	z := []float64{0, 0}
	Normalize(z)
	assert.True(t, IsZero(z))
}
