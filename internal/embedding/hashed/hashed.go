package hashed

import (
	"log/slog"

	"labrec/internal/embedding"
)

const (
	DefaultDimension = 1536
	DefaultMaxTokens = 8191
)

// Embedder is an additive hashed bag-of-tokens embedder. Every token id
// increments the component at token_id mod dimension, and the result is
// L2-normalised.
type Embedder struct {
	tokenizer embedding.Tokenizer
	dimension int
	maxTokens int
	logger    *slog.Logger
}

// Config configures the hashed embedder.
type Config struct {
	Dimension int
	MaxTokens int
	Logger    *slog.Logger
}

// NewEmbedder creates an embedder over the given tokenizer.
func NewEmbedder(tok embedding.Tokenizer, cfg Config) *Embedder {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Embedder{
		tokenizer: tok,
		dimension: cfg.Dimension,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Name returns the identifier of this embedder, including the tokenizer
// version since vectors are only comparable within one version.
func (e *Embedder) Name() string { return "hashed/" + e.tokenizer.Version() }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the embedding for text. It never fails: a tokenizer error
// yields the zero vector.
func (e *Embedder) Embed(text string) []float64 {
	vec := make([]float64, e.dimension)
	if text == "" {
		return vec
	}
	tokens, err := e.tokenizer.Encode(text)
	if err != nil {
		e.logger.Debug("tokenize failed, using zero vector", "error", err)
		return vec
	}
	if len(tokens) > e.maxTokens {
		tokens = tokens[:e.maxTokens]
	}
	for _, tok := range tokens {
		idx := tok % e.dimension
		if idx < 0 {
			idx += e.dimension
		}
		vec[idx]++
	}
	embedding.Normalize(vec)
	return vec
}
