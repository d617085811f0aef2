// Package resolver maps free-text candidate names onto catalog records: an
// exact name match first, nearest-neighbour similarity second.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"labrec/internal/domain"
)

// Config tunes the resolver.
type Config struct {
	// MinScore rejects similarity matches scoring below it. Zero disables
	// the threshold, accepting the nearest neighbour whatever its score.
	MinScore float64
	// Timeout bounds each individual index call. Zero means no bound.
	Timeout time.Duration
	// Concurrency limits parallel resolutions in ResolveAll.
	Concurrency int
}

// Resolver is safe for concurrent use; it holds no mutable state.
type Resolver struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	cfg      Config
	logger   *slog.Logger
}

func New(embedder domain.Embedder, index domain.VectorIndex, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{embedder: embedder, index: index, cfg: cfg, logger: logger}
}

// Resolve returns the best catalog record for candidate. A result with a
// nil Record means no match; index failures are reported as
// domain.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, candidate string) (domain.MatchResult, error) {
	res := domain.MatchResult{Candidate: candidate}

	zero := make([]float64, r.embedder.Dimension())
	exact, err := r.query(ctx, zero, map[string]any{domain.FieldName: candidate})
	if err != nil {
		return res, domain.NewOpError("resolve exact", candidate, domain.ErrResolutionFailed, err)
	}
	if len(exact) > 0 {
		rec := domain.RecordFromMetadata(exact[0].ID, exact[0].Metadata)
		res.Record, res.Kind, res.Score = &rec, domain.MatchExact, 1
		return res, nil
	}

	similar, err := r.query(ctx, r.embedder.Embed(candidate), nil)
	if err != nil {
		return res, domain.NewOpError("resolve similarity", candidate, domain.ErrResolutionFailed, err)
	}
	if len(similar) == 0 {
		return res, nil
	}
	best := similar[0]
	if r.cfg.MinScore > 0 && best.Score < r.cfg.MinScore {
		r.logger.Debug("nearest match below threshold", "candidate", candidate, "match", best.ID, "score", best.Score)
		return res, nil
	}
	rec := domain.RecordFromMetadata(best.ID, best.Metadata)
	res.Record, res.Kind, res.Score = &rec, domain.MatchSimilarity, best.Score
	return res, nil
}

func (r *Resolver) query(ctx context.Context, vec []float64, filter map[string]any) ([]domain.Match, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.index.Query(ctx, vec, 1, filter)
}

// Outcome pairs one candidate's result with its error, if any.
type Outcome struct {
	Result domain.MatchResult
	Err    error
}

// ResolveAll resolves every candidate, in parallel up to the configured
// concurrency. Outcomes are returned in input order and a failure for one
// candidate never affects the others.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []string) []Outcome {
	out := make([]Outcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			res, err := r.Resolve(ctx, c)
			out[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
