// Package service composes candidate extraction and catalog resolution into
// user-facing recommendations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"labrec/internal/domain"
	"labrec/internal/resolver"
)

// Resolver resolves candidate names in input order.
type Resolver interface {
	ResolveAll(ctx context.Context, candidates []string) []resolver.Outcome
}

// Excerpter shortens descriptions for display.
type Excerpter interface {
	Excerpt(text string, maxSentences int) string
}

// Item is one resolved recommendation.
type Item struct {
	domain.MatchResult
	Excerpt string
}

// Failure records a candidate whose resolution errored.
type Failure struct {
	Candidate string
	Err       error
}

type Recommendation struct {
	UserID     string
	Candidates []string
	Items      []Item
	Failures   []Failure
}

type Config struct {
	// ExtractTimeout bounds the candidate extraction call.
	ExtractTimeout   time.Duration
	ExcerptSentences int
}

type RecommendationService struct {
	extractor domain.CandidateExtractor
	resolver  Resolver
	excerpter Excerpter
	cfg       Config
	logger    *slog.Logger
}

func NewRecommendationService(extractor domain.CandidateExtractor, resolver Resolver, excerpter Excerpter, cfg Config, logger *slog.Logger) *RecommendationService {
	if cfg.ExcerptSentences <= 0 {
		cfg.ExcerptSentences = 2
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RecommendationService{extractor: extractor, resolver: resolver, excerpter: excerpter, cfg: cfg, logger: logger}
}

// Recommend asks the extractor for candidate names and resolves them.
func (s *RecommendationService) Recommend(ctx context.Context, attrs domain.UserAttributes) (*Recommendation, error) {
	if s.extractor == nil {
		return nil, errors.New("no candidate extractor configured")
	}
	ectx := ctx
	if s.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.cfg.ExtractTimeout)
		defer cancel()
	}
	candidates, err := s.extractor.ExtractCandidates(ectx, attrs)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", attrs.UserID, err)
	}
	return s.RecommendCandidates(ctx, attrs.UserID, candidates)
}

// RecommendCandidates resolves already known candidate names. Duplicates are
// dropped (case-sensitive), unmatched candidates are omitted and the
// remaining items keep candidate order. An empty result is
// domain.ErrNoRecommendations; the partial Recommendation is still returned
// so callers can inspect failures.
func (s *RecommendationService) RecommendCandidates(ctx context.Context, userID string, candidates []string) (*Recommendation, error) {
	rec := &Recommendation{UserID: userID, Candidates: Dedup(candidates)}
	for _, out := range s.resolver.ResolveAll(ctx, rec.Candidates) {
		if out.Err != nil {
			s.logger.Warn("candidate resolution failed", "user", userID, "candidate", out.Result.Candidate, "err", out.Err)
			rec.Failures = append(rec.Failures, Failure{Candidate: out.Result.Candidate, Err: out.Err})
			continue
		}
		if !out.Result.Found() {
			s.logger.Debug("no catalog match", "user", userID, "candidate", out.Result.Candidate)
			continue
		}
		item := Item{MatchResult: out.Result}
		if s.excerpter != nil {
			item.Excerpt = s.excerpter.Excerpt(out.Result.Record.Description, s.cfg.ExcerptSentences)
		}
		rec.Items = append(rec.Items, item)
	}
	s.logger.Info("recommendation built", "user", userID, "candidates", len(rec.Candidates),
		"items", len(rec.Items), "failures", len(rec.Failures))
	if len(rec.Items) == 0 {
		return rec, domain.ErrNoRecommendations
	}
	return rec, nil
}

// Dedup drops repeated names, keeping the first occurrence. Comparison is
// exact, so "CBC" and "cbc" are distinct.
func Dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
