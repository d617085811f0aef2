package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"labrec/internal/config"
	"labrec/internal/dataset"
	"labrec/internal/domain"
	"labrec/internal/embedding"
	"labrec/internal/embedding/hashed"
	"labrec/internal/embedding/tokenizer"
	"labrec/internal/indexsync"
	"labrec/internal/llm"
	"labrec/internal/resolver"
	"labrec/internal/service"
	"labrec/internal/summarizer"
	"labrec/internal/vectorindex"
	"labrec/internal/vectorindex/memory"
	"labrec/internal/vectorindex/pgvector"
	"labrec/internal/vectorindex/pinecone"
	"labrec/internal/vectorindex/qdrant"
)

// app holds the assembled components for one CLI invocation.
type app struct {
	cfg      *config.AppConfig
	logger   *slog.Logger
	embedder domain.Embedder
	index    domain.VectorIndex
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var tok embedding.Tokenizer
	switch cfg.Embedder.Tokenizer.Type {
	case "tiktoken":
		t, err := tokenizer.NewTiktoken(cfg.Embedder.Tokenizer.Encoding)
		if err != nil {
			return nil, err
		}
		tok = t
	case "huggingface":
		t, err := tokenizer.NewHuggingFace(cfg.Embedder.Tokenizer.Path)
		if err != nil {
			return nil, err
		}
		tok = t
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", cfg.Embedder.Tokenizer.Type)
	}
	emb, err := embedding.NewCached(hashed.NewEmbedder(tok, hashed.Config{
		Dimension: cfg.Embedder.Dimension,
		MaxTokens: cfg.Embedder.MaxTokens,
		Logger:    logger,
	}), cfg.Embedder.CacheSize)
	if err != nil {
		return nil, err
	}
	a.embedder = emb

	dim := cfg.Embedder.Dimension
	timeout := cfg.IndexTimeout()
	switch cfg.VectorIndex.Type {
	case "memory":
		a.index = memory.NewIndex(dim)
	case "qdrant":
		q := cfg.VectorIndex.Qdrant
		idx := qdrant.NewIndex(qdrant.Config{
			URL:        q.URL,
			APIKey:     os.Getenv(q.APIKeyEnv),
			Collection: q.Collection,
			Dimension:  dim,
			Timeout:    timeout,
		})
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		a.index = idx
	case "pinecone":
		p := cfg.VectorIndex.Pinecone
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", p.APIKeyEnv)
		}
		a.index = pinecone.NewIndex(pinecone.Config{
			Host:      p.Host,
			APIKey:    key,
			Namespace: p.Namespace,
			Dimension: dim,
			Timeout:   timeout,
		})
	case "pgvector":
		p := cfg.VectorIndex.Pgvector
		dsn := os.Getenv(p.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("missing DSN in env %s", p.DSNEnv)
		}
		idx, err := pgvector.NewIndex(ctx, pgvector.Config{DSN: dsn, Table: p.Table, Dimension: dim})
		if err != nil {
			return nil, err
		}
		a.index = idx
		a.closers = append(a.closers, idx.Close)
	default:
		return nil, fmt.Errorf("unknown vector index: %s", cfg.VectorIndex.Type)
	}
	if cfg.VectorIndex.Type != "memory" {
		a.index = vectorindex.NewGuarded(a.index, vectorindex.BreakerConfig{Name: cfg.VectorIndex.Type, Logger: logger})
	}
	logger.Debug("components ready", "embedder", a.embedder.Name(), "index", cfg.VectorIndex.Type, "dimension", dim)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

func (a *app) source(path string) (domain.DatasetSource, error) {
	if path == "" {
		path = a.cfg.Dataset.Path
	}
	switch a.cfg.Dataset.Type {
	case "sqlite":
		return dataset.NewSQLiteSource(path, a.cfg.Dataset.Table)
	default:
		return dataset.NewCSVSource(path, a.logger), nil
	}
}

func (a *app) synchronizer() *indexsync.Synchronizer {
	s := a.cfg.Sync
	// remote backends sit behind a breaker; stalled deletes wait it out
	var unavailableWait time.Duration
	if a.cfg.VectorIndex.Type != "memory" {
		unavailableWait = vectorindex.DefaultOpenTimeout + time.Second
	}
	return indexsync.New(a.embedder, a.index, indexsync.Config{
		BatchSize:         s.BatchSize,
		Concurrency:       s.Concurrency,
		MaxDeleteAttempts: s.MaxDeleteAttempts,
		MaxDeletePasses:   s.MaxDeletePasses,
		RetryInitial:      s.RetryInitial(),
		RetryMax:          s.RetryMax(),
		RequestsPerSecond: s.RequestsPerSecond,
		Timeout:           a.cfg.IndexTimeout(),
		UnavailableWait:   unavailableWait,
	}, a.logger)
}

// syncFrom loads the dataset and upserts it into the index.
func (a *app) syncFrom(ctx context.Context, path string, metrics *indexsync.Metrics) (*indexsync.Report, error) {
	src, err := a.source(path)
	if err != nil {
		return nil, err
	}
	records, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return a.synchronizer().WithMetrics(metrics).BuildAndUpsert(ctx, records)
}

// warmMemory fills an in-process index, which starts empty on every run.
func (a *app) warmMemory(ctx context.Context) error {
	if a.cfg.VectorIndex.Type != "memory" {
		return nil
	}
	report, err := a.syncFrom(ctx, "", nil)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		a.logger.Warn("memory index partially loaded", "err", err)
	}
	return nil
}

func (a *app) recommender(withLLM bool) (*service.RecommendationService, error) {
	r := resolver.New(a.embedder, a.index, resolver.Config{
		MinScore:    a.cfg.Resolver.MinScore,
		Timeout:     time.Duration(a.cfg.Resolver.TimeoutSecs) * time.Second,
		Concurrency: a.cfg.Resolver.Concurrency,
	}, a.logger)

	var extractor domain.CandidateExtractor
	if withLLM {
		l := a.cfg.LLM
		client, err := llm.NewClient(llm.Config{
			BaseURL:    l.BaseURL,
			APIKeyEnv:  l.APIKeyEnv,
			Model:      l.Model,
			Timeout:    time.Duration(l.TimeoutSecs) * time.Second,
			MaxRetries: l.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		extractor = llm.NewExtractor(client, a.logger)
	}
	return service.NewRecommendationService(extractor, r, summarizer.NewExcerpter(240), service.Config{ExcerptSentences: 2}, a.logger), nil
}
