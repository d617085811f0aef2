// Package indexsync populates and empties a vector index from a catalog in
// independent batches, tolerating partial failure.
package indexsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"labrec/internal/domain"
)

const (
	DefaultBatchSize         = 100
	DefaultConcurrency       = 4
	DefaultMaxDeleteAttempts = 5
	DefaultMaxDeletePasses   = 50
)

type Config struct {
	BatchSize   int
	Concurrency int
	// MaxDeleteAttempts bounds consecutive delete passes that make no
	// progress. Any progress resets the count.
	MaxDeleteAttempts int
	// MaxDeletePasses bounds the total number of delete passes.
	MaxDeletePasses int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	// RequestsPerSecond paces index calls; zero means unlimited.
	RequestsPerSecond float64
	// Timeout bounds each index call; zero means no bound.
	Timeout time.Duration
	// UnavailableWait is the minimum sleep after a delete pass that saw
	// domain.ErrIndexUnavailable. Set it past the breaker's open timeout.
	UnavailableWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxDeleteAttempts <= 0 {
		c.MaxDeleteAttempts = DefaultMaxDeleteAttempts
	}
	if c.MaxDeletePasses <= 0 {
		c.MaxDeletePasses = DefaultMaxDeletePasses
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Second
	}
}

type Synchronizer struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	cfg      Config
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *slog.Logger
}

func New(embedder domain.Embedder, index domain.VectorIndex, cfg Config, logger *slog.Logger) *Synchronizer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Synchronizer{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		logger:   logger,
	}
}

// WithMetrics records every finished run into m.
func (s *Synchronizer) WithMetrics(m *Metrics) *Synchronizer {
	s.metrics = m
	return s
}

// BuildAndUpsert embeds every record and upserts the entries in batches.
// Failed batches are logged and listed in the report; they never stop the
// remaining batches. The returned error is reserved for cancellation of ctx.
func (s *Synchronizer) BuildAndUpsert(ctx context.Context, records []domain.CatalogRecord) (*Report, error) {
	start := time.Now()
	report := newReport(OpUpsert, uuid.NewString())
	logger := s.logger.With("run", report.RunID, "op", OpUpsert)

	entries := make([]domain.IndexEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, domain.IndexEntry{
			ID:       rec.ID,
			Vector:   s.embedder.Embed(rec.EmbeddingText()),
			Metadata: rec.Metadata(),
		})
	}
	report.RecordsProcessed = len(entries)
	logger.Info("upserting catalog", "records", len(entries), "embedder", s.embedder.Name())

	batches := chunk(entries, s.cfg.BatchSize)
	s.runBatches(ctx, report, logger, len(batches),
		func(i int) []string { return entryIDs(batches[i]) },
		func(ctx context.Context, i int) error { return s.index.Upsert(ctx, batches[i]) })

	report.Duration = time.Since(start)
	s.finish(logger, report)
	return report, ctx.Err()
}

// DeleteAll removes every entry from the index. Each pass lists the
// remaining ids and deletes them in batches; a pass that deletes nothing, or
// whose listing fails, counts against MaxDeleteAttempts and is followed by a
// backoff sleep. The run aborts with domain.ErrIndexUnavailable only when
// the initial stats call fails. A non-zero residual is reported through
// Report.Err.
func (s *Synchronizer) DeleteAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := newReport(OpDelete, uuid.NewString())
	report.Residual = -1
	logger := s.logger.With("run", report.RunID, "op", OpDelete)

	stats, err := s.stats(ctx)
	if err != nil {
		return s.abort(logger, report, start, domain.NewOpError("delete discover", "", domain.ErrIndexUnavailable, err))
	}
	report.InitialCount = stats.TotalCount
	if stats.TotalCount == 0 {
		logger.Info("index already empty")
		report.Residual = 0
		report.Duration = time.Since(start)
		s.finish(logger, report)
		return report, nil
	}
	logger.Info("deleting index entries", "count", stats.TotalCount)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitial
	bo.MaxInterval = s.cfg.RetryMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	stalled := 0
	for report.Passes < s.cfg.MaxDeletePasses {
		ids, err := s.listIDs(ctx)
		if cerr := ctx.Err(); cerr != nil {
			return s.abort(logger, report, start, cerr)
		}
		unavailable := false
		if err != nil {
			stalled++
			unavailable = errors.Is(err, domain.ErrIndexUnavailable)
			logger.Warn("delete discovery failed", "pass", report.Passes, "attempt", stalled, "err", err)
		} else {
			if len(ids) == 0 {
				break
			}
			report.Passes++

			before, failed := report.RecordsProcessed, len(report.Failures)
			batches := chunk(ids, s.cfg.BatchSize)
			s.runBatches(ctx, report, logger, len(batches),
				func(i int) []string { return batches[i] },
				func(ctx context.Context, i int) error { return s.index.Delete(ctx, batches[i]) })
			if cerr := ctx.Err(); cerr != nil {
				return s.abort(logger, report, start, cerr)
			}
			if report.RecordsProcessed > before {
				stalled = 0
				bo.Reset()
				continue
			}
			stalled++
			unavailable = anyUnavailable(report.Failures[failed:])
			logger.Warn("delete pass made no progress", "pass", report.Passes, "attempt", stalled, "remaining", len(ids))
		}
		if stalled >= s.cfg.MaxDeleteAttempts {
			break
		}
		wait := bo.NextBackOff()
		if unavailable && wait < s.cfg.UnavailableWait {
			wait = s.cfg.UnavailableWait
		}
		if err := sleep(ctx, wait); err != nil {
			return s.abort(logger, report, start, err)
		}
	}

	if final, err := s.stats(ctx); err != nil {
		logger.Warn("could not verify delete", "err", err)
	} else {
		report.Residual = final.TotalCount
	}
	report.Duration = time.Since(start)
	s.finish(logger, report)
	return report, nil
}

// abort closes out a run that cannot continue. The residual stays unknown.
func (s *Synchronizer) abort(logger *slog.Logger, report *Report, start time.Time, err error) (*Report, error) {
	report.Duration = time.Since(start)
	s.finish(logger, report)
	return report, err
}

func anyUnavailable(failures []BatchFailure) bool {
	for _, f := range failures {
		if errors.Is(f.Err, domain.ErrIndexUnavailable) {
			return true
		}
	}
	return false
}

// runBatches dispatches n batches concurrently and folds their outcomes
// into report. ids(i) names the records of batch i for logging.
func (s *Synchronizer) runBatches(ctx context.Context, report *Report, logger *slog.Logger, n int,
	ids func(i int) []string, do func(ctx context.Context, i int) error) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			err := s.call(ctx, func(ctx context.Context) error { return do(ctx, i) })

			mu.Lock()
			defer mu.Unlock()
			report.BatchesAttempted++
			batchIDs := ids(i)
			if err != nil {
				err = domain.NewOpError(string(report.Op), "", domain.ErrSyncBatchFailed, err)
				report.BatchesFailed++
				report.Failures = append(report.Failures, BatchFailure{Pass: report.Passes, Index: i, IDs: batchIDs, Err: err})
				logger.Error("sync batch failed", "pass", report.Passes, "batch", i, "size", len(batchIDs), "ids", batchIDs, "err", err)
				return nil
			}
			report.BatchesSucceeded++
			if report.Op == OpDelete {
				report.RecordsProcessed += len(batchIDs)
			}
			return nil
		})
	}
	_ = g.Wait()
	sortFailures(report.Failures)
}

// call paces and bounds a single index call.
func (s *Synchronizer) call(ctx context.Context, fn func(context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (s *Synchronizer) stats(ctx context.Context) (domain.IndexStats, error) {
	var st domain.IndexStats
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.index.DescribeStats(ctx)
		return err
	})
	return st, err
}

func (s *Synchronizer) listIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.index.ListIDs(ctx, 0)
		return err
	})
	return ids, err
}

func (s *Synchronizer) finish(logger *slog.Logger, report *Report) {
	s.metrics.Observe(report)
	if err := report.Err(); err != nil {
		logger.Warn("sync incomplete", "err", err, "failed_ids", report.FailedIDs())
		return
	}
	logger.Info("sync complete", "batches", report.BatchesSucceeded, "duration", report.Duration)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
