package indexsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labrec/internal/domain"
	"labrec/internal/vectorindex"
	"labrec/internal/vectorindex/memory"
)

type lenEmbedder struct{}

func (lenEmbedder) Name() string   { return "len" }
func (lenEmbedder) Dimension() int { return 2 }
func (lenEmbedder) Embed(text string) []float64 {
	return []float64{1, float64(len(text))}
}

// flakyIndex wraps a memory index with scripted failures.
type flakyIndex struct {
	*memory.Index

	mu          sync.Mutex
	failUpsert  string
	upsertDelay time.Duration
	statsErr    error
	// failFirstUpserts fails that many Upsert calls before recovering.
	failFirstUpserts int
	upsertCalls      int
	// listErrs fails that many ListIDs calls before recovering.
	listErrs int
	// deleteScript is consumed one entry per Delete call: "fail" errors,
	// "one" removes only the first id, "ghost" succeeds without removing.
	// An exhausted script deletes normally.
	deleteScript []string
}

func (f *flakyIndex) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if f.upsertDelay > 0 {
		select {
		case <-time.After(f.upsertDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.upsertCalls++
	down := f.upsertCalls <= f.failFirstUpserts
	f.mu.Unlock()
	if down {
		return errors.New("service unavailable")
	}
	for _, e := range entries {
		if e.ID == f.failUpsert {
			return errors.New("service unavailable")
		}
	}
	return f.Index.Upsert(ctx, entries)
}

func (f *flakyIndex) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	step := ""
	if len(f.deleteScript) > 0 {
		step, f.deleteScript = f.deleteScript[0], f.deleteScript[1:]
	}
	f.mu.Unlock()
	switch step {
	case "fail":
		return errors.New("delete rejected")
	case "one":
		return f.Index.Delete(ctx, ids[:1])
	case "ghost":
		return nil
	}
	return f.Index.Delete(ctx, ids)
}

func (f *flakyIndex) ListIDs(ctx context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	fail := f.listErrs > 0
	if fail {
		f.listErrs--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("list timed out")
	}
	return f.Index.ListIDs(ctx, limit)
}

func (f *flakyIndex) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	if f.statsErr != nil {
		return domain.IndexStats{}, f.statsErr
	}
	return f.Index.DescribeStats(ctx)
}

func catalog(n int) []domain.CatalogRecord {
	recs := make([]domain.CatalogRecord, n)
	for i := range recs {
		recs[i] = domain.CatalogRecord{ID: fmt.Sprintf("r%d", i), Name: fmt.Sprintf("Test %d", i), Description: "desc"}
	}
	return recs
}

func fastConfig() Config {
	return Config{BatchSize: 2, Concurrency: 3, RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond}
}

func TestBuildAndUpsertIsIdempotent(t *testing.T) {
	idx := memory.NewIndex(2)
	s := New(lenEmbedder{}, idx, fastConfig(), nil)
	recs := catalog(5)

	_, err := s.BuildAndUpsert(context.Background(), recs)
	require.NoError(t, err)
	recs[3].Description = "updated"
	report, err := s.BuildAndUpsert(context.Background(), recs)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	stats, err := idx.DescribeStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCount)
	e, ok := idx.Get("r3")
	require.True(t, ok)
	assert.Equal(t, "updated", e.Metadata[domain.FieldDescription])
	assert.Equal(t, 3, report.BatchesAttempted)
	assert.Equal(t, 5, report.RecordsProcessed)
	assert.NotEmpty(t, report.RunID)
}

func TestBuildAndUpsertIsolatesFailedBatch(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), failUpsert: "r4"}
	m := NewMetrics()
	s := New(lenEmbedder{}, idx, fastConfig(), nil).WithMetrics(m)

	report, err := s.BuildAndUpsert(context.Background(), catalog(10))
	require.NoError(t, err)
	assert.Equal(t, 5, report.BatchesAttempted)
	assert.Equal(t, 4, report.BatchesSucceeded)
	assert.Equal(t, 1, report.BatchesFailed)
	assert.Equal(t, []string{"r4", "r5"}, report.FailedIDs())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 2, report.Failures[0].Index)
	assert.ErrorIs(t, report.Failures[0].Err, domain.ErrSyncBatchFailed)
	assert.ErrorIs(t, report.Err(), domain.ErrSyncIncomplete)

	stats, err := idx.DescribeStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, stats.TotalCount)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.batches.WithLabelValues("upsert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("upsert", "failure")))
}

func TestBuildAndUpsertTimeoutFailsBatch(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), upsertDelay: time.Second}
	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	s := New(lenEmbedder{}, idx, cfg, nil)

	report, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, context.DeadlineExceeded)
}

func TestDeleteAllOnEmptyIndexIsNoop(t *testing.T) {
	s := New(lenEmbedder{}, memory.NewIndex(2), fastConfig(), nil)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.BatchesAttempted)
	assert.Zero(t, report.Passes)
	assert.NoError(t, report.Err())
}

func TestDeleteAllRemovesEverything(t *testing.T) {
	idx := memory.NewIndex(2)
	cfg := fastConfig()
	cfg.BatchSize = 100
	s := New(lenEmbedder{}, idx, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(250))
	require.NoError(t, err)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, report.InitialCount)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, 3, report.BatchesAttempted)
	assert.Equal(t, 250, report.RecordsProcessed)
	assert.Zero(t, report.Residual)
	assert.NoError(t, report.Err())
}

func TestDeleteAllGivesUpWithoutProgress(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), deleteScript: slices.Repeat([]string{"fail"}, 10)}
	cfg := fastConfig()
	cfg.MaxDeleteAttempts = 3
	s := New(lenEmbedder{}, idx, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Passes)
	assert.Equal(t, 3, report.BatchesFailed)
	assert.Equal(t, 2, report.Residual)
	assert.ErrorIs(t, report.Err(), domain.ErrSyncIncomplete)
}

func TestDeleteAllProgressResetsAttempts(t *testing.T) {
	idx := &flakyIndex{
		Index:        memory.NewIndex(2),
		deleteScript: []string{"fail", "one", "fail", "one", "fail", "one"},
	}
	cfg := fastConfig()
	cfg.BatchSize = 100
	cfg.MaxDeleteAttempts = 2
	s := New(lenEmbedder{}, idx, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(3))
	require.NoError(t, err)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Passes)
	assert.Equal(t, 3, report.BatchesFailed)
	assert.Zero(t, report.Residual)
	assert.NoError(t, report.Err())
}

func TestDeleteAllStopsAtPassCap(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), deleteScript: slices.Repeat([]string{"ghost"}, 20)}
	cfg := fastConfig()
	cfg.MaxDeletePasses = 4
	s := New(lenEmbedder{}, idx, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Passes)
	assert.Equal(t, 2, report.Residual)
	assert.True(t, report.Incomplete())
}

func TestDeleteAllAbortsWhenDiscoveryFails(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), statsErr: errors.New("connection refused")}
	s := New(lenEmbedder{}, idx, fastConfig(), nil)

	report, err := s.DeleteAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, -1, report.Residual)
	assert.ErrorIs(t, report.Err(), domain.ErrSyncIncomplete)
}

func TestDeleteAllRetriesFailedListing(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), listErrs: 2}
	cfg := fastConfig()
	cfg.MaxDeleteAttempts = 3
	s := New(lenEmbedder{}, idx, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Passes)
	assert.Zero(t, report.Residual)
	assert.NoError(t, report.Err())
}

func TestDeleteAllCancelledLeavesResidualUnknown(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), deleteScript: slices.Repeat([]string{"fail"}, 10)}
	cfg := fastConfig()
	cfg.RetryInitial, cfg.RetryMax = time.Second, time.Second
	m := NewMetrics()
	s := New(lenEmbedder{}, idx, cfg, nil).WithMetrics(m)
	_, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	report, err := s.DeleteAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, -1, report.Residual)
	assert.ErrorIs(t, report.Err(), domain.ErrSyncIncomplete)
	assert.Equal(t, -1.0, testutil.ToFloat64(m.residual))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("delete", "failure")))
}

func TestBuildAndUpsertBehindBreakerAttemptsEveryBatch(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2), failFirstUpserts: 5}
	g := vectorindex.NewGuarded(idx, vectorindex.BreakerConfig{OpenTimeout: time.Hour})
	s := New(lenEmbedder{}, g, fastConfig(), nil)

	report, err := s.BuildAndUpsert(context.Background(), catalog(20))
	require.NoError(t, err)
	assert.Equal(t, 10, report.BatchesAttempted)
	assert.Equal(t, 5, report.BatchesFailed)
	assert.Equal(t, 5, report.BatchesSucceeded)
	assert.Equal(t, 10, idx.upsertCalls)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestDeleteAllBehindBreakerUsesEveryAttempt(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2)}
	g := vectorindex.NewGuarded(idx, vectorindex.BreakerConfig{OpenTimeout: time.Hour})
	cfg := fastConfig()
	cfg.BatchSize = 100
	s := New(lenEmbedder{}, g, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(600))
	require.NoError(t, err)
	idx.deleteScript = slices.Repeat([]string{"fail"}, 100)

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDeleteAttempts, report.Passes)
	assert.Equal(t, 6*DefaultMaxDeleteAttempts, report.BatchesFailed)
	assert.Equal(t, 600, report.Residual)
	assert.ErrorIs(t, report.Err(), domain.ErrSyncIncomplete)
}

func TestDeleteAllWaitsOutOpenBreaker(t *testing.T) {
	idx := &flakyIndex{Index: memory.NewIndex(2)}
	g := vectorindex.NewGuarded(idx, vectorindex.BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond})
	cfg := fastConfig()
	cfg.MaxDeleteAttempts = 3
	cfg.UnavailableWait = 60 * time.Millisecond
	s := New(lenEmbedder{}, g, cfg, nil)
	_, err := s.BuildAndUpsert(context.Background(), catalog(2))
	require.NoError(t, err)
	// the first listing trips the breaker, the second is rejected while open
	idx.listErrs = 1

	report, err := s.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Passes)
	assert.Zero(t, report.Residual)
	assert.NoError(t, report.Err())
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetrics()
	m.Observe(&Report{Op: OpDelete, BatchesSucceeded: 2, RecordsProcessed: 150, Residual: 3})
	path := filepath.Join(t.TempDir(), "labrec.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `labrec_sync_records_total{operation="delete"} 150`)
	assert.Contains(t, string(data), "labrec_sync_residual_entries 3")
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5}}, chunk([]int{1, 2, 3, 4, 5}, 3))
}
