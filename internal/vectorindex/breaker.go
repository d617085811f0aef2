// Package vectorindex holds helpers shared by the vector index backends.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"labrec/internal/domain"
)

// DefaultOpenTimeout is how long a tripped breaker rejects calls.
const DefaultOpenTimeout = 30 * time.Second

type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker. Defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Guarded wraps a VectorIndex with a circuit breaker so that a dead backend
// fails fast with domain.ErrIndexUnavailable instead of timing out on every
// call. Only reads (Query, DescribeStats, ListIDs) trip the breaker. Upsert
// and Delete are rejected while it is open, but their errors belong to the
// batch that issued them and never count toward tripping.
type Guarded struct {
	next domain.VectorIndex
	cb   *gobreaker.CircuitBreaker
}

func NewGuarded(next domain.VectorIndex, cfg BreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "vector-index"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// a caller giving up says nothing about the backend
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]domain.Match, error) {
	var out []domain.Match
	err := g.do(func() error {
		var err error
		out, err = g.next.Query(ctx, vector, topK, filter)
		return err
	})
	return out, err
}

func (g *Guarded) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	return g.write(func() error { return g.next.Upsert(ctx, entries) })
}

func (g *Guarded) Delete(ctx context.Context, ids []string) error {
	return g.write(func() error { return g.next.Delete(ctx, ids) })
}

func (g *Guarded) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	var out domain.IndexStats
	err := g.do(func() error {
		var err error
		out, err = g.next.DescribeStats(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) ListIDs(ctx context.Context, limit int) ([]string, error) {
	var out []string
	err := g.do(func() error {
		var err error
		out, err = g.next.ListIDs(ctx, limit)
		return err
	})
	return out, err
}

func (g *Guarded) do(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return err
}

func (g *Guarded) write(fn func() error) error {
	var werr error
	if err := g.do(func() error {
		werr = fn()
		return nil
	}); err != nil {
		return err
	}
	return werr
}
