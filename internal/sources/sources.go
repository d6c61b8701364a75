// Package sources fetches raw news items from external feeds and keeps the
// latest collected pool for ranking requests.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
)

var ErrSourceUnavailable = errors.New("source unavailable")

// Source produces raw items. Fetch returns ErrSourceUnavailable (wrapped)
// when nothing could be retrieved.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]news.RawItem, error)
}

// Collect fetches every source concurrently. A failing source is logged and
// contributes nothing; an error is returned only when all of them fail.
func Collect(ctx context.Context, srcs ...Source) ([]news.RawItem, error) {
	return collect(ctx, slog.Default(), metrics.Global, srcs)
}

func collect(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, srcs []Source) ([]news.RawItem, error) {
	results := make([][]news.RawItem, len(srcs))
	errs := make([]error, len(srcs))

	var g errgroup.Group
	for i, src := range srcs {
		g.Go(func() error {
			items, err := src.Fetch(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				m.IncrementSourcesFailed()
				logger.Warn("source unavailable", "source", src.Name(), "error", err)
				return nil
			}
			results[i] = items
			logger.Debug("source fetched", "source", src.Name(), "items", len(items))
			return nil
		})
	}
	g.Wait()

	var all []news.RawItem
	failed := 0
	for i := range srcs {
		if errs[i] != nil {
			failed++
			continue
		}
		all = append(all, results[i]...)
	}
	m.AddItemsFetched(len(all))

	if len(srcs) > 0 && failed == len(srcs) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// Pool holds the most recent successful collection.
type Pool struct {
	sources  []Source
	enricher *Enricher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	items   []news.RawItem
	updated time.Time
}

// NewPool builds a pool over srcs. enricher may be nil.
func NewPool(srcs []Source, enricher *Enricher, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sources:  srcs,
		enricher: enricher,
		metrics:  m,
		logger:   logger.With("component", "sources"),
	}
}

// Refresh collects all sources and replaces the pool. When every source
// fails the previous items are kept and the error is returned.
func (p *Pool) Refresh(ctx context.Context) (int, error) {
	start := time.Now()
	items, err := collect(ctx, p.logger, p.metrics, p.sources)
	if err != nil {
		p.metrics.SetError(err.Error())
		return 0, err
	}
	if p.enricher != nil {
		items = p.enricher.Enrich(ctx, items)
	}

	p.mu.Lock()
	p.items = items
	p.updated = time.Now()
	p.mu.Unlock()

	p.metrics.SetLastRun()
	p.logger.Info("pool refreshed", "items", len(items), "sources", len(p.sources), "took", time.Since(start))
	return len(items), nil
}

// Items returns a copy of the current pool.
func (p *Pool) Items() []news.RawItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]news.RawItem, len(p.items))
	copy(out, p.items)
	return out
}

func (p *Pool) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}
