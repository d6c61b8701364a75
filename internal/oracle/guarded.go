package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deusflow/newsprefs/internal/cache"
	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
	"github.com/deusflow/newsprefs/internal/ratelimit"
	"github.com/deusflow/newsprefs/internal/retry"
)

type GuardOptions struct {
	// Name identifies the backend in logs and rate-limit accounting.
	Name     string
	Timeout  time.Duration
	Retry    retry.Config
	Limiter  *ratelimit.Limiter
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Guarded wraps a backend with a per-attempt timeout, retries for
// unavailable errors, a daily budget and a judgment cache.
type Guarded struct {
	inner     Oracle
	opts      GuardOptions
	judgments *cache.Cache[Judgment]
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewGuarded(inner Oracle, opts GuardOptions) *Guarded {
	if opts.Name == "" {
		opts.Name = "oracle"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = func(err error) bool { return !errors.Is(err, ErrMalformed) }
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guarded{
		inner:   inner,
		opts:    opts,
		logger:  logger.With("component", "oracle", "backend", opts.Name),
		metrics: opts.Metrics,
	}
	if opts.CacheTTL > 0 {
		g.judgments = cache.New[Judgment](opts.CacheTTL)
	}
	return g
}

// Close stops the judgment cache sweeper.
func (g *Guarded) Close() {
	if g.judgments != nil {
		g.judgments.Close()
	}
}

// Stats reports budget usage and whether another call would be allowed, or
// nil when the backend has no budget.
func (g *Guarded) Stats() map[string]any {
	if g.opts.Limiter == nil {
		return nil
	}
	stats := g.opts.Limiter.GetStats()
	stats["available"] = g.opts.Limiter.Allow(g.opts.Name)
	return stats
}

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Use(g.opts.Name); err != nil {
			g.metrics.IncrementOracleFailures()
			g.logger.Warn("oracle budget exhausted", "op", op, "error", err)
			return unavailable(err)
		}
	}

	start := time.Now()
	err := retry.WithRetry(ctx, g.opts.Retry, func() error {
		g.metrics.IncrementOracleCalls()
		actx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		return fn(actx)
	})
	if err != nil {
		g.metrics.IncrementOracleFailures()
		err = unavailable(err)
		g.logger.Warn("oracle call failed", "op", op, "error", err, "duration", time.Since(start))
		return err
	}
	g.logger.Debug("oracle call", "op", op, "duration", time.Since(start))
	return nil
}

func (g *Guarded) ExtractProfile(ctx context.Context, text string) (profile.Delta, error) {
	var d profile.Delta
	err := g.call(ctx, "extract_profile", func(ctx context.Context) error {
		var err error
		d, err = g.inner.ExtractProfile(ctx, text)
		return err
	})
	return d, err
}

func (g *Guarded) JudgeRelevance(ctx context.Context, c news.Candidate, p *profile.Profile) (Judgment, error) {
	key := cache.Key(c.ID, p.Fingerprint())
	if g.judgments != nil {
		if j, ok := g.judgments.Get(key); ok {
			if g.opts.Limiter != nil {
				g.opts.Limiter.RecordCacheHit()
			}
			return j, nil
		}
	}

	var j Judgment
	err := g.call(ctx, "judge_relevance", func(ctx context.Context) error {
		var err error
		j, err = g.inner.JudgeRelevance(ctx, c, p)
		return err
	})
	if err != nil {
		return Judgment{}, err
	}
	if g.judgments != nil {
		g.judgments.Set(key, j, g.opts.CacheTTL)
	}
	return j, nil
}

func (g *Guarded) InterpretFeedback(ctx context.Context, reason string, c news.Candidate, p *profile.Profile) (profile.Delta, error) {
	var d profile.Delta
	err := g.call(ctx, "interpret_feedback", func(ctx context.Context) error {
		var err error
		d, err = g.inner.InterpretFeedback(ctx, reason, c, p)
		return err
	})
	return d, err
}

func (g *Guarded) Summarize(ctx context.Context, c news.Candidate) (string, error) {
	var s string
	err := g.call(ctx, "summarize", func(ctx context.Context) error {
		var err error
		s, err = g.inner.Summarize(ctx, c)
		return err
	})
	return s, err
}
