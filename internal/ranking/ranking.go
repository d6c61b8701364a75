// Package ranking orders filtered candidates for one profile: a cheap
// keyword score for everything, then an optional oracle pass over the head
// of the list with a quality gate.
package ranking

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/oracle"
	"github.com/deusflow/newsprefs/internal/profile"
)

type Judge interface {
	JudgeRelevance(ctx context.Context, c news.Candidate, p *profile.Profile) (oracle.Judgment, error)
}

type Config struct {
	BaseScore float64
	// OracleTopN is how many Tier-1 leaders are sent to the judge.
	OracleTopN int
	// QualityThreshold drops judged candidates scoring below it.
	QualityThreshold int
	Concurrency      int
	DefaultTopK      int
}

func DefaultConfig() Config {
	return Config{
		BaseScore:        0.1,
		OracleTopN:       10,
		QualityThreshold: 6,
		Concurrency:      4,
		DefaultTopK:      5,
	}
}

type Scorer struct {
	cfg     Config
	judge   Judge
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScorer builds a scorer. A nil judge disables Tier 2.
func NewScorer(cfg Config, judge Judge, m *metrics.Metrics, logger *slog.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.OracleTopN <= 0 {
		cfg.OracleTopN = def.OracleTopN
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, judge: judge, metrics: m, logger: logger.With("component", "ranking")}
}

type outcome int

const (
	unjudged outcome = iota
	passed
	dropped
	failed
)

// Rank returns at most topK candidates, best first. It never fails: oracle
// errors degrade to the Tier-1 order.
func (s *Scorer) Rank(ctx context.Context, candidates []news.Candidate, p *profile.Profile, topK int) []news.Candidate {
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if len(candidates) == 0 {
		return nil
	}

	ranked := s.tier1(candidates, p)
	if s.judge == nil {
		return truncate(ranked, topK)
	}

	head := min(s.cfg.OracleTopN, len(ranked))
	results := make([]oracle.Judgment, head)
	outcomes := make([]outcome, len(ranked))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := 0; i < head; i++ {
		g.Go(func() error {
			j, err := s.judge.JudgeRelevance(ctx, ranked[i], p)
			if err != nil {
				outcomes[i] = failed
				return nil
			}
			results[i] = j
			if j.Score < s.cfg.QualityThreshold {
				outcomes[i] = dropped
			} else {
				outcomes[i] = passed
			}
			return nil
		})
	}
	_ = g.Wait()

	var good, fallback []news.Candidate
	var drops, failures int
	for i, c := range ranked {
		switch outcomes[i] {
		case passed:
			good = append(good, withJudgment(c, results[i]))
		case dropped:
			drops++
		case failed:
			failures++
			fallback = append(fallback, c)
		default:
			fallback = append(fallback, c)
		}
	}
	sort.SliceStable(good, func(i, j int) bool { return good[i].OracleScore > good[j].OracleScore })

	if drops > 0 {
		s.metrics.AddQualityGateDrops(drops)
	}
	if failures > 0 {
		s.metrics.AddOracleFallbacks(failures)
		s.logger.Warn("relevance oracle failed, keeping Tier-1 score", "failed", failures, "judged", head)
	}

	out := append(good, fallback...)
	if len(out) == 0 {
		s.logger.Info("no candidate passed the quality gate, using Tier-1 order", "dropped", drops)
		out = ranked
	}
	s.logger.Debug("ranked candidates", "passed", len(good), "dropped", drops, "failed", failures, "returned", min(topK, len(out)))
	return truncate(out, topK)
}

// tier1 scores every candidate and sorts by score, newer date, preferred
// source rank and finally input order.
func (s *Scorer) tier1(candidates []news.Candidate, p *profile.Profile) []news.Candidate {
	ranked := make([]news.Candidate, len(candidates))
	for i, c := range candidates {
		score, matched := news.Tier1(c, p, s.cfg.BaseScore)
		c.Tier1Score = score
		c.Relevance = score
		c.Explanation = news.ExplainTier1(matched, p)
		ranked[i] = c
	}

	sourceRank := func(src string) int {
		if i := slices.Index(p.PreferredSources, src); i >= 0 {
			return i
		}
		return len(p.PreferredSources)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Tier1Score != b.Tier1Score {
			return a.Tier1Score > b.Tier1Score
		}
		if !a.Published.Equal(b.Published) {
			return a.Published.After(b.Published)
		}
		return sourceRank(a.Source) < sourceRank(b.Source)
	})
	return ranked
}

func withJudgment(c news.Candidate, j oracle.Judgment) news.Candidate {
	c.OracleScore = j.Score
	c.Relevance = float64(j.Score)
	if j.Explanation != "" {
		c.Explanation = j.Explanation
	}
	if len(j.Topics) > 0 {
		c.ExtractedTopics = j.Topics
	}
	if c.Summary == "" {
		c.Summary = j.Summary
	}
	return c
}

func truncate(cs []news.Candidate, n int) []news.Candidate {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}
