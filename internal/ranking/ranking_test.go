package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/oracle"
	"github.com/deusflow/newsprefs/internal/profile"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// scriptedJudge scores by title. Missing titles fail.
type scriptedJudge struct {
	mu     sync.Mutex
	scores map[string]int
	calls  []string
}

func (j *scriptedJudge) JudgeRelevance(_ context.Context, c news.Candidate, _ *profile.Profile) (oracle.Judgment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c.Title)
	s, ok := j.scores[c.Title]
	if !ok {
		return oracle.Judgment{}, fmt.Errorf("%w: boom", oracle.ErrUnavailable)
	}
	return oracle.Judgment{Score: s, Explanation: "judged " + c.Title}, nil
}

func cand(title string, age time.Duration) news.Candidate {
	return news.NewCandidate(news.RawItem{
		Title:     title,
		URL:       "https://example.com/" + title,
		Source:    "test",
		Published: base.Add(-age),
	})
}

func titles(cs []news.Candidate) string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Title
	}
	return fmt.Sprint(out)
}

func nlpProfile() *profile.Profile {
	p := profile.New()
	p.SetWeight("nlp", 0.8)
	p.SetWeight("robotics", 0.5)
	return p
}

func TestTier1Order(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil, metrics.New(), nil)
	cs := []news.Candidate{
		cand("plain AI news", time.Hour),
		cand("OpenAI raises $500M for NLP research", 2*time.Hour),
		cand("robotics arm startup", time.Hour),
		cand("newer plain AI news", 0),
	}

	got := s.Rank(context.Background(), cs, nlpProfile(), 10)
	want := "[OpenAI raises $500M for NLP research robotics arm startup newer plain AI news plain AI news]"
	if titles(got) != want {
		t.Errorf("order = %s, want %s", titles(got), want)
	}
	if got[0].Tier1Score <= got[2].Tier1Score {
		t.Errorf("overlap score %.2f not above no-overlap %.2f", got[0].Tier1Score, got[2].Tier1Score)
	}
	if got[0].Explanation != "matches nlp (0.80)" {
		t.Errorf("explanation = %q", got[0].Explanation)
	}
}

func TestTier1PreferredSourceBreaksTies(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil, metrics.New(), nil)
	a := cand("first", time.Hour)
	a.Source = "HackerNews"
	b := cand("second", time.Hour)
	b.Source = "TechCrunch"

	p := profile.New()
	p.PreferredSources = []string{"TechCrunch", "HackerNews"}
	got := s.Rank(context.Background(), []news.Candidate{a, b}, p, 0)
	if titles(got) != "[second first]" {
		t.Errorf("order = %s", titles(got))
	}
}

func TestQualityGate(t *testing.T) {
	j := &scriptedJudge{scores: map[string]int{"a": 8, "b": 5, "c": 9}}
	m := metrics.New()
	s := NewScorer(DefaultConfig(), j, m, nil)

	got := s.Rank(context.Background(), []news.Candidate{cand("a", 0), cand("b", time.Hour), cand("c", 2*time.Hour)}, profile.New(), 10)
	if titles(got) != "[c a]" {
		t.Fatalf("order = %s, want [c a]", titles(got))
	}
	if got[0].OracleScore != 9 || got[0].Explanation != "judged c" {
		t.Errorf("judgment not applied: %+v", got[0])
	}
	if m.QualityGateDrops != 1 {
		t.Errorf("QualityGateDrops = %d, want 1", m.QualityGateDrops)
	}
}

func TestFailedJudgmentKeepsCandidate(t *testing.T) {
	j := &scriptedJudge{scores: map[string]int{"a": 7, "c": 9}}
	m := metrics.New()
	s := NewScorer(DefaultConfig(), j, m, nil)

	got := s.Rank(context.Background(), []news.Candidate{cand("a", 0), cand("b", time.Hour), cand("c", 2*time.Hour)}, profile.New(), 10)
	if titles(got) != "[c a b]" {
		t.Errorf("order = %s, want [c a b]", titles(got))
	}
	if got[2].OracleScore != 0 || got[2].Relevance != got[2].Tier1Score {
		t.Errorf("failed candidate should keep Tier-1 score: %+v", got[2])
	}
	if m.OracleFallbacks != 1 {
		t.Errorf("OracleFallbacks = %d, want 1", m.OracleFallbacks)
	}
}

func TestOracleUnavailableFallsBackToTier1(t *testing.T) {
	s := NewScorer(DefaultConfig(), &scriptedJudge{}, metrics.New(), nil)
	cs := []news.Candidate{cand("plain AI news", 0), cand("NLP model launch", time.Hour)}

	got := s.Rank(context.Background(), cs, nlpProfile(), 5)
	if titles(got) != "[NLP model launch plain AI news]" {
		t.Errorf("order = %s", titles(got))
	}
}

func TestAllBelowThresholdUsesTier1(t *testing.T) {
	j := &scriptedJudge{scores: map[string]int{"plain AI news": 2, "NLP model launch": 3}}
	s := NewScorer(DefaultConfig(), j, metrics.New(), nil)
	cs := []news.Candidate{cand("plain AI news", 0), cand("NLP model launch", time.Hour)}

	got := s.Rank(context.Background(), cs, nlpProfile(), 5)
	if titles(got) != "[NLP model launch plain AI news]" {
		t.Errorf("order = %s", titles(got))
	}
}

func TestOnlyHeadIsJudged(t *testing.T) {
	j := &scriptedJudge{scores: map[string]int{"a": 6, "b": 6, "c": 10}}
	cfg := DefaultConfig()
	cfg.OracleTopN = 2
	s := NewScorer(cfg, j, metrics.New(), nil)

	got := s.Rank(context.Background(), []news.Candidate{cand("a", 0), cand("b", time.Hour), cand("c", 2*time.Hour)}, profile.New(), 10)
	if len(j.calls) != 2 {
		t.Errorf("judge calls = %v, want 2", j.calls)
	}
	if titles(got) != "[a b c]" {
		t.Errorf("order = %s, want [a b c]", titles(got))
	}
}

func TestTopK(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil, metrics.New(), nil)
	var cs []news.Candidate
	for i := 0; i < 8; i++ {
		cs = append(cs, cand(fmt.Sprintf("item %d", i), time.Duration(i)*time.Hour))
	}
	if got := s.Rank(context.Background(), cs, profile.New(), 3); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
	if got := s.Rank(context.Background(), cs, profile.New(), 0); len(got) != 5 {
		t.Errorf("default topK len = %d, want 5", len(got))
	}
	if got := s.Rank(context.Background(), nil, profile.New(), 3); len(got) != 0 {
		t.Errorf("empty input returned %d", len(got))
	}
}

type slowJudge struct {
	inFlight, peak atomic.Int32
}

func (j *slowJudge) JudgeRelevance(context.Context, news.Candidate, *profile.Profile) (oracle.Judgment, error) {
	n := j.inFlight.Add(1)
	defer j.inFlight.Add(-1)
	for {
		p := j.peak.Load()
		if n <= p || j.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return oracle.Judgment{}, errors.New("nope")
}

func TestConcurrencyLimit(t *testing.T) {
	j := &slowJudge{}
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	s := NewScorer(cfg, j, metrics.New(), nil)

	var cs []news.Candidate
	for i := 0; i < 10; i++ {
		cs = append(cs, cand(fmt.Sprintf("item %d", i), 0))
	}
	s.Rank(context.Background(), cs, profile.New(), 10)
	if j.peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", j.peak.Load())
	}
}
