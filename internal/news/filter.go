package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

// ViewedFunc reports whether the user has already been shown news id.
type ViewedFunc func(ctx context.Context, id string) (bool, error)

type FilterConfig struct {
	// MaxCandidates caps the filter output.
	MaxCandidates int
	// MinCandidates is the size below which already-viewed items are used
	// to backfill the result.
	MinCandidates int
	// RecencyFallback is how many of the most recent items are kept when
	// nothing passes the recency window.
	RecencyFallback int
	// RequireFocus makes the focus vocabulary a second mandatory gate.
	RequireFocus bool
	// ExclusionEscapeHatch lets an excluded item through when its title
	// carries a strong focus keyword.
	ExclusionEscapeHatch bool
	BaseScore            float64
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxCandidates:        10,
		MinCandidates:        3,
		RecencyFallback:      10,
		RequireFocus:         true,
		ExclusionEscapeHatch: true,
		BaseScore:            0.1,
	}
}

// FilterStats counts what each gate removed.
type FilterStats struct {
	Input           int
	Invalid         int
	OffTopic        int
	Excluded        int
	Stale           int
	Duplicates      int
	Backfilled      int
	RecencyFallback bool
}

func (s FilterStats) String() string {
	return fmt.Sprintf("input=%d invalid=%d off_topic=%d excluded=%d stale=%d duplicates=%d backfilled=%d recency_fallback=%t",
		s.Input, s.Invalid, s.OffTopic, s.Excluded, s.Stale, s.Duplicates, s.Backfilled, s.RecencyFallback)
}

type Filter struct {
	vocab  *Vocabulary
	cfg    FilterConfig
	logger *slog.Logger
}

func NewFilter(vocab *Vocabulary, cfg FilterConfig, logger *slog.Logger) *Filter {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultFilterConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MinCandidates < 0 {
		cfg.MinCandidates = def.MinCandidates
	}
	if cfg.RecencyFallback <= 0 {
		cfg.RecencyFallback = cfg.MaxCandidates
	}
	return &Filter{vocab: vocab, cfg: cfg, logger: logger.With("component", "filter")}
}

func (f *Filter) Vocabulary() *Vocabulary { return f.vocab }

func (f *Filter) Config() FilterConfig { return f.cfg }

// Apply runs the gates in order: validity, keyword, exclusion, recency and
// view-history dedup. The result is at most MaxCandidates items in the
// order they were discovered, each carrying its Tier-1 score.
func (f *Filter) Apply(ctx context.Context, items []RawItem, p *profile.Profile, viewed ViewedFunc, now time.Time) ([]Candidate, FilterStats) {
	stats := FilterStats{Input: len(items)}
	order := make(map[string]int, len(items))

	pool := make([]Candidate, 0, len(items))
	for _, it := range items {
		c := NewCandidate(it)
		if c.Title == "" || !resolvableURL(c.URL) {
			stats.Invalid++
			continue
		}
		if _, dup := order[c.ID]; dup {
			continue
		}
		order[c.ID] = len(pool)
		pool = append(pool, c)
	}

	aiTerms := f.aiTerms(p)
	topical := pool[:0:0]
	for _, c := range pool {
		text := c.Text()
		if !ContainsAny(text, aiTerms) {
			stats.OffTopic++
			continue
		}
		if f.cfg.RequireFocus && len(f.vocab.Focus) > 0 && !ContainsAny(text, f.vocab.Focus) {
			stats.OffTopic++
			continue
		}
		topical = append(topical, c)
	}

	excluded := f.exclusionTerms(p)
	allowed := topical[:0:0]
	for _, c := range topical {
		if term := FirstMatch(c.Text(), excluded); term != "" {
			if f.cfg.ExclusionEscapeHatch && ContainsAny(c.Title, f.vocab.StrongFocus) {
				f.logger.Debug("exclusion overridden by strong focus keyword", "id", c.ID, "term", term)
			} else {
				stats.Excluded++
				continue
			}
		}
		allowed = append(allowed, c)
	}

	fresh := allowed[:0:0]
	for _, c := range allowed {
		if DaysOld(c.Published, now) <= p.RecencyPreference {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 && len(allowed) > 0 {
		stats.RecencyFallback = true
		fresh = mostRecent(allowed, f.cfg.RecencyFallback)
		sortByDiscovery(fresh, order)
	} else {
		stats.Stale = len(allowed) - len(fresh)
	}

	var unseen, seen []Candidate
	for _, c := range fresh {
		var (
			ok  bool
			err error
		)
		if viewed != nil {
			ok, err = viewed(ctx, c.ID)
		}
		if err != nil {
			f.logger.Warn("view history lookup failed, treating as unseen", "id", c.ID, "error", err)
			ok = false
		}
		if ok {
			c.Viewed = true
			seen = append(seen, c)
			continue
		}
		unseen = append(unseen, c)
	}
	stats.Duplicates = len(seen)

	out := unseen
	if len(out) < f.cfg.MinCandidates && len(seen) > 0 {
		need := f.cfg.MinCandidates - len(out)
		backfill := mostRecent(seen, need)
		stats.Backfilled = len(backfill)
		out = append(out, backfill...)
		sortByDiscovery(out, order)
	}

	for i := range out {
		score, matched := Tier1(out[i], p, f.cfg.BaseScore)
		out[i].Tier1Score = score
		out[i].Relevance = score
		out[i].Explanation = ExplainTier1(matched, p)
	}

	if len(out) > f.cfg.MaxCandidates {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Tier1Score != out[j].Tier1Score {
				return out[i].Tier1Score > out[j].Tier1Score
			}
			return out[i].Published.After(out[j].Published)
		})
		out = out[:f.cfg.MaxCandidates]
		sortByDiscovery(out, order)
	}

	f.logger.Debug("filtered candidates", "kept", len(out), "stats", stats.String())
	return out, stats
}

// aiTerms is the AI vocabulary plus the user's own interests, so an item
// about a followed topic passes the keyword gate even without a generic AI
// term. Suppressed tags do not widen the gate.
func (f *Filter) aiTerms(p *profile.Profile) []string {
	terms := slices.Clone(f.vocab.AI)
	for _, tag := range p.SortedTags() {
		if !p.Suppressed(tag) {
			terms = append(terms, profile.TagText(tag))
		}
	}
	return terms
}

// exclusionTerms expands the profile exclusions through the region table so
// that excluding "eu" also drops items mentioning "europe".
func (f *Filter) exclusionTerms(p *profile.Profile) []string {
	var terms []string
	for _, ex := range p.Exclusions {
		for _, t := range f.vocab.ExpandTerm(ex) {
			terms = append(terms, profile.TagText(t))
		}
	}
	return terms
}

func resolvableURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// mostRecent returns up to n items, newest first. Unknown dates sort last.
func mostRecent(items []Candidate, n int) []Candidate {
	sorted := make([]Candidate, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Published.After(sorted[j].Published)
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func sortByDiscovery(items []Candidate, order map[string]int) {
	sort.SliceStable(items, func(i, j int) bool {
		return order[items[i].ID] < order[items[j].ID]
	})
}
