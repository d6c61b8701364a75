// Package engine is the caller-facing API: onboarding, ranking, feedback and
// explicit profile edits, each one request-scoped and synchronous.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsprefs/internal/cache"
	"github.com/deusflow/newsprefs/internal/feedback"
	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/oracle"
	"github.com/deusflow/newsprefs/internal/profile"
	"github.com/deusflow/newsprefs/internal/ranking"
	"github.com/deusflow/newsprefs/internal/storage"
)

var (
	ErrProfileNotFound = storage.ErrProfileNotFound
	// ErrInvalidFeedbackEvent means the event names an item that was not in
	// the user's last ranked list, or carries an unknown signal.
	ErrInvalidFeedbackEvent = errors.New("invalid feedback event")
	ErrInvalidTag           = errors.New("invalid tag")
	ErrTagExcluded          = errors.New("tag is excluded")
)

type Options struct {
	Filter  news.FilterConfig
	Ranking ranking.Config
	// Summaries fills Candidate.Summary for every returned item.
	Summaries bool
	// SessionTTL bounds how long a ranked list accepts feedback.
	SessionTTL time.Duration
	// FeedbackAttempts bounds optimistic retries when feedback races with
	// another write to the same profile.
	FeedbackAttempts   int
	SummaryConcurrency int
	Now                func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Filter:             news.DefaultFilterConfig(),
		Ranking:            ranking.DefaultConfig(),
		SessionTTL:         24 * time.Hour,
		FeedbackAttempts:   3,
		SummaryConcurrency: 4,
		Now:                time.Now,
	}
}

type Engine struct {
	store       storage.Store
	remote      oracle.Oracle
	local       *oracle.Local
	filter      *news.Filter
	scorer      *ranking.Scorer
	interpreter *feedback.Interpreter
	vocab       *news.Vocabulary
	sessions    *cache.Cache[[]news.Candidate]
	opts        Options
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New wires an engine. remote may be nil, in which case every oracle
// question is answered by the local keyword rules and Tier 2 is skipped.
func New(store storage.Store, remote oracle.Oracle, vocab *news.Vocabulary, opts Options, m *metrics.Metrics, logger *slog.Logger) *Engine {
	def := DefaultOptions()
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = def.SessionTTL
	}
	if opts.FeedbackAttempts <= 0 {
		opts.FeedbackAttempts = def.FeedbackAttempts
	}
	if opts.SummaryConcurrency <= 0 {
		opts.SummaryConcurrency = def.SummaryConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Filter.MaxCandidates <= 0 {
		opts.Filter = def.Filter
	}
	if opts.Ranking == (ranking.Config{}) {
		opts.Ranking = def.Ranking
	}
	if vocab == nil {
		vocab = news.DefaultVocabulary()
	}
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = slog.Default()
	}

	local := oracle.NewLocal(vocab)
	var (
		judge     ranking.Judge
		interpret oracle.Oracle = local
	)
	if remote != nil {
		judge = remote
		interpret = remote
	}

	return &Engine{
		store:       store,
		remote:      remote,
		local:       local,
		filter:      news.NewFilter(vocab, opts.Filter, logger),
		scorer:      ranking.NewScorer(opts.Ranking, judge, m, logger),
		interpreter: feedback.NewInterpreter(interpret, vocab, m, logger),
		vocab:       vocab,
		sessions:    cache.New[[]news.Candidate](opts.SessionTTL),
		opts:        opts,
		metrics:     m,
		logger:      logger.With("component", "engine"),
	}
}

// Close stops background cache sweeping. The store is owned by the caller.
func (e *Engine) Close() {
	e.sessions.Close()
}

// RankNews filters and ranks raw for userID, records the returned items as
// viewed and remembers them as the list feedback may refer to.
func (e *Engine) RankNews(ctx context.Context, userID string, raw []news.RawItem, topK int) ([]news.Candidate, error) {
	start := time.Now()
	e.metrics.IncrementRankRequests()

	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rank news for %s: %w", userID, err)
	}

	viewed := func(ctx context.Context, id string) (bool, error) {
		return e.store.HasViewed(ctx, userID, id)
	}
	candidates, stats := e.filter.Apply(ctx, raw, p, viewed, e.opts.Now())
	e.metrics.AddCandidatesFiltered(stats.Input - len(candidates))
	e.metrics.AddDuplicatesFiltered(stats.Duplicates)

	ranked := e.scorer.Rank(ctx, candidates, p, topK)
	if ranked == nil {
		ranked = []news.Candidate{}
	}
	if e.opts.Summaries {
		e.summarize(ctx, ranked)
	}

	for _, c := range ranked {
		if err := e.store.MarkViewed(ctx, userID, c.ID); err != nil {
			e.logger.Warn("failed to record view", "user", userID, "id", c.ID, "error", err)
		}
	}
	e.sessions.Set(userID, cloneCandidates(ranked), e.opts.SessionTTL)

	elapsed := time.Since(start)
	e.metrics.RecordProcessingTime(elapsed)
	e.metrics.SetLastRun()
	e.logger.Info("ranked news", "user", userID, "returned", len(ranked), "filter", stats.String(), "duration", elapsed)
	return ranked, nil
}

func (e *Engine) summarize(ctx context.Context, cs []news.Candidate) {
	var g errgroup.Group
	g.SetLimit(e.opts.SummaryConcurrency)
	for i := range cs {
		if cs[i].Summary != "" {
			continue
		}
		g.Go(func() error {
			cs[i].Summary = e.Summarize(ctx, cs[i])
			return nil
		})
	}
	_ = g.Wait()
}

// Summarize asks the remote oracle for a summary and falls back to the
// local extractive one.
func (e *Engine) Summarize(ctx context.Context, c news.Candidate) string {
	if e.remote != nil {
		s, err := e.remote.Summarize(ctx, c)
		if err == nil {
			return s
		}
		e.metrics.IncrementOracleFallbacks()
		e.logger.Warn("summary oracle failed, using local summary", "id", c.ID, "error", err)
	}
	s, _ := e.local.Summarize(ctx, c)
	return s
}

type FeedbackResult struct {
	Profile *profile.Profile       `json:"profile"`
	Summary feedback.ChangeSummary `json:"changes"`
	Message string                 `json:"message"`
}

// ApplyFeedback interprets an event on an item from the user's last ranked
// list and persists the resulting profile in one write. The profile is read
// and interpreted outside the store's write path; if another write lands in
// between, the whole step is recomputed.
func (e *Engine) ApplyFeedback(ctx context.Context, userID string, ev feedback.Event) (FeedbackResult, error) {
	ev.UserID = userID
	if feedback.Classify(ev) == feedback.StateReceived {
		return FeedbackResult{}, fmt.Errorf("%w: unknown signal %q", ErrInvalidFeedbackEvent, ev.Signal)
	}
	c, ok := e.shown(userID, ev.CandidateID)
	if !ok {
		return FeedbackResult{}, fmt.Errorf("%w: %s was not in the last list shown to %s", ErrInvalidFeedbackEvent, ev.CandidateID, userID)
	}
	ev.Candidate = &c

	for attempt := 1; attempt <= e.opts.FeedbackAttempts; attempt++ {
		p, err := e.store.GetProfile(ctx, userID)
		if err != nil {
			return FeedbackResult{}, fmt.Errorf("apply feedback for %s: %w", userID, err)
		}
		res, err := e.interpreter.Apply(ctx, p, ev)
		if err != nil {
			return FeedbackResult{}, fmt.Errorf("%w: %v", ErrInvalidFeedbackEvent, err)
		}

		saved, err := e.store.UpdateProfile(ctx, userID, func(cur *profile.Profile) error {
			if cur.Version != p.Version {
				return storage.ErrConflict
			}
			*cur = *res.Profile
			return nil
		})
		if errors.Is(err, storage.ErrConflict) {
			e.logger.Debug("feedback raced with another write, retrying", "user", userID, "attempt", attempt)
			continue
		}
		if err != nil {
			return FeedbackResult{}, fmt.Errorf("save feedback for %s: %w", userID, err)
		}
		e.logFeedback(ctx, userID, c, ev)
		return FeedbackResult{Profile: saved, Summary: res.Summary, Message: res.Summary.String()}, nil
	}
	return FeedbackResult{}, fmt.Errorf("apply feedback for %s: %w", userID, storage.ErrConflict)
}

func (e *Engine) logFeedback(ctx context.Context, userID string, c news.Candidate, ev feedback.Event) {
	rec := storage.FeedbackRecord{
		UserID:    userID,
		NewsID:    c.ID,
		Title:     c.Title,
		Signal:    string(ev.Signal),
		Reason:    ev.Reason,
		CreatedAt: e.opts.Now().UTC(),
	}
	if err := e.store.LogFeedback(ctx, rec); err != nil {
		e.logger.Warn("failed to log feedback", "user", userID, "id", c.ID, "error", err)
	}
}

// FeedbackHistory returns the user's applied feedback, newest first.
func (e *Engine) FeedbackHistory(ctx context.Context, userID string, limit int) ([]storage.FeedbackRecord, error) {
	recs, err := e.store.RecentFeedback(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback history for %s: %w", userID, err)
	}
	if recs == nil {
		recs = []storage.FeedbackRecord{}
	}
	return recs, nil
}

func (e *Engine) shown(userID, id string) (news.Candidate, bool) {
	list, _ := e.sessions.Get(userID)
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return news.Candidate{}, false
}

// LastShown returns the last ranked list for userID, if it has not expired.
func (e *Engine) LastShown(userID string) []news.Candidate {
	list, _ := e.sessions.Get(userID)
	return cloneCandidates(list)
}

// InitProfile replaces the user's profile with one built from a free-text
// self description. Empty text yields the defaults.
func (e *Engine) InitProfile(ctx context.Context, userID, text string) (*profile.Profile, error) {
	p := profile.New()
	if strings.TrimSpace(text) != "" {
		p.MergeWith(e.extract(ctx, text), e.vocab.ExpandTerm)
	}
	if err := e.store.PutProfile(ctx, userID, p); err != nil {
		return nil, fmt.Errorf("init profile for %s: %w", userID, err)
	}
	e.metrics.IncrementProfilesInitialized()
	e.logger.Info("profile initialized", "user", userID, "role", p.Role, "tags", len(p.Tags))
	return e.store.GetProfile(ctx, userID)
}

func (e *Engine) extract(ctx context.Context, text string) profile.Delta {
	if e.remote != nil {
		d, err := e.remote.ExtractProfile(ctx, text)
		if err == nil {
			return d
		}
		e.metrics.IncrementOracleFallbacks()
		e.logger.Warn("profile oracle failed, using keyword extraction", "error", err)
	}
	d, _ := e.local.ExtractProfile(ctx, text)
	return d
}

func (e *Engine) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return e.store.GetProfile(ctx, userID)
}

// ResetProfile puts the profile back to the defaults, keeping its version
// history.
func (e *Engine) ResetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return e.store.UpdateProfile(ctx, userID, func(cur *profile.Profile) error {
		*cur = *profile.New()
		return nil
	})
}

// ClearHistory forgets which items the user has seen and drops the session.
func (e *Engine) ClearHistory(ctx context.Context, userID string) error {
	if err := e.store.ClearHistory(ctx, userID); err != nil {
		return fmt.Errorf("clear history for %s: %w", userID, err)
	}
	e.sessions.Delete(userID)
	return nil
}

func (e *Engine) SetTagWeight(ctx context.Context, userID, tag string, weight float64) (*profile.Profile, error) {
	if profile.Normalize(tag) == "" {
		return nil, ErrInvalidTag
	}
	return e.store.UpdateProfile(ctx, userID, func(cur *profile.Profile) error {
		if ex := cur.ExcludedBy(tag, e.vocab.ExpandTerm); ex != "" {
			return fmt.Errorf("%w: %s is blocked by %s", ErrTagExcluded, tag, ex)
		}
		cur.SetWeight(tag, weight)
		return nil
	})
}

func (e *Engine) RemoveTag(ctx context.Context, userID, tag string) (*profile.Profile, error) {
	if profile.Normalize(tag) == "" {
		return nil, ErrInvalidTag
	}
	return e.store.UpdateProfile(ctx, userID, func(cur *profile.Profile) error {
		cur.Remove(tag)
		return nil
	})
}

// ExcludeTopic adds an exclusion and drops every tag it blocks. A region
// named by any of its aliases is stored as the region code.
func (e *Engine) ExcludeTopic(ctx context.Context, userID, term string) (*profile.Profile, error) {
	term = profile.Normalize(term)
	if term == "" {
		return nil, ErrInvalidTag
	}
	if code, ok := e.vocab.RegionOf(term); ok {
		term = code
	}
	return e.store.UpdateProfile(ctx, userID, func(cur *profile.Profile) error {
		removed := cur.ExcludeWith(term, e.vocab.ExpandTerm)
		e.logger.Info("topic excluded", "user", userID, "term", term, "removed", removed)
		return nil
	})
}

func cloneCandidates(cs []news.Candidate) []news.Candidate {
	if cs == nil {
		return nil
	}
	out := make([]news.Candidate, len(cs))
	copy(out, cs)
	return out
}
