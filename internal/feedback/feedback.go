// Package feedback turns like/dislike events on shown items into profile
// changes. Local weight adjustments always happen; an oracle is consulted
// only for free-text reasons, and its answer passes a deterministic policy
// and region check before it touches the profile.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/oracle"
	"github.com/deusflow/newsprefs/internal/profile"
)

var ErrInvalidEvent = errors.New("invalid feedback event")

const (
	LikeStep    = 0.1
	DislikeStep = 0.2
)

type Signal string

const (
	Like    Signal = "like"
	Dislike Signal = "dislike"
)

type Event struct {
	UserID      string          `json:"user_id"`
	CandidateID string          `json:"candidate_id"`
	Candidate   *news.Candidate `json:"-"`
	Signal      Signal          `json:"signal"`
	Reason      string          `json:"reason,omitempty"`
}

// State tracks an event through interpretation.
type State string

const (
	StateReceived          State = "received"
	StateLike              State = "like"
	StateDislikeNoReason   State = "dislike_no_reason"
	StateDislikeWithReason State = "dislike_with_reason"
	StateApplied           State = "applied"
)

// Classify picks the branch an event takes.
func Classify(e Event) State {
	switch e.Signal {
	case Like:
		return StateLike
	case Dislike:
		if strings.TrimSpace(e.Reason) == "" {
			return StateDislikeNoReason
		}
		return StateDislikeWithReason
	default:
		return StateReceived
	}
}

type Result struct {
	Profile *profile.Profile
	Summary ChangeSummary
	State   State
}

type Interpreter struct {
	oracle  oracle.Oracle
	vocab   *news.Vocabulary
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewInterpreter(o oracle.Oracle, vocab *news.Vocabulary, m *metrics.Metrics, logger *slog.Logger) *Interpreter {
	if vocab == nil {
		vocab = news.DefaultVocabulary()
	}
	if o == nil {
		o = oracle.NewLocal(vocab)
	}
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{oracle: o, vocab: vocab, metrics: m, logger: logger.With("component", "feedback")}
}

// Apply computes the profile that results from e. The input profile is not
// modified. Errors are returned only for events that cannot be interpreted.
func (in *Interpreter) Apply(ctx context.Context, p *profile.Profile, e Event) (Result, error) {
	state := Classify(e)
	if state == StateReceived {
		return Result{}, fmt.Errorf("%w: unknown signal %q", ErrInvalidEvent, e.Signal)
	}
	if e.Candidate == nil {
		return Result{}, fmt.Errorf("%w: no candidate", ErrInvalidEvent)
	}
	if p == nil {
		return Result{}, fmt.Errorf("%w: no profile", ErrInvalidEvent)
	}

	updated := p.Clone()
	c := *e.Candidate
	matched := in.matchingTags(updated, c)
	degraded := false

	switch state {
	case StateLike:
		for _, tag := range matched {
			updated.AdjustWeight(tag, LikeStep, profile.MinWeight, profile.MaxWeight)
		}
	case StateDislikeNoReason:
		in.weaken(updated, matched)
	case StateDislikeWithReason:
		in.weaken(updated, matched)
		degraded = in.applyReason(ctx, updated, e.Reason, c)
	}

	summary := Diff(p, updated)
	summary.Degraded = degraded
	in.metrics.IncrementFeedbackApplied()
	in.logger.Info("feedback applied", "user", e.UserID, "candidate", c.ID, "branch", string(state),
		"matched", len(matched), "degraded", degraded)
	return Result{Profile: updated, Summary: summary, State: StateApplied}, nil
}

// weaken lowers matched tags, never below the suppression floor. Tags
// already under the floor stay where they are.
func (in *Interpreter) weaken(p *profile.Profile, tags []string) {
	for _, tag := range tags {
		floor := min(profile.SuppressedWeight, p.Tags[tag])
		p.AdjustWeight(tag, -DislikeStep, floor, profile.MaxWeight)
	}
}

// applyReason consults the oracle and merges the filtered answer, then runs
// the region pass. It reports whether the oracle step was skipped.
func (in *Interpreter) applyReason(ctx context.Context, p *profile.Profile, reason string, c news.Candidate) bool {
	analysis := in.vocab.AnalyzeReason(reason)

	degraded := false
	delta, err := in.oracle.InterpretFeedback(ctx, reason, c, p.Clone())
	if err != nil {
		degraded = true
		in.metrics.IncrementFeedbackDegraded()
		in.logger.Warn("feedback oracle unavailable, keeping local adjustment", "candidate", c.ID, "error", err)
	} else {
		p.MergeWith(in.policy(p, delta, analysis), in.vocab.ExpandTerm)
	}

	for _, code := range analysis.Regions {
		removed := p.ExcludeWith(code, in.vocab.ExpandTerm)
		in.logger.Debug("region excluded", "region", code, "removed", removed)
	}
	return degraded
}

// policy keeps the parts of an oracle delta a dislike may change: tags,
// removals, exclusions and technical level. New tags and raised weights
// survive only when the reason asks for them in a non-negated phrase, and
// exclusions only when the reason pushes them away.
func (in *Interpreter) policy(p *profile.Profile, d profile.Delta, a news.ReasonAnalysis) profile.Delta {
	out := profile.Delta{
		RemoveTags:     d.RemoveTags,
		TechnicalLevel: d.TechnicalLevel,
	}
	for _, ex := range d.Exclusions {
		keep := askedFor(ex, a.Negated)
		if code, ok := in.vocab.RegionOf(ex); ok {
			keep = slices.Contains(a.Regions, code)
		}
		if keep {
			out.Exclusions = append(out.Exclusions, ex)
		} else {
			in.logger.Debug("dropping oracle exclusion", "term", ex)
		}
	}
	for tag, w := range d.Tags {
		cur, exists := p.Tags[profile.Normalize(tag)]
		switch {
		case askedFor(tag, a.Positive) && !askedFor(tag, a.Negated):
		case exists && w <= cur:
		default:
			in.logger.Debug("dropping oracle tag", "tag", tag, "weight", w)
			continue
		}
		if out.Tags == nil {
			out.Tags = make(map[string]float64)
		}
		out.Tags[tag] = w
	}
	return out
}

func askedFor(tag string, phrases []string) bool {
	text := profile.TagText(profile.Normalize(tag))
	for _, ph := range phrases {
		if news.MatchTerm(ph, text) || news.MatchTerm(text, ph) {
			return true
		}
	}
	return false
}

// matchingTags returns the profile tags the candidate is about: tags found
// in the title or inside a title keyword, and tags equal to an extracted
// topic.
func (in *Interpreter) matchingTags(p *profile.Profile, c news.Candidate) []string {
	title := strings.ToLower(c.Title)
	keywords := in.vocab.Keywords(c.Title)
	topics := make([]string, 0, len(c.ExtractedTopics))
	for _, t := range c.ExtractedTopics {
		topics = append(topics, profile.Normalize(t))
	}

	var out []string
	for tag := range p.Tags {
		text := profile.TagText(tag)
		hit := news.MatchTerm(title, text) || slices.Contains(topics, tag) || slices.Contains(topics, text)
		if !hit && len(text) > 3 {
			for _, k := range keywords {
				if strings.Contains(k, text) {
					hit = true
					break
				}
			}
		}
		if hit {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	return out
}
