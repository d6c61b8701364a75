package oracle

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
)

const (
	topicWeight = 0.8
	focusWeight = 1.0
	askedWeight = 0.7
)

var roleKeywords = []struct {
	role  profile.Role
	words []string
}{
	{profile.RoleInvestor, []string{"investor", "investing", "vc", "venture capital", "portfolio", "angel", "limited partner"}},
	{profile.RoleFounder, []string{"founder", "co-founder", "cofounder", "my startup", "building a startup"}},
	{profile.RoleDeveloper, []string{"developer", "engineer", "programmer", "coding", "software"}},
	{profile.RoleResearcher, []string{"researcher", "phd", "academic", "scientist", "papers"}},
	{profile.RoleExecutive, []string{"executive", "cto", "cio", "vp", "director", "leadership"}},
}

var (
	beginnerWords = []string{"beginner", "new to", "non-technical", "not technical", "basics", "layman", "simple explanations"}
	advancedWords = []string{"advanced", "expert", "deep technical", "technical details", "in-depth", "architecture", "benchmarks"}

	knownSources = map[string]string{
		"hacker news": "HackerNews",
		"hackernews":  "HackerNews",
		"techcrunch":  "TechCrunch",
	}

	focusPhrase = regexp.MustCompile(`(?:focus(?:ed|ing)? on|especially|particularly|mainly|primarily|mostly)\s+([^.;!?]+)`)
)

// Local answers every oracle question with keyword rules over the
// vocabulary. It never fails and is the fallback when no remote backend is
// configured or the remote one is down.
type Local struct {
	vocab *news.Vocabulary
}

func NewLocal(vocab *news.Vocabulary) *Local {
	if vocab == nil {
		vocab = news.DefaultVocabulary()
	}
	return &Local{vocab: vocab}
}

func (l *Local) ExtractProfile(_ context.Context, text string) (profile.Delta, error) {
	var d profile.Delta
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return d, nil
	}

	for _, rk := range roleKeywords {
		if news.ContainsAny(lower, rk.words) {
			role := rk.role
			d.Role = &role
			break
		}
	}

	switch {
	case news.ContainsAny(lower, beginnerWords):
		level := profile.LevelBeginner
		d.TechnicalLevel = &level
	case news.ContainsAny(lower, advancedWords):
		level := profile.LevelAdvanced
		d.TechnicalLevel = &level
	}

	reason := l.vocab.AnalyzeReason(lower)
	negated := func(topic string) bool {
		for _, n := range reason.Negated {
			if news.MatchTerm(n, topic) {
				return true
			}
		}
		return false
	}

	tags := make(map[string]float64)
	for _, topic := range l.vocab.Topics {
		if news.MatchTerm(lower, topic) && !negated(topic) {
			tags[profile.Normalize(topic)] = topicWeight
		}
	}
	for _, m := range focusPhrase.FindAllStringSubmatch(lower, -1) {
		for _, topic := range l.vocab.Topics {
			if news.MatchTerm(m[1], topic) && !negated(topic) {
				tags[profile.Normalize(topic)] = focusWeight
			}
		}
	}
	if len(tags) > 0 {
		d.Tags = tags
	}
	d.Exclusions = l.exclusionsFrom(reason)

	var days int
	switch {
	case news.ContainsAny(lower, []string{"today", "daily", "every day"}):
		days = 1
	case strings.Contains(lower, "week"):
		days = 7
	case strings.Contains(lower, "month"):
		days = 30
	}
	if days > 0 {
		d.RecencyPreference = &days
	}

	for phrase, name := range knownSources {
		if strings.Contains(lower, phrase) && !slices.Contains(d.PreferredSources, name) {
			d.PreferredSources = append(d.PreferredSources, name)
		}
	}
	slices.Sort(d.PreferredSources)
	return d, nil
}

// exclusionsFrom turns negated phrases into exclusion terms. Phrases about a
// region become its code, other phrases are kept when short enough to be a
// topic.
func (l *Local) exclusionsFrom(r news.ReasonAnalysis) []string {
	out := slices.Clone(r.Regions)
	for _, phrase := range r.Negated {
		if _, ok := l.vocab.RegionHead(phrase); ok {
			continue
		}
		if len(strings.Fields(phrase)) <= 3 && !slices.Contains(out, phrase) {
			out = append(out, phrase)
		}
	}
	return out
}

// JudgeRelevance maps the Tier-1 tag overlap onto the 1..10 scale.
func (l *Local) JudgeRelevance(_ context.Context, c news.Candidate, p *profile.Profile) (Judgment, error) {
	overlap, matched := news.Tier1(c, p, 0)
	score := int(math.Round(3 + 7*math.Min(overlap, 1)))
	score = max(MinScore, min(MaxScore, score))

	topics := slices.Clone(matched)
	text := c.Text()
	for _, t := range l.vocab.Topics {
		if len(topics) >= 5 {
			break
		}
		if news.MatchTerm(text, t) && !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}

	return Judgment{
		Score:       score,
		Explanation: fmt.Sprintf("keyword overlap %.2f: %s", overlap, news.ExplainTier1(matched, p)),
		Topics:      topics,
		Summary:     l.summary(c),
	}, nil
}

// InterpretFeedback reads the reason clause by clause. Negated phrases remove
// the tags they name (or become exclusions), positive phrases that VADER does
// not score as negative become new tags.
func (l *Local) InterpretFeedback(_ context.Context, reason string, _ news.Candidate, p *profile.Profile) (profile.Delta, error) {
	var d profile.Delta
	r := l.vocab.AnalyzeReason(reason)

	for _, phrase := range r.Negated {
		for tag := range p.Tags {
			text := profile.TagText(tag)
			if news.MatchTerm(text, phrase) || news.MatchTerm(phrase, text) {
				d.RemoveTags = append(d.RemoveTags, tag)
			}
		}
	}
	d.Exclusions = l.exclusionsFrom(r)
	slices.Sort(d.RemoveTags)

	for _, phrase := range r.Positive {
		if polarity(phrase) < -0.05 {
			continue
		}
		if d.Tags == nil {
			d.Tags = make(map[string]float64)
		}
		d.Tags[profile.Normalize(phrase)] = askedWeight
	}

	if r.LevelShift != 0 {
		level := shiftLevel(p.TechnicalLevel, r.LevelShift)
		if level != p.TechnicalLevel {
			d.TechnicalLevel = &level
		}
	}
	return d, nil
}

func shiftLevel(l profile.TechnicalLevel, by int) profile.TechnicalLevel {
	levels := []profile.TechnicalLevel{profile.LevelBeginner, profile.LevelIntermediate, profile.LevelAdvanced}
	i := slices.Index(levels, l)
	if i < 0 {
		i = 1
	}
	return levels[max(0, min(len(levels)-1, i+by))]
}

func (l *Local) Summarize(_ context.Context, c news.Candidate) (string, error) {
	return l.summary(c), nil
}

func (l *Local) summary(c news.Candidate) string {
	if s := fallbackSummary(plainText(c.Body)); s != "" {
		return s
	}
	return strings.TrimSpace(c.Title)
}
