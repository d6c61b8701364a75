package news

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deusflow/newsprefs/internal/profile"
)

// Tier1 is the cheap local score: base plus the weight of every profile tag
// found in the candidate's title or body. Tags are matched in their text
// form, so "ai_funding" matches "AI funding". The matched tags are returned
// heaviest first.
func Tier1(c Candidate, p *profile.Profile, base float64) (float64, []string) {
	text := c.Text()
	score := base
	var matched []string
	for tag, w := range p.Tags {
		if MatchTerm(text, profile.TagText(tag)) {
			score += w
			matched = append(matched, tag)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if p.Tags[matched[i]] != p.Tags[matched[j]] {
			return p.Tags[matched[i]] > p.Tags[matched[j]]
		}
		return matched[i] < matched[j]
	})
	return score, matched
}

// ExplainTier1 renders the matched tags for display.
func ExplainTier1(matched []string, p *profile.Profile) string {
	if len(matched) == 0 {
		return "no overlap with your interests"
	}
	parts := make([]string, 0, len(matched))
	for _, t := range matched {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", t, p.Tags[t]))
	}
	return "matches " + strings.Join(parts, ", ")
}
