package oracle

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
)

const maxBodyChars = 4000

const (
	systemProfile  = "You are an expert analyst of VC and funding preferences in the AI ecosystem. Answer with a single JSON object."
	systemJudge    = "You are a personalized AI news recommendation engine. Answer with a single JSON object."
	systemFeedback = "You are a preference analyzer for a news recommendation system. Answer with a single JSON object."
	systemSummary  = "You summarize AI industry news for busy readers. Answer with a single JSON object."
)

// clip collapses whitespace and limits body text, preferring to end on a
// sentence boundary.
func clip(content string, limit int) string {
	content = strings.ReplaceAll(content, "\r", "")
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	trimmed := string(runes[:limit])
	if idx := strings.LastIndex(trimmed, ". "); idx > limit/5 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + " [TRUNCATED]"
}

func describeProfile(p *profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Role: %s\n", p.Role)
	fmt.Fprintf(&b, "- Technical level: %s\n", p.TechnicalLevel)
	tags := p.SortedTags()
	if len(tags) == 0 {
		b.WriteString("- Interests: none specified\n")
	} else {
		parts := make([]string, 0, len(tags))
		for _, t := range tags {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", t, p.Tags[t]))
		}
		fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(parts, ", "))
	}
	if len(p.Exclusions) > 0 {
		fmt.Fprintf(&b, "- Never show: %s\n", strings.Join(p.Exclusions, ", "))
	}
	return b.String()
}

func describeCandidate(c news.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Title: %s\n", c.Title)
	fmt.Fprintf(&b, "- Source: %s\n", c.Source)
	if !c.Published.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", c.Published.Format("2006-01-02"))
	}
	if body := clip(c.Body, maxBodyChars); body != "" {
		fmt.Fprintf(&b, "- Content: %s\n", body)
	}
	return b.String()
}

func profilePrompt(text string) string {
	return fmt.Sprintf(`Analyze the following text where a user describes their interest in AI news.
Extract:
1. Their likely role (investor, founder, developer, researcher, executive, enthusiast)
2. Specific AI topics they are interested in, with an interest weight between 0 and 1
3. Their technical level (beginner, intermediate, advanced)
4. Preferred news sources, if mentioned
5. How many days back they want news to reach (1 for today, 7 for weekly, 30 for monthly)
6. Topics or regions they explicitly do not want

Use short lowercase topic names such as "generative ai", "computer vision", "seed round", "healthcare ai".
Leave out any field the text says nothing about.

User text: %q

Respond in JSON:
{"role": "...", "technical_level": "...", "tags": {"topic": 0.8}, "preferred_sources": ["..."], "recency_preference": 7, "exclusions": ["..."]}`, text)
}

func judgePrompt(c news.Candidate, p *profile.Profile) string {
	return fmt.Sprintf(`Rate how relevant this AI news item is to the user.

USER PROFILE:
%s
NEWS ITEM:
%s
Scale 1-10:
- 10 = perfect match to interests and role
- 7-9 = strong match to several interests
- 4-6 = matches some interests
- 1-3 = minimal connection

Give a one-sentence explanation, up to five topics the item covers, and a two-sentence summary.

Respond in JSON:
{"score": 7, "explanation": "...", "topics": ["..."], "summary": "..."}`, describeProfile(p), describeCandidate(c))
}

func feedbackPrompt(reason string, c news.Candidate, p *profile.Profile) string {
	return fmt.Sprintf(`The user was shown this news item:
%s
They said it was NOT relevant, because: %q

CURRENT PREFERENCES:
%s
Work out what should change:
1. Topics to ADD, only if the user asked for them
2. Existing topics to REMOVE
3. Topics or regions to EXCLUDE from now on
4. Whether the technical level should change

Respond in JSON with only the changes:
{"tags": {"topic": 0.7}, "remove_tags": ["..."], "exclusions": ["..."], "technical_level": "..."}`, describeCandidate(c), reason, describeProfile(p))
}

func summaryPrompt(c news.Candidate) string {
	return fmt.Sprintf(`Summarize this news item in at most two plain sentences. No markdown.

%s
Respond in JSON:
{"summary": "..."}`, describeCandidate(c))
}
