package news

import (
	"regexp"
	"slices"
	"strings"
)

// ReasonAnalysis is the deterministic reading of a free-text feedback reason.
type ReasonAnalysis struct {
	// Negated holds phrases the user pushed away ("not interested in X").
	Negated []string
	// Positive holds phrases the user asked for, from clauses without negation.
	Positive []string
	// Regions holds region codes named inside a negated phrase.
	Regions []string
	// LevelShift is -1 for "too technical", +1 for "too basic", else 0.
	LevelShift int
}

var (
	clauseSplit = regexp.MustCompile(`[.;!?\n]+|,?\s+but\s+|,\s+(?:and\s+)?(?:i|we)\s+`)

	// clauseVerb marks a comma-separated piece that is a clause of its own
	// rather than the next item of a list.
	clauseVerb = regexp.MustCompile(`\b(?:is|are|was|were|am|seems?|looks?|feels?|you|they|it|it's|that's|which|fine|ok|okay)\b`)

	negatedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:not|never)\s+(?:really\s+|very\s+)?interested\s+in\s+(.+)`),
		regexp.MustCompile(`\b(?:don't|dont|do not|doesn't|does not|didn't|did not)\s+(?:really\s+)?(?:care|want)\s+(?:about|for|to see|to read about)?\s*(.+)`),
		regexp.MustCompile(`\bno\s+more\s+(.+)`),
		regexp.MustCompile(`\b(?:less|fewer)\s+(?:interested\s+in\s+|about\s+|on\s+)?(.+)`),
		regexp.MustCompile(`\b(?:hate|dislike|skip|ignore|exclude|stop showing(?: me)?)\s+(.+)`),
		regexp.MustCompile(`\b(?:irrelevant|not relevant)\s+(?:to me\s+)?(?:because of\s+)?(.+)`),
	}

	positivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:more|prefer|rather see|rather read)\s+(?:about\s+|on\s+|of\s+)?(.+)`),
		regexp.MustCompile(`\b(?:interested in|want to see|want|love|like|care about)\s+(?:more\s+)?(?:about\s+|on\s+)?(.+)`),
	}

	negationWords = regexp.MustCompile(`\b(?:not|no|never|don't|dont|doesn't|didn't|less|fewer|hate|dislike|skip|ignore|exclude|stop)\b`)

	tooTechnical = regexp.MustCompile(`\btoo\s+(?:technical|complex|complicated|detailed|deep|long|jargon)`)
	tooBasic     = regexp.MustCompile(`\btoo\s+(?:basic|simple|shallow|short|superficial|high[- ]level)`)

	fillerPrefix = regexp.MustCompile(`^(?:the|any|about|all|those|these|this|that|such|of|on)\s+`)
	fillerSuffix = regexp.MustCompile(`\s+(?:news|stuff|articles|article|stories|story|items|content|related|topics|anymore|at all|please|either)$`)
	qualifier    = regexp.MustCompile(`\s+(?:regardless|irrespective|no matter|whatever|wherever|whichever)\b.*$`)
)

// regionNouns may follow a region without changing what the phrase is
// about: "european startups" is about the region, "us politics" is not.
var regionNouns = map[string]bool{
	"startups": true, "startup": true, "companies": true, "company": true, "firms": true,
	"market": true, "markets": true, "region": true, "coverage": true, "scene": true,
	"ecosystem": true, "angle": true, "deals": true, "funding": true, "based": true,
}

// AnalyzeReason splits text into clauses and extracts negated and positive
// target phrases, region codes and technical-level hints.
func (v *Vocabulary) AnalyzeReason(text string) ReasonAnalysis {
	var out ReasonAnalysis
	text = strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))

	switch {
	case tooTechnical.MatchString(text):
		out.LevelShift = -1
	case tooBasic.MatchString(text):
		out.LevelShift = 1
	}

	for _, clause := range clauses(text) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		if target := matchTarget(clause, negatedPatterns); target != "" {
			for _, part := range splitList(target) {
				if part = cleanTarget(part); part != "" {
					out.Negated = appendUnique(out.Negated, part)
				}
			}
			continue
		}
		if negationWords.MatchString(clause) {
			continue
		}
		if target := matchTarget(clause, positivePatterns); target != "" {
			for _, part := range splitList(target) {
				if part = cleanTarget(part); part != "" {
					out.Positive = appendUnique(out.Positive, part)
				}
			}
		}
	}

	for _, phrase := range out.Negated {
		if code, ok := v.RegionHead(phrase); ok {
			out.Regions = appendUnique(out.Regions, code)
		}
	}
	return out
}

// RegionHead reports the region a phrase is about. The region has to be the
// head of the phrase, optionally followed by a generic noun such as
// "startups"; a region used as a modifier of another topic does not count.
func (v *Vocabulary) RegionHead(phrase string) (string, bool) {
	words := strings.Fields(strings.ToLower(phrase))
	for len(words) > 1 && regionNouns[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return "", false
	}
	return v.RegionOf(strings.Join(words, " "))
}

// clauses splits text into clauses. A comma opens a new clause only when the
// piece after it has a subject or verb of its own; otherwise it separates
// the items of a list.
func clauses(text string) []string {
	var out []string
	for _, c := range clauseSplit.Split(text, -1) {
		parts := strings.Split(c, ",")
		cur := parts[0]
		for _, part := range parts[1:] {
			if clauseVerb.MatchString(part) {
				out = append(out, cur)
				cur = part
				continue
			}
			cur += "," + part
		}
		out = append(out, cur)
	}
	return out
}

func matchTarget(clause string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(clause); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func splitList(s string) []string {
	s = strings.ReplaceAll(s, " and ", ",")
	s = strings.ReplaceAll(s, " or ", ",")
	s = strings.ReplaceAll(s, "/", ",")
	return strings.Split(s, ",")
}

func cleanTarget(s string) string {
	s = strings.Trim(strings.TrimSpace(qualifier.ReplaceAllString(s, "")), `"'()[]:-`)
	for {
		next := fillerSuffix.ReplaceAllString(fillerPrefix.ReplaceAllString(s, ""), "")
		next = strings.TrimSpace(next)
		if next == s {
			break
		}
		s = next
	}
	if len(strings.Fields(s)) > 5 {
		return ""
	}
	return s
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
