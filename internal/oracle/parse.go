package oracle

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/deusflow/newsprefs/internal/profile"
)

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// extractJSON finds the JSON object inside a model answer. Markdown code
// fences are stripped and any prose around the outermost braces ignored.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", malformed("no JSON object in response %q", truncate(raw, 120))
	}
	return s[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func decode(raw string, v any) error {
	body, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return malformed("decode: %v", err)
	}
	return nil
}

// deltaResponse accepts both the keyed-weight form the prompts ask for and
// the list form some models fall back to.
type deltaResponse struct {
	Role              string             `json:"role"`
	TechnicalLevel    string             `json:"technical_level"`
	Tags              map[string]float64 `json:"tags"`
	Topics            []string           `json:"topics"`
	FocusCategories   []string           `json:"focus_categories"`
	RemoveTags        []string           `json:"remove_tags"`
	Exclusions        []string           `json:"exclusions"`
	RecencyPreference int                `json:"recency_preference"`
	PreferredSources  []string           `json:"preferred_sources"`
}

func parseDelta(raw string) (profile.Delta, error) {
	var r deltaResponse
	if err := decode(raw, &r); err != nil {
		return profile.Delta{}, err
	}

	var d profile.Delta
	if role, ok := parseRole(r.Role); ok {
		d.Role = &role
	}
	if level := profile.TechnicalLevel(strings.ToLower(strings.TrimSpace(r.TechnicalLevel))); level.Valid() {
		d.TechnicalLevel = &level
	}

	tags := make(map[string]float64)
	for _, t := range r.Topics {
		tags[profile.Normalize(t)] = 0.8
	}
	for _, t := range r.FocusCategories {
		tags[profile.Normalize(t)] = 1.0
	}
	for t, w := range r.Tags {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return profile.Delta{}, malformed("weight for %q is not a number", t)
		}
		tags[profile.Normalize(t)] = w
	}
	delete(tags, "")
	if len(tags) > 0 {
		d.Tags = tags
	}

	d.RemoveTags = cleanList(r.RemoveTags)
	d.Exclusions = cleanList(r.Exclusions)
	d.PreferredSources = trimList(r.PreferredSources)
	if r.RecencyPreference > 0 {
		days := min(r.RecencyPreference, profile.MaxRecencyDays)
		d.RecencyPreference = &days
	}
	return d, nil
}

func parseRole(s string) (profile.Role, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if r := profile.Role(s); r.Valid() {
		return r, true
	}
	// "general enthusiast", "angel investor", ...
	for _, r := range profile.Roles {
		if strings.Contains(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = profile.Normalize(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type judgmentResponse struct {
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
	Explanation    string   `json:"explanation"`
	Topics         []string `json:"topics"`
	Summary        string   `json:"summary"`
}

func parseJudgment(raw string) (Judgment, error) {
	var r judgmentResponse
	if err := decode(raw, &r); err != nil {
		return Judgment{}, err
	}
	score := r.Score
	if score == nil {
		score = r.RelevanceScore
	}
	if score == nil {
		return Judgment{}, malformed("judgment has no score")
	}
	if *score < MinScore || *score > MaxScore || *score != math.Trunc(*score) {
		return Judgment{}, malformed("score %v outside %d..%d", *score, MinScore, MaxScore)
	}
	return Judgment{
		Score:       int(*score),
		Explanation: strings.TrimSpace(r.Explanation),
		Topics:      cleanList(r.Topics),
		Summary:     plainText(r.Summary),
	}, nil
}

func parseSummary(raw string) (string, error) {
	var r struct {
		Summary string `json:"summary"`
	}
	if err := decode(raw, &r); err != nil {
		return "", err
	}
	s := plainText(r.Summary)
	if s == "" {
		return "", malformed("empty summary")
	}
	return s, nil
}
