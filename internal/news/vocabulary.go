package news

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the keyword data the filter and the feedback interpreter
// work from. It is configuration, loaded from YAML:
//
//	ai: [ai, machine learning, ...]
//	focus: [fund, invest, ...]
//	strong_focus: [raises, funding, ...]
//	regions:
//	  eu: [eu, europe, european]
//	stop_words: [a, the, ...]
//	topics: [nlp, computer vision, ...]
type Vocabulary struct {
	AI          []string            `yaml:"ai"`
	Focus       []string            `yaml:"focus"`
	StrongFocus []string            `yaml:"strong_focus"`
	Regions     map[string][]string `yaml:"regions"`
	StopWords   []string            `yaml:"stop_words"`
	Topics      []string            `yaml:"topics"`

	stop map[string]bool
}

// DefaultVocabulary returns the built-in AI funding vocabulary.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		AI: []string{
			"ai", "artificial intelligence", "machine learning", "ml", "deep learning",
			"neural network", "gpt", "llm", "large language model", "chatgpt",
			"openai", "anthropic", "claude",
		},
		Focus: []string{
			"fund", "invest", "raise", "capital", "venture", "million", "billion",
			"series", "seed", "acquisition", "acquires", "acquired",
		},
		StrongFocus: []string{
			"raises", "raised", "funding", "series a", "series b", "series c",
			"seed round", "acquires", "acquisition", "valuation",
		},
		Regions: map[string][]string{
			"us":        {"us", "usa", "united states", "american"},
			"eu":        {"eu", "europe", "european union", "european"},
			"uk":        {"uk", "united kingdom", "britain", "british"},
			"china":     {"china", "chinese"},
			"india":     {"india", "indian"},
			"japan":     {"japan", "japanese"},
			"canada":    {"canada", "canadian"},
			"australia": {"australia", "australian"},
			"africa":    {"africa", "african"},
			"latam":     {"latin america", "latam", "brazil", "mexico"},
		},
		StopWords: []string{"a", "an", "the", "in", "on", "at", "to", "for", "with", "by", "about", "and", "or"},
		Topics: []string{
			"nlp", "natural language processing", "computer vision", "robotics", "generative ai",
			"healthcare", "fintech", "autonomous vehicles", "chips", "semiconductors", "agents",
			"open source", "enterprise", "security", "climate", "edtech", "biotech",
			"seed", "series a", "series b", "late stage", "ipo", "acquisitions",
			"autonomous", "cloud", "saas",
		},
	}
	v.index()
	return v
}

// LoadVocabulary reads a vocabulary file. Sections missing from the file are
// taken from the defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var v Vocabulary
	if err := yaml.NewDecoder(f).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode vocabulary %s: %w", path, err)
	}

	def := DefaultVocabulary()
	if len(v.AI) == 0 {
		v.AI = def.AI
	}
	if v.Focus == nil {
		v.Focus = def.Focus
	}
	if v.StrongFocus == nil {
		v.StrongFocus = def.StrongFocus
	}
	if len(v.Regions) == 0 {
		v.Regions = def.Regions
	}
	if len(v.StopWords) == 0 {
		v.StopWords = def.StopWords
	}
	if len(v.Topics) == 0 {
		v.Topics = def.Topics
	}
	v.index()
	return &v, nil
}

func (v *Vocabulary) index() {
	v.stop = make(map[string]bool, len(v.StopWords))
	for _, w := range v.StopWords {
		v.stop[strings.ToLower(w)] = true
	}
	for code, aliases := range v.Regions {
		for i, a := range aliases {
			aliases[i] = strings.ToLower(strings.TrimSpace(a))
		}
		v.Regions[code] = aliases
	}
}

// IsStopWord reports whether w is in the stop list.
func (v *Vocabulary) IsStopWord(w string) bool {
	w = strings.ToLower(w)
	if v.stop == nil {
		return slices.Contains(v.StopWords, w)
	}
	return v.stop[w]
}

// RegionOf resolves a region code or any of its aliases to the code.
func (v *Vocabulary) RegionOf(term string) (string, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if _, ok := v.Regions[term]; ok {
		return term, true
	}
	for code, aliases := range v.Regions {
		for _, a := range aliases {
			if a == term {
				return code, true
			}
		}
	}
	return "", false
}

// RegionCodes returns the configured region codes, sorted.
func (v *Vocabulary) RegionCodes() []string {
	codes := make([]string, 0, len(v.Regions))
	for c := range v.Regions {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ExpandTerm returns term plus every alias of the region it names, if any.
func (v *Vocabulary) ExpandTerm(term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	out := []string{term}
	if code, ok := v.RegionOf(term); ok {
		for _, a := range v.Regions[code] {
			if a != term {
				out = append(out, a)
			}
		}
		if code != term {
			out = append(out, code)
		}
	}
	return out
}

// Keywords extracts keyword-like tokens from text: lowercased, punctuation
// stripped, stop words dropped, only tokens longer than three characters.
func (v *Vocabulary) Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127 || r == '-')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) <= 3 || v.IsStopWord(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}
