package news

import (
	"regexp"
	"strings"
	"sync"
)

var wordPatterns sync.Map // keyword -> *regexp.Regexp

func wordPattern(k string) *regexp.Regexp {
	if re, ok := wordPatterns.Load(k); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`)
	wordPatterns.Store(k, re)
	return re
}

// MatchTerm reports whether text contains term. Phrases and words longer
// than three characters match as substrings; short words (<=3) must match a
// whole word so "ai" does not hit "said".
func MatchTerm(text, term string) bool {
	k := strings.ToLower(strings.TrimSpace(term))
	if k == "" {
		return false
	}
	text = strings.ToLower(text)

	if strings.Contains(k, " ") {
		return strings.Contains(text, k)
	}
	if len(k) <= 3 {
		return wordPattern(k).MatchString(text)
	}
	return strings.Contains(text, k)
}

// ContainsAny reports whether text matches at least one keyword.
func ContainsAny(text string, keywords []string) bool {
	return FirstMatch(text, keywords) != ""
}

// FirstMatch returns the first keyword found in text, or "".
func FirstMatch(text string, keywords []string) string {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if MatchTerm(text, k) {
			return k
		}
	}
	return ""
}
