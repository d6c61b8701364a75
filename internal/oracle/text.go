package oracle

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"
)

var (
	analyzer = govader.NewSentimentIntensityAnalyzer()

	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?:\/\/[^\s\)]+)\)`)
	urlPattern  = regexp.MustCompile(`https?://\S+|www\.\S+`)
	htmlTag     = regexp.MustCompile(`<[^>]+>`)
	sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)
)

// plainText renders markdown to HTML and strips it back down to single-spaced
// text without links.
func plainText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	input = linkPattern.ReplaceAllString(input, "$1")
	output := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())
	text := html.UnescapeString(htmlTag.ReplaceAllString(string(output), " "))
	text = urlPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// polarity is the VADER compound score in [-1, 1].
func polarity(text string) float64 {
	return analyzer.PolarityScores(text).Compound
}

// fallbackSummary keeps the first two substantial sentences, else a prefix.
func fallbackSummary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	bounds := sentenceEnd.FindAllStringIndex(text+" ", -1)
	var sentences []string
	start := 0
	for _, b := range bounds {
		s := strings.TrimSpace(text[start:min(b[1], len(text))])
		start = b[1]
		if utf8.RuneCountInString(s) >= 25 {
			sentences = append(sentences, s)
		}
		if len(sentences) == 2 || start >= len(text) {
			break
		}
	}
	if len(sentences) > 0 {
		return strings.Join(sentences, " ")
	}
	runes := []rune(text)
	if len(runes) > 160 {
		return strings.TrimSpace(string(runes[:160])) + "..."
	}
	return text
}
