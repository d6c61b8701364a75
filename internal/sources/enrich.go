package sources

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsprefs/internal/news"
)

const (
	userAgent    = "newsprefs/1.0 (+https://github.com/deusflow/newsprefs)"
	maxPageBytes = 4 << 20
	// minBodyRunes is the body length below which an item is worth scraping.
	minBodyRunes = 200
)

// contentSelectors are tried in order when readability finds nothing useful.
var contentSelectors = []string{
	"article",
	".article-content",
	".entry-content",
	".post-content",
	".article-body",
	"main",
	"#content",
	".story",
}

// Enricher fills in missing article bodies by fetching the page.
type Enricher struct {
	client      *http.Client
	concurrency int
	maxArticles int
	logger      *slog.Logger
}

func NewEnricher(concurrency, maxArticles int, logger *slog.Logger) *Enricher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		client:      &http.Client{Timeout: 15 * time.Second},
		concurrency: concurrency,
		maxArticles: maxArticles,
		logger:      logger.With("component", "enricher"),
	}
}

// Enrich returns items with short bodies replaced by the extracted article
// text, for at most maxArticles items (0 means no cap). Failures leave the
// item as it was.
func (e *Enricher) Enrich(ctx context.Context, items []news.RawItem) []news.RawItem {
	out := make([]news.RawItem, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	scheduled := 0
	for i := range out {
		if len([]rune(out[i].Body)) >= minBodyRunes {
			continue
		}
		if e.maxArticles > 0 && scheduled >= e.maxArticles {
			break
		}
		scheduled++
		g.Go(func() error {
			body, err := e.Extract(gctx, out[i].URL)
			if err != nil {
				e.logger.Debug("can't get content", "url", out[i].URL, "error", err)
				return nil
			}
			if len([]rune(body)) > len([]rune(out[i].Body)) {
				out[i].Body = body
			}
			return nil
		})
	}
	g.Wait()
	e.logger.Debug("enriched items", "attempted", scheduled, "total", len(out))
	return out
}

// Extract downloads a page and returns its cleaned main text.
func (e *Enricher) Extract(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	text := ""
	if article, err := readability.FromReader(bytes.NewReader(page), parsed); err == nil {
		text = cleanContent(article.TextContent)
	}
	if len(text) < 100 {
		if fallback := selectorContent(page); len(fallback) > len(text) {
			text = fallback
		}
	}
	if text == "" {
		return "", fmt.Errorf("can't get content")
	}
	return text, nil
}

// selectorContent collects paragraphs under the first selector that yields
// at least three of them.
func selectorContent(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	var best []string
	for _, sel := range contentSelectors {
		var paragraphs []string
		doc.Find(sel + " p").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > len(best) {
			best = paragraphs
		}
		if len(best) >= 3 {
			break
		}
	}
	return cleanContent(strings.Join(best, "\n\n"))
}

var junkIndicators = []string{
	"cookie", "subscribe", "sign up for", "newsletter", "advertisement",
	"read more", "click here", "follow us", "share this", "all rights reserved",
}

// cleanContent strips markup, drops boilerplate lines and joins sentences
// into paragraphs, keeping whole paragraphs up to a length limit.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}
	content = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "<p>", "\n\n", "</p>", "\n").Replace(content)

	inTag := false
	var b strings.Builder
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	content = html.UnescapeString(b.String())

	var paragraphs []string
	var current strings.Builder
	flush := func() {
		if p := strings.TrimSpace(current.String()); len(p) > 30 {
			paragraphs = append(paragraphs, p)
		}
		current.Reset()
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) < 8 {
			flush()
			continue
		}
		if isJunk(line) {
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(line)
		if strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") || strings.HasSuffix(line, "?") {
			flush()
		}
	}
	flush()

	text := strings.Join(paragraphs, "\n\n")
	if len(text) <= 1800 {
		return text
	}
	var kept []string
	total := 0
	for _, p := range paragraphs {
		if total+len(p) >= 1600 {
			break
		}
		kept = append(kept, p)
		total += len(p) + 2
	}
	if len(kept) == 0 {
		return strings.ToValidUTF8(text[:1600], "")
	}
	return strings.Join(kept, "\n\n")
}

func isJunk(line string) bool {
	lower := strings.ToLower(line)
	if len(lower) > 200 {
		return false
	}
	for _, ind := range junkIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
