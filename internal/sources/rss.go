package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/newsprefs/internal/news"
)

// DefaultFeeds is used when no feed list is configured.
var DefaultFeeds = []string{"https://techcrunch.com/category/artificial-intelligence/feed/"}

// FeedsConfig is the YAML feed list:
//
//	feeds:
//	  - https://...
type FeedsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// LoadFeeds reads the RSS feed list from a YAML file.
func LoadFeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg.Feeds, nil
}

// RSS reads a list of RSS/Atom feeds.
type RSS struct {
	urls    []string
	parser  *gofeed.Parser
	timeout time.Duration
	logger  *slog.Logger
}

func NewRSS(urls []string, logger *slog.Logger) *RSS {
	if len(urls) == 0 {
		urls = DefaultFeeds
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &RSS{urls: urls, parser: parser, timeout: 20 * time.Second, logger: logger.With("component", "rss")}
}

func (r *RSS) Name() string { return "rss" }

// Fetch parses every feed. A broken feed is skipped; the source fails only
// when none could be read.
func (r *RSS) Fetch(ctx context.Context) ([]news.RawItem, error) {
	var items []news.RawItem
	ok := 0
	for _, u := range r.urls {
		fctx, cancel := context.WithTimeout(ctx, r.timeout)
		feed, err := r.parser.ParseURLWithContext(u, fctx)
		cancel()
		if err != nil {
			r.logger.Warn("error parsing feed", "url", u, "error", err)
			continue
		}
		ok++
		name := feedName(feed, u)
		for _, it := range feed.Items {
			if raw, valid := fromFeedItem(it, name); valid {
				items = append(items, raw)
			}
		}
		r.logger.Debug("loaded feed", "url", u, "items", len(feed.Items))
	}
	if ok == 0 {
		return nil, fmt.Errorf("%w: no feed of %d could be read", ErrSourceUnavailable, len(r.urls))
	}
	r.logger.Info("processed feeds", "ok", ok, "total", len(r.urls), "items", len(items))
	return items, nil
}

func fromFeedItem(it *gofeed.Item, source string) (news.RawItem, bool) {
	if it == nil || strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.Link) == "" {
		return news.RawItem{}, false
	}
	raw := news.RawItem{
		Title:  strings.TrimSpace(it.Title),
		URL:    strings.TrimSpace(it.Link),
		Source: source,
	}
	switch {
	case it.PublishedParsed != nil:
		raw.Published = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		raw.Published = *it.UpdatedParsed
	}
	body := it.Content
	if body == "" {
		body = it.Description
	}
	raw.Body = cleanContent(body)
	return raw, true
}

// hostNames maps feed hosts to the source names profiles refer to.
var hostNames = map[string]string{
	"techcrunch.com": "TechCrunch",
}

func feedName(feed *gofeed.Feed, feedURL string) string {
	host := ""
	if u, err := url.Parse(feedURL); err == nil {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if name, ok := hostNames[host]; ok {
		return name
	}
	if t := strings.TrimSpace(feed.Title); t != "" {
		return t
	}
	if host != "" {
		return host
	}
	return feedURL
}
