package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsprefs/internal/news"
)

const (
	DefaultHackerNewsURL   = "https://hacker-news.firebaseio.com"
	DefaultHackerNewsLimit = 30
	hackerNewsName         = "HackerNews"
)

type hnItem struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
	Dead  bool   `json:"dead"`
}

// HackerNews reads the current top stories from the Firebase API.
type HackerNews struct {
	baseURL     string
	limit       int
	concurrency int
	client      *http.Client
	logger      *slog.Logger
}

type HackerNewsOption func(*HackerNews)

func WithHackerNewsURL(u string) HackerNewsOption {
	return func(h *HackerNews) { h.baseURL = u }
}

func WithHackerNewsClient(c *http.Client) HackerNewsOption {
	return func(h *HackerNews) { h.client = c }
}

func NewHackerNews(limit int, logger *slog.Logger, opts ...HackerNewsOption) *HackerNews {
	if limit <= 0 {
		limit = DefaultHackerNewsLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &HackerNews{
		baseURL:     DefaultHackerNewsURL,
		limit:       limit,
		concurrency: 8,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With("component", "hackernews"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HackerNews) Name() string { return hackerNewsName }

// Fetch loads the top story ids and then the stories themselves. Items that
// fail to load are skipped.
func (h *HackerNews) Fetch(ctx context.Context) ([]news.RawItem, error) {
	var ids []int64
	if err := h.get(ctx, "/v0/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("%w: top stories: %v", ErrSourceUnavailable, err)
	}
	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	stories := make([]*hnItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			var it hnItem
			if err := h.get(gctx, "/v0/item/"+strconv.FormatInt(id, 10)+".json", &it); err != nil {
				h.logger.Debug("skipping story", "id", id, "error", err)
				return nil
			}
			stories[i] = &it
			return nil
		})
	}
	g.Wait()

	var items []news.RawItem
	for _, it := range stories {
		if it == nil || it.Dead || it.Type != "story" || it.Title == "" {
			continue
		}
		u := it.URL
		if u == "" {
			u = "https://news.ycombinator.com/item?id=" + strconv.FormatInt(it.ID, 10)
		}
		items = append(items, news.RawItem{
			Title:     it.Title,
			URL:       u,
			Source:    hackerNewsName,
			Published: time.Unix(it.Time, 0).UTC(),
			Body:      cleanContent(it.Text),
		})
	}
	if len(ids) > 0 && len(items) == 0 {
		return nil, fmt.Errorf("%w: no story of %d could be loaded", ErrSourceUnavailable, len(ids))
	}
	return items, nil
}

func (h *HackerNews) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
