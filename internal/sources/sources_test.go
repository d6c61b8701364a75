package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
)

type fakeSource struct {
	name  string
	items []news.RawItem
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context) ([]news.RawItem, error) {
	return f.items, f.err
}

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Test Feed</title>
  <link>https://example.com</link>
  <item>
    <title>OpenAI ships agent framework</title>
    <link>https://example.com/agents</link>
    <pubDate>Mon, 09 Mar 2026 10:00:00 +0000</pubDate>
    <description>&lt;p&gt;OpenAI ships a new agent framework for developers building assistants.&lt;/p&gt;</description>
  </item>
  <item>
    <title>Item without a link</title>
  </item>
</channel>
</rss>`

func TestLoadFeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds:\n  - https://a.example/feed\n  - https://b.example/rss\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	feeds, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("LoadFeeds: %v", err)
	}
	if len(feeds) != 2 || feeds[1] != "https://b.example/rss" {
		t.Errorf("feeds = %v", feeds)
	}
	if _, err := LoadFeeds(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestRSSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	defer srv.Close()

	items, err := NewRSS([]string{srv.URL}, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 (link-less item skipped)", len(items))
	}
	it := items[0]
	if it.Source != "Test Feed" || it.URL != "https://example.com/agents" {
		t.Errorf("item = %+v", it)
	}
	if want := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC); !it.Published.Equal(want) {
		t.Errorf("published = %v, want %v", it.Published, want)
	}
	if it.Body != "OpenAI ships a new agent framework for developers building assistants." {
		t.Errorf("body = %q", it.Body)
	}
}

func TestRSSAllFeedsBroken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRSS([]string{srv.URL}, nil).Fetch(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestHackerNewsFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[1, 2, 3, 4]`)
	})
	mux.HandleFunc("/v0/item/1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":1,"type":"story","title":"Show HN: tiny LLM","url":"https://tiny.example","time":1773050400}`)
	})
	mux.HandleFunc("/v0/item/2.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":2,"type":"story","title":"Ask HN: favourite NLP papers?","text":"Looking for recommendations on recent NLP research papers."}`)
	})
	mux.HandleFunc("/v0/item/3.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":3,"type":"job","title":"We are hiring"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHackerNews(10, nil, WithHackerNewsURL(srv.URL))
	items, err := h.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want 2 stories", items)
	}
	if items[0].URL != "https://tiny.example" || items[0].Source != "HackerNews" {
		t.Errorf("first = %+v", items[0])
	}
	if items[0].Published.Unix() != 1773050400 {
		t.Errorf("published = %v", items[0].Published)
	}
	if items[1].URL != "https://news.ycombinator.com/item?id=2" {
		t.Errorf("self post url = %s", items[1].URL)
	}
	if !strings.Contains(items[1].Body, "NLP research papers") {
		t.Errorf("self post body = %q", items[1].Body)
	}
}

func TestHackerNewsLimit(t *testing.T) {
	var requested atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0/topstories.json" {
			fmt.Fprint(w, `[1, 2, 3]`)
			return
		}
		requested.Add(1)
		fmt.Fprint(w, `{"id":1,"type":"story","title":"A story","url":"https://a.example"}`)
	}))
	defer srv.Close()

	h := NewHackerNews(1, nil, WithHackerNewsURL(srv.URL))
	if _, err := h.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n := requested.Load(); n != 1 {
		t.Errorf("item requests = %d, want 1", n)
	}
}

const articleHTML = `<html><head><title>Lab ships model</title></head><body>
<nav>Home | About | Subscribe to our newsletter</nav>
<article>
<h1>Lab ships a new language model</h1>
<p>The research lab released a language model that handles long documents better than its predecessor.</p>
<p>Engineers said the model was trained on a curated mix of code and scientific papers over several months.</p>
<p>Early benchmarks show strong results on retrieval tasks, although independent evaluations are still pending.</p>
<p>The company plans to open the weights to academic groups later this year under a research license.</p>
</article>
<footer>Cookie settings. All rights reserved.</footer>
</body></html>`

func TestEnricherExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	e := NewEnricher(2, 0, nil)
	text, err := e.Extract(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(text, "trained on a curated mix of code") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(strings.ToLower(text), "cookie") {
		t.Errorf("boilerplate kept: %q", text)
	}

	items := []news.RawItem{
		{Title: "has body", URL: srv.URL + "/missing", Body: strings.Repeat("long body text ", 20)},
		{Title: "needs body", URL: srv.URL + "/article"},
		{Title: "broken", URL: srv.URL + "/missing", Body: "short"},
	}
	out := e.Enrich(context.Background(), items)
	if out[0].Body != items[0].Body {
		t.Error("long body replaced")
	}
	if !strings.Contains(out[1].Body, "language model") {
		t.Errorf("body not filled: %q", out[1].Body)
	}
	if out[2].Body != "short" {
		t.Errorf("failed fetch changed body: %q", out[2].Body)
	}
	if items[1].Body != "" {
		t.Error("input slice modified")
	}
}

func TestSelectorContent(t *testing.T) {
	page := `<html><body><div class="story">
<p>First paragraph of the story is long enough to keep.</p>
<p>Second paragraph of the story is also long enough.</p>
<p>tiny</p>
</div></body></html>`
	got := selectorContent([]byte(page))
	want := "First paragraph of the story is long enough to keep.\n\nSecond paragraph of the story is also long enough."
	if got != want {
		t.Errorf("selectorContent = %q, want %q", got, want)
	}
}

func TestCleanContent(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"tags and entities", "<p>AI &amp; robotics startups raised record funding this quarter.</p>", "AI & robotics startups raised record funding this quarter."},
		{"junk line", "Click here to subscribe to our newsletter today.\nThe model outperforms the baseline on every benchmark.", "The model outperforms the baseline on every benchmark."},
		{"joins lines", "The model was trained\non public data only.", "The model was trained on public data only."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanContent(tt.in); got != tt.want {
				t.Errorf("cleanContent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := strings.Repeat("This sentence is part of a very long article body. ", 10)
	in := strings.Repeat(long+"\n", 6)
	if got := cleanContent(in); len(got) > 1800 {
		t.Errorf("len = %d, want capped", len(got))
	}
}

func TestCollect(t *testing.T) {
	m := metrics.New()
	ok := &fakeSource{name: "ok", items: []news.RawItem{{Title: "a", URL: "https://a"}}}
	bad := &fakeSource{name: "bad", err: ErrSourceUnavailable}

	items, err := collect(context.Background(), slog.Default(), m, []Source{bad, ok})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
	if m.SourcesFailed != 1 || m.ItemsFetched != 1 {
		t.Errorf("failed = %d, fetched = %d", m.SourcesFailed, m.ItemsFetched)
	}

	_, err = collect(context.Background(), slog.Default(), m, []Source{bad})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("all failing err = %v", err)
	}
}

func TestPoolRefresh(t *testing.T) {
	src := &fakeSource{name: "feed", items: []news.RawItem{{Title: "a", URL: "https://a"}, {Title: "b", URL: "https://b"}}}
	p := NewPool([]Source{src}, nil, metrics.New(), nil)

	n, err := p.Refresh(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Refresh = %d, %v", n, err)
	}
	if p.UpdatedAt().IsZero() {
		t.Error("UpdatedAt not set")
	}

	src.items, src.err = nil, ErrSourceUnavailable
	if _, err := p.Refresh(context.Background()); err == nil {
		t.Error("Refresh succeeded with every source down")
	}
	if got := p.Items(); len(got) != 2 {
		t.Errorf("pool = %d items, want previous 2 kept", len(got))
	}

	got := p.Items()
	got[0].Title = "changed"
	if p.Items()[0].Title != "a" {
		t.Error("Items exposes internal slice")
	}
}
