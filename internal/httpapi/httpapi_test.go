package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/newsprefs/internal/engine"
	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
	"github.com/deusflow/newsprefs/internal/storage"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type staticPool []news.RawItem

func (p staticPool) Items() []news.RawItem { return p }

func poolItems() staticPool {
	return staticPool{
		{Title: "AI startup raises $20M seed round for NLP", URL: "https://example.com/1", Source: "TechCrunch", Published: now.Add(-time.Hour)},
		{Title: "Machine learning chip maker gets investment", URL: "https://example.com/3", Source: "HackerNews", Published: now.Add(-3 * time.Hour)},
		{Title: "Cooking recipes for the weekend", URL: "https://example.com/4", Source: "HackerNews", Published: now},
	}
}

func newServer(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	opts := engine.DefaultOptions()
	opts.Now = func() time.Time { return now }
	e := engine.New(storage.NewMemory(), nil, nil, opts, m, nil)
	t.Cleanup(e.Close)
	return New(e, poolItems(), m, nil, 5*time.Second).Handler(), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newServer(t)

	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	w = do(t, h, http.MethodGet, "/metrics", "")
	stats := decodeBody[map[string]any](t, w)
	if _, ok := stats["rank_requests"]; !ok {
		t.Errorf("metrics = %v", stats)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	h, _ := newServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestProfileNotFound(t *testing.T) {
	h, _ := newServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/v1/users/ghost/profile", ""},
		{http.MethodPost, "/v1/users/ghost/rank", `{"top_k": 3}`},
	} {
		w := do(t, h, tc.method, tc.path, tc.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
			continue
		}
		if e := decodeBody[errorResponse](t, w); e.Error != "profile_not_found" {
			t.Errorf("error = %+v", e)
		}
	}
}

func TestRankAndFeedbackFlow(t *testing.T) {
	h, _ := newServer(t)

	w := do(t, h, http.MethodPost, "/v1/users/u1/profile", `{"text": "I build NLP products"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("init = %d %s", w.Code, w.Body.String())
	}
	p := decodeBody[profile.Profile](t, w)
	if p.Tags["nlp"] == 0 {
		t.Errorf("tags = %v, want nlp", p.Tags)
	}

	w = do(t, h, http.MethodPost, "/v1/users/u1/rank", `{"top_k": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rank = %d %s", w.Code, w.Body.String())
	}
	ranked := decodeBody[rankResponse](t, w)
	if ranked.Count != 2 || ranked.Items[0].URL != "https://example.com/1" {
		t.Fatalf("ranked = %+v", ranked)
	}

	w = do(t, h, http.MethodPost, "/v1/users/u1/feedback",
		`{"candidate_id": "`+ranked.Items[0].ID+`", "signal": "like"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("feedback = %d %s", w.Code, w.Body.String())
	}
	res := decodeBody[engine.FeedbackResult](t, w)
	if res.Profile.Tags["nlp"] <= p.Tags["nlp"] {
		t.Errorf("nlp %v -> %v, want increase", p.Tags["nlp"], res.Profile.Tags["nlp"])
	}

	w = do(t, h, http.MethodPost, "/v1/users/u1/feedback", `{"candidate_id": "unknown", "signal": "like"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("unknown candidate = %d, want 409", w.Code)
	}
	if e := decodeBody[errorResponse](t, w); e.Error != "invalid_feedback_event" {
		t.Errorf("error = %+v", e)
	}

	if w = do(t, h, http.MethodDelete, "/v1/users/u1/history", ""); w.Code != http.StatusNoContent {
		t.Errorf("clear history = %d", w.Code)
	}
}

func TestRankWithInlineItems(t *testing.T) {
	h, _ := newServer(t)
	do(t, h, http.MethodPost, "/v1/users/u1/profile", "")

	body := `{"items": [{"title": "AI robotics startup raises Series A", "url": "https://example.com/r", "source": "TechCrunch"}]}`
	w := do(t, h, http.MethodPost, "/v1/users/u1/rank", body)
	ranked := decodeBody[rankResponse](t, w)
	if ranked.Count != 1 || ranked.Items[0].URL != "https://example.com/r" {
		t.Errorf("ranked = %+v", ranked)
	}
}

func TestBadRequests(t *testing.T) {
	h, _ := newServer(t)
	do(t, h, http.MethodPost, "/v1/users/u1/profile", "")

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"broken json", http.MethodPost, "/v1/users/u1/rank", `{"top_k":`, http.StatusBadRequest},
		{"negative top k", http.MethodPost, "/v1/users/u1/rank", `{"top_k": -1}`, http.StatusBadRequest},
		{"feedback without candidate", http.MethodPost, "/v1/users/u1/feedback", `{"signal": "like"}`, http.StatusBadRequest},
		{"tag without weight", http.MethodPut, "/v1/users/u1/tags/nlp", `{}`, http.StatusBadRequest},
		{"blank exclusion", http.MethodPost, "/v1/users/u1/exclusions", `{"term": " "}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/v1/users/u1/rank", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestTagEndpoints(t *testing.T) {
	h, _ := newServer(t)
	do(t, h, http.MethodPost, "/v1/users/u1/profile", "")

	w := do(t, h, http.MethodPut, "/v1/users/u1/tags/computer%20vision", `{"weight": 0.6}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set tag = %d %s", w.Code, w.Body.String())
	}
	if p := decodeBody[profile.Profile](t, w); p.Tags["computer vision"] != 0.6 {
		t.Errorf("tags = %v", p.Tags)
	}

	w = do(t, h, http.MethodPost, "/v1/users/u1/exclusions", `{"term": "vision"}`)
	if p := decodeBody[profile.Profile](t, w); len(p.Exclusions) != 1 {
		t.Errorf("exclusions = %v", p.Exclusions)
	}

	w = do(t, h, http.MethodPut, "/v1/users/u1/tags/vision", `{"weight": 0.5}`)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "tag_excluded") {
		t.Errorf("excluded tag = %d %s", w.Code, w.Body.String())
	}

	do(t, h, http.MethodPut, "/v1/users/u1/tags/agents", `{"weight": 0.9}`)
	w = do(t, h, http.MethodDelete, "/v1/users/u1/tags/agents", "")
	if p := decodeBody[profile.Profile](t, w); p.Tags["agents"] != 0 {
		t.Errorf("tag not removed: %v", p.Tags)
	}

	w = do(t, h, http.MethodDelete, "/v1/users/u1/profile", "")
	if p := decodeBody[profile.Profile](t, w); len(p.Tags) != 0 || len(p.Exclusions) != 0 {
		t.Errorf("reset profile = %+v", p)
	}
}

func TestDigestAndFeedbackHistory(t *testing.T) {
	h, _ := newServer(t)
	do(t, h, http.MethodPost, "/v1/users/u1/profile", `{"text": "I build NLP products"}`)

	w := do(t, h, http.MethodGet, "/v1/users/u1/digest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("digest before rank = %d, want 404", w.Code)
	}
	if e := decodeBody[errorResponse](t, w); e.Error != "nothing_to_digest" {
		t.Errorf("error = %+v", e)
	}

	ranked := decodeBody[rankResponse](t, do(t, h, http.MethodPost, "/v1/users/u1/rank", `{"top_k": 5}`))
	do(t, h, http.MethodPost, "/v1/users/u1/feedback", `{"candidate_id": "`+ranked.Items[0].ID+`", "signal": "like"}`)
	do(t, h, http.MethodPost, "/v1/users/u1/feedback", `{"candidate_id": "`+ranked.Items[1].ID+`", "signal": "dislike"}`)

	w = do(t, h, http.MethodGet, "/v1/users/u1/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("digest = %d %s", w.Code, w.Body.String())
	}
	d := decodeBody[engine.Digest](t, w)
	if len(d.Items) != ranked.Count || d.Items[0].ID != ranked.Items[0].ID {
		t.Errorf("digest items = %+v", d.Items)
	}
	if !strings.Contains(d.Text, ranked.Items[0].Title) {
		t.Errorf("digest text = %q", d.Text)
	}

	w = do(t, h, http.MethodGet, "/v1/users/u1/feedback?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("feedback history = %d %s", w.Code, w.Body.String())
	}
	hist := decodeBody[feedbackHistoryResponse](t, w)
	if hist.Count != 1 || hist.Items[0].Signal != "dislike" {
		t.Errorf("history = %+v", hist)
	}

	if w = do(t, h, http.MethodGet, "/v1/users/u1/feedback?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

type fixedOracleStats map[string]any

func (s fixedOracleStats) Stats() map[string]any { return s }

func TestMetricsIncludeOracleBudget(t *testing.T) {
	m := metrics.New()
	e := engine.New(storage.NewMemory(), nil, nil, engine.DefaultOptions(), m, nil)
	t.Cleanup(e.Close)
	srv := New(e, nil, m, nil, 0).WithOracleStats(fixedOracleStats{"total_used": 3, "available": true})

	stats := decodeBody[map[string]any](t, do(t, srv.Handler(), http.MethodGet, "/metrics", ""))
	o, ok := stats["oracle"].(map[string]any)
	if !ok {
		t.Fatalf("metrics = %v, want oracle section", stats)
	}
	if o["total_used"] != float64(3) || o["available"] != true {
		t.Errorf("oracle = %v", o)
	}
}
