package news

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func item(title, url string, age time.Duration) RawItem {
	return RawItem{Title: title, URL: url, Source: "test", Published: testNow.Add(-age)}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Title
	}
	return out
}

func newTestFilter() *Filter {
	return NewFilter(DefaultVocabulary(), DefaultFilterConfig(), nil)
}

func TestFilterGates(t *testing.T) {
	p := profile.New()
	p.Exclude("eu")

	items := []RawItem{
		item("AI startup raises $20M seed round", "https://example.com/a", time.Hour),
		item("Weather today", "https://example.com/b", time.Hour),
		item("", "https://example.com/c", time.Hour),
		item("ML platform raises Series B", "not a url", time.Hour),
		item("European AI lab lands funding", "https://example.com/d", time.Hour),
		item("AI chip maker gets investment in Europe", "https://example.com/e", time.Hour),
		item("AI startup raises $20M seed round", "https://example.com/a", time.Hour),
	}

	got, stats := newTestFilter().Apply(context.Background(), items, p, nil, testNow)

	want := []string{"AI startup raises $20M seed round", "European AI lab lands funding"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Fatalf("titles = %v, want %v", ids(got), want)
	}
	if stats.Invalid != 2 {
		t.Errorf("Invalid = %d, want 2", stats.Invalid)
	}
	if stats.OffTopic != 1 {
		t.Errorf("OffTopic = %d, want 1", stats.OffTopic)
	}
	if stats.Excluded != 1 {
		t.Errorf("Excluded = %d, want 1", stats.Excluded)
	}
}

func TestFilterEscapeHatchDisabled(t *testing.T) {
	p := profile.New()
	p.Exclude("eu")

	cfg := DefaultFilterConfig()
	cfg.ExclusionEscapeHatch = false
	f := NewFilter(DefaultVocabulary(), cfg, nil)

	items := []RawItem{item("European AI lab lands funding", "https://example.com/d", time.Hour)}
	got, _ := f.Apply(context.Background(), items, p, nil, testNow)
	if len(got) != 0 {
		t.Errorf("got %v, want excluded item dropped", ids(got))
	}
}

func TestFilterAIGateUsesProfileTags(t *testing.T) {
	items := []RawItem{
		item("Anthropic raises $2B Series C", "https://example.com/a", time.Hour),
		item("Quantum computing startup raises seed", "https://example.com/q", time.Hour),
		item("Bakery chain raises seed", "https://example.com/b", time.Hour),
	}

	p := profile.New()
	got, _ := newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if want := []string{"Anthropic raises $2B Series C"}; fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("default profile titles = %v, want %v", ids(got), want)
	}

	p.SetWeight("quantum_computing", 0.7)
	got, _ = newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if len(got) != 2 || got[1].Title != "Quantum computing startup raises seed" {
		t.Errorf("titles = %v, want the quantum item admitted by its tag", ids(got))
	}

	p.SetWeight("quantum_computing", 0.05)
	got, _ = newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if len(got) != 1 {
		t.Errorf("titles = %v, suppressed tag should not open the gate", ids(got))
	}
}

func TestFilterRecencyFallback(t *testing.T) {
	p := profile.New()
	items := []RawItem{
		item("AI fund closes", "https://example.com/1", 10*24*time.Hour),
		item("LLM startup raises capital", "https://example.com/2", 5*24*time.Hour),
	}

	got, stats := newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if !stats.RecencyFallback {
		t.Error("expected recency fallback")
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestFilterRecencyWindow(t *testing.T) {
	p := profile.New()
	items := []RawItem{
		item("AI fund closes", "https://example.com/1", 10*24*time.Hour),
		item("LLM startup raises capital", "https://example.com/2", time.Hour),
	}

	got, stats := newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if len(got) != 1 || got[0].Title != "LLM startup raises capital" {
		t.Errorf("titles = %v", ids(got))
	}
	if stats.Stale != 1 {
		t.Errorf("Stale = %d, want 1", stats.Stale)
	}
}

func TestFilterDedupBackfill(t *testing.T) {
	p := profile.New()
	items := []RawItem{
		item("AI startup A raises seed", "https://example.com/1", 1*time.Hour),
		item("AI startup B raises seed", "https://example.com/2", 2*time.Hour),
		item("AI startup C raises seed", "https://example.com/3", 3*time.Hour),
		item("AI startup D raises seed", "https://example.com/4", 4*time.Hour),
	}
	viewed := map[string]bool{
		ID(items[0].Title, items[0].URL): true,
		ID(items[1].Title, items[1].URL): true,
		ID(items[2].Title, items[2].URL): true,
	}
	lookup := func(_ context.Context, id string) (bool, error) { return viewed[id], nil }

	got, stats := newTestFilter().Apply(context.Background(), items, p, lookup, testNow)

	want := []string{"AI startup A raises seed", "AI startup B raises seed", "AI startup D raises seed"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("titles = %v, want %v", ids(got), want)
	}
	if stats.Duplicates != 3 || stats.Backfilled != 2 {
		t.Errorf("Duplicates = %d, Backfilled = %d, want 3 and 2", stats.Duplicates, stats.Backfilled)
	}
}

func TestFilterDropsViewedWhenEnoughRemain(t *testing.T) {
	p := profile.New()
	var items []RawItem
	for i := 0; i < 5; i++ {
		items = append(items, item(fmt.Sprintf("AI startup %d raises seed", i), fmt.Sprintf("https://example.com/%d", i), time.Hour))
	}
	seen := ID(items[0].Title, items[0].URL)
	lookup := func(_ context.Context, id string) (bool, error) { return id == seen, nil }

	got, _ := newTestFilter().Apply(context.Background(), items, p, lookup, testNow)
	for _, c := range got {
		if c.ID == seen {
			t.Errorf("viewed item %q returned", c.Title)
		}
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4", len(got))
	}
}

func TestFilterCapsOutputByRelevance(t *testing.T) {
	p := profile.New()
	p.SetWeight("robotics", 0.9)

	var items []RawItem
	for i := 0; i < 14; i++ {
		items = append(items, item(fmt.Sprintf("AI startup %d raises seed", i), fmt.Sprintf("https://example.com/%d", i), time.Hour))
	}
	items = append(items, item("AI robotics company raises seed", "https://example.com/robot", time.Hour))

	got, _ := newTestFilter().Apply(context.Background(), items, p, nil, testNow)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	found := false
	for _, c := range got {
		if c.Title == "AI robotics company raises seed" {
			found = true
			if c.Tier1Score <= 0.1 {
				t.Errorf("Tier1Score = %v, want above base", c.Tier1Score)
			}
		}
	}
	if !found {
		t.Error("highest scoring candidate was cut")
	}
}

func TestTier1ScenarioA(t *testing.T) {
	p := profile.New()
	p.SetWeight("nlp", 0.8)

	match := NewCandidate(RawItem{Title: "OpenAI raises $500M for NLP research", URL: "https://example.com/n"})
	other := NewCandidate(RawItem{Title: "Chipmaker reports quarterly earnings", URL: "https://example.com/o"})

	a, matched := Tier1(match, p, 0.1)
	b, _ := Tier1(other, p, 0.1)
	if a <= b {
		t.Errorf("Tier1 = %v, want greater than %v", a, b)
	}
	if len(matched) != 1 || matched[0] != "nlp" {
		t.Errorf("matched = %v", matched)
	}
}

func TestDaysOld(t *testing.T) {
	if d := DaysOld(time.Time{}, testNow); d != 0 {
		t.Errorf("zero date = %d, want 0", d)
	}
	yesterdayLate := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	if d := DaysOld(yesterdayLate, testNow); d != 1 {
		t.Errorf("DaysOld = %d, want 1", d)
	}
}
