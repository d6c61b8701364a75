package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCounters(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementRankRequests()
			m.AddItemsFetched(2)
		}()
	}
	wg.Wait()

	stats := m.GetStats()
	if stats["rank_requests"] != int64(50) {
		t.Errorf("rank_requests = %v, want 50", stats["rank_requests"])
	}
	if stats["items_fetched"] != int64(100) {
		t.Errorf("items_fetched = %v, want 100", stats["items_fetched"])
	}
}

func TestHealth(t *testing.T) {
	m := New()
	if !m.Healthy() {
		t.Fatal("new metrics not healthy")
	}
	m.SetError("feeds down")
	if m.Healthy() {
		t.Error("healthy after SetError")
	}
	if m.GetStats()["last_error"] != "feeds down" {
		t.Errorf("last_error = %v", m.GetStats()["last_error"])
	}
	m.SetLastRun()
	if !m.Healthy() {
		t.Error("not healthy after SetLastRun")
	}
}

func TestRecordProcessingTime(t *testing.T) {
	m := New()
	m.RecordProcessingTime(100 * time.Millisecond)
	m.RecordProcessingTime(300 * time.Millisecond)
	if m.AverageProcessingTime != 200*time.Millisecond {
		t.Errorf("average = %v, want 200ms", m.AverageProcessingTime)
	}
	if m.GetStats()["last_processing_time_ms"] != int64(300) {
		t.Errorf("last = %v", m.GetStats()["last_processing_time_ms"])
	}
}
