package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	RankRequests        int64
	CandidatesFiltered  int64
	DuplicatesFiltered  int64
	QualityGateDrops    int64
	OracleCalls         int64
	OracleFailures      int64
	OracleFallbacks     int64
	FeedbackApplied     int64
	FeedbackDegraded    int64
	ProfilesInitialized int64
	SourcesFailed       int64
	ItemsFetched        int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) add(field *int64, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += n
}

func (m *Metrics) IncrementRankRequests() { m.add(&m.RankRequests, 1) }
func (m *Metrics) AddCandidatesFiltered(n int) { m.add(&m.CandidatesFiltered, int64(n)) }
func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, int64(n)) }
func (m *Metrics) AddQualityGateDrops(n int) { m.add(&m.QualityGateDrops, int64(n)) }
func (m *Metrics) IncrementOracleCalls() { m.add(&m.OracleCalls, 1) }
func (m *Metrics) IncrementOracleFailures() { m.add(&m.OracleFailures, 1) }
func (m *Metrics) IncrementOracleFallbacks() { m.add(&m.OracleFallbacks, 1) }
func (m *Metrics) AddOracleFallbacks(n int) { m.add(&m.OracleFallbacks, int64(n)) }
func (m *Metrics) IncrementFeedbackApplied() { m.add(&m.FeedbackApplied, 1) }
func (m *Metrics) IncrementFeedbackDegraded() { m.add(&m.FeedbackDegraded, 1) }
func (m *Metrics) IncrementProfilesInitialized() { m.add(&m.ProfilesInitialized, 1) }
func (m *Metrics) IncrementSourcesFailed() { m.add(&m.SourcesFailed, 1) }
func (m *Metrics) AddItemsFetched(n int) { m.add(&m.ItemsFetched, int64(n)) }

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"rank_requests":              m.RankRequests,
		"candidates_filtered":        m.CandidatesFiltered,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"quality_gate_drops":         m.QualityGateDrops,
		"oracle_calls":               m.OracleCalls,
		"oracle_failures":            m.OracleFailures,
		"oracle_fallbacks":           m.OracleFallbacks,
		"feedback_applied":           m.FeedbackApplied,
		"feedback_degraded":          m.FeedbackDegraded,
		"profiles_initialized":       m.ProfilesInitialized,
		"sources_failed":             m.SourcesFailed,
		"items_fetched":              m.ItemsFetched,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              m.LastRunTime.Format(time.RFC3339),
		"last_error_time":            m.LastErrorTime.Format(time.RFC3339),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
