package ratelimit

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Limiter enforces daily request budgets for oracle providers, per provider
// and in total. A limit of zero means unlimited.
type Limiter struct {
	mu        sync.Mutex
	counts    map[string]int
	limits    map[string]int
	total     int
	maxTotal  int
	resetTime time.Time
	now       func() time.Time
	logger    *slog.Logger

	cacheHits   int
	cacheMisses int
}

// New creates a limiter with per-provider limits and an overall cap.
func New(limits map[string]int, maxTotal int, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		counts:   make(map[string]int),
		limits:   make(map[string]int, len(limits)),
		maxTotal: maxTotal,
		now:      time.Now,
		logger:   logger.With("component", "ratelimit"),
	}
	for p, n := range limits {
		l.limits[p] = n
	}
	l.resetTime = l.now().Add(24 * time.Hour)
	return l
}

// Allow reports whether provider may make another request.
func (l *Limiter) Allow(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkReset()
	return l.allowed(provider) == nil
}

// Use records one request, or fails when the budget is spent.
func (l *Limiter) Use(provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkReset()
	if err := l.allowed(provider); err != nil {
		l.logger.Warn("rate limit reached", "provider", provider, "used", l.counts[provider], "total", l.total)
		return err
	}

	l.counts[provider]++
	l.total++
	l.cacheMisses++
	l.logger.Debug("oracle usage", "provider", provider, "used", l.counts[provider],
		"limit", l.limits[provider], "total", l.total, "total_limit", l.maxTotal)
	return nil
}

func (l *Limiter) allowed(provider string) error {
	if limit := l.limits[provider]; limit > 0 && l.counts[provider] >= limit {
		return fmt.Errorf("%s rate limit exceeded", provider)
	}
	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return fmt.Errorf("total oracle rate limit exceeded")
	}
	return nil
}

// RecordCacheHit counts a request answered from cache.
func (l *Limiter) RecordCacheHit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cacheHits++
}

func (l *Limiter) cacheHitRate() float64 {
	total := l.cacheHits + l.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(l.cacheHits) / float64(total) * 100
}

// GetStats returns current usage.
func (l *Limiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":     l.total,
		"total_limit":    l.maxTotal,
		"cache_hits":     l.cacheHits,
		"cache_misses":   l.cacheMisses,
		"cache_hit_rate": l.cacheHitRate(),
		"reset_time":     l.resetTime.Format(time.RFC3339),
	}
	providers := make([]string, 0, len(l.limits))
	for p := range l.limits {
		providers = append(providers, p)
	}
	for p := range l.counts {
		if _, ok := l.limits[p]; !ok {
			providers = append(providers, p)
		}
	}
	sort.Strings(providers)
	for _, p := range providers {
		stats[p+"_used"] = l.counts[p]
		stats[p+"_limit"] = l.limits[p]
	}
	return stats
}

// checkReset clears counters once a day. Callers hold l.mu.
func (l *Limiter) checkReset() {
	if l.now().After(l.resetTime) {
		l.logger.Info("resetting oracle rate limiter", "total_used", l.total,
			"cache_hits", l.cacheHits, "cache_misses", l.cacheMisses)
		l.counts = make(map[string]int)
		l.total = 0
		l.cacheHits = 0
		l.cacheMisses = 0
		l.resetTime = l.now().Add(24 * time.Hour)
	}
}
