package storage

import (
	"context"
	"sync"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

// Memory keeps everything in process. Each instance is independent; callers
// construct one explicitly when no durable store is configured.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	views    map[string]map[string]time.Time
	feedback map[string][]FeedbackRecord
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]*profile.Profile),
		views:    make(map[string]map[string]time.Time),
		feedback: make(map[string][]FeedbackRecord),
	}
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) PutProfile(_ context.Context, userID string, p *profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev int64
	if cur, ok := m.profiles[userID]; ok {
		prev = cur.Version
	}
	c := p.Clone()
	stamp(c, prev)
	m.profiles[userID] = c
	return nil
}

func (m *Memory) UpdateProfile(_ context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	stamp(next, cur.Version)
	m.profiles[userID] = next
	return next.Clone(), nil
}

func (m *Memory) HasViewed(_ context.Context, userID, newsID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.views[userID][newsID]
	return ok, nil
}

func (m *Memory) MarkViewed(_ context.Context, userID, newsID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen, ok := m.views[userID]
	if !ok {
		seen = make(map[string]time.Time)
		m.views[userID] = seen
	}
	if _, dup := seen[newsID]; !dup {
		seen[newsID] = time.Now().UTC()
	}
	return nil
}

func (m *Memory) ClearHistory(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, userID)
	return nil
}

func (m *Memory) ViewCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views[userID]), nil
}

func (m *Memory) LogFeedback(_ context.Context, rec FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.feedback[rec.UserID] = append(m.feedback[rec.UserID], rec)
	return nil
}

func (m *Memory) RecentFeedback(_ context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.feedback[userID], limit), nil
}

func (m *Memory) Close() error { return nil }
