package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

// ViewRecord is one news id shown to one user.
type ViewRecord struct {
	NewsID   string    `json:"news_id"`
	ViewedAt time.Time `json:"viewed_at"`
}

type fileDocument struct {
	Profiles map[string]json.RawMessage  `json:"profiles"`
	Views    map[string][]ViewRecord     `json:"views"`
	Feedback map[string][]FeedbackRecord `json:"feedback,omitempty"`
}

// File keeps all profiles and view history in a single JSON document that
// is rewritten atomically after every change.
type File struct {
	filePath string
	viewTTL  time.Duration

	mu       sync.RWMutex
	profiles map[string]*profile.Profile
	views    map[string]map[string]time.Time
	feedback map[string][]FeedbackRecord
}

// OpenFile loads path, or starts empty when it does not exist. View records
// older than viewTTL are dropped on load; zero keeps them forever.
func OpenFile(path string, viewTTL time.Duration) (*File, error) {
	if path == "" {
		path = "profiles.json"
	}
	f := &File{
		filePath: path,
		viewTTL:  viewTTL,
		profiles: make(map[string]*profile.Profile),
		views:    make(map[string]map[string]time.Time),
		feedback: make(map[string][]FeedbackRecord),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read profile file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal profile file: %w", err)
	}

	for userID, raw := range doc.Profiles {
		p, err := decodeProfile(raw)
		if err != nil {
			return fmt.Errorf("profile %s: %w", userID, err)
		}
		f.profiles[userID] = p
	}

	var cutoff time.Time
	if f.viewTTL > 0 {
		cutoff = time.Now().Add(-f.viewTTL)
	}
	for userID, records := range doc.Views {
		seen := make(map[string]time.Time, len(records))
		for _, r := range records {
			if !cutoff.IsZero() && r.ViewedAt.Before(cutoff) {
				continue
			}
			seen[r.NewsID] = r.ViewedAt
		}
		f.views[userID] = seen
	}
	for userID, recs := range doc.Feedback {
		f.feedback[userID] = recs
	}
	return nil
}

// save must be called with f.mu held.
func (f *File) save() error {
	doc := fileDocument{
		Profiles: make(map[string]json.RawMessage, len(f.profiles)),
		Views:    make(map[string][]ViewRecord, len(f.views)),
		Feedback: f.feedback,
	}
	for userID, p := range f.profiles {
		raw, err := encodeProfile(p)
		if err != nil {
			return err
		}
		doc.Profiles[userID] = raw
	}
	for userID, seen := range f.views {
		records := make([]ViewRecord, 0, len(seen))
		for id, at := range seen {
			records = append(records, ViewRecord{NewsID: id, ViewedAt: at})
		}
		doc.Views[userID] = records
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile file: %w", err)
	}

	dir := filepath.Dir(f.filePath)
	tmp, err := os.CreateTemp(dir, ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	if err := os.Rename(tmpName, f.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace profile file: %w", err)
	}
	return nil
}

func (f *File) GetProfile(_ context.Context, userID string) (*profile.Profile, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (f *File) PutProfile(_ context.Context, userID string, p *profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prevProfile, existed := f.profiles[userID]
	var prev int64
	if existed {
		prev = prevProfile.Version
	}
	c := p.Clone()
	stamp(c, prev)
	f.profiles[userID] = c
	if err := f.save(); err != nil {
		if existed {
			f.profiles[userID] = prevProfile
		} else {
			delete(f.profiles, userID)
		}
		return err
	}
	return nil
}

func (f *File) UpdateProfile(_ context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	stamp(next, cur.Version)
	f.profiles[userID] = next
	if err := f.save(); err != nil {
		f.profiles[userID] = cur
		return nil, err
	}
	return next.Clone(), nil
}

func (f *File) HasViewed(_ context.Context, userID, newsID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	at, ok := f.views[userID][newsID]
	if !ok {
		return false, nil
	}
	if f.viewTTL > 0 && time.Since(at) > f.viewTTL {
		return false, nil
	}
	return true, nil
}

func (f *File) MarkViewed(_ context.Context, userID, newsID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen, ok := f.views[userID]
	if !ok {
		seen = make(map[string]time.Time)
		f.views[userID] = seen
	}
	if _, dup := seen[newsID]; dup {
		return nil
	}
	seen[newsID] = time.Now().UTC()
	if err := f.save(); err != nil {
		delete(seen, newsID)
		return err
	}
	return nil
}

func (f *File) ClearHistory(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, ok := f.views[userID]
	if !ok {
		return nil
	}
	delete(f.views, userID)
	if err := f.save(); err != nil {
		f.views[userID] = prev
		return err
	}
	return nil
}

func (f *File) ViewCount(_ context.Context, userID string) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.views[userID]), nil
}

func (f *File) LogFeedback(_ context.Context, rec FeedbackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	prev := f.feedback[rec.UserID]
	f.feedback[rec.UserID] = append(prev[:len(prev):len(prev)], rec)
	if err := f.save(); err != nil {
		f.feedback[rec.UserID] = prev
		return err
	}
	return nil
}

func (f *File) RecentFeedback(_ context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newestFirst(f.feedback[userID], limit), nil
}

func (f *File) Close() error { return nil }
