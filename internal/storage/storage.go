// Package storage persists interest profiles and per-user view history.
//
// All backends implement the same narrow contract. Profile updates are
// atomic per user: UpdateProfile runs its callback against the latest stored
// profile inside a transaction, a lock or a compare-and-swap loop, depending
// on the backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

var (
	// ErrProfileNotFound means the user has no profile yet and must be
	// onboarded before ranking or feedback.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrConflict is returned when a compare-and-swap update keeps losing
	// against concurrent writers.
	ErrConflict = errors.New("concurrent profile update")
)

// ProfileStore reads and writes profiles keyed by user id.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	PutProfile(ctx context.Context, userID string, p *profile.Profile) error
	// UpdateProfile loads the current profile, lets fn mutate it and stores
	// the result as one atomic step. An error from fn aborts the update.
	UpdateProfile(ctx context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error)
}

// ViewHistory records which news ids a user has been shown.
type ViewHistory interface {
	HasViewed(ctx context.Context, userID, newsID string) (bool, error)
	// MarkViewed is idempotent.
	MarkViewed(ctx context.Context, userID, newsID string) error
	ClearHistory(ctx context.Context, userID string) error
	ViewCount(ctx context.Context, userID string) (int, error)
}

// FeedbackRecord is one feedback event as it was received.
type FeedbackRecord struct {
	UserID    string    `json:"user_id"`
	NewsID    string    `json:"news_id"`
	Title     string    `json:"title,omitempty"`
	Signal    string    `json:"signal"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackLog is an append-only journal of feedback events.
type FeedbackLog interface {
	LogFeedback(ctx context.Context, rec FeedbackRecord) error
	// RecentFeedback returns up to limit records for userID, newest first.
	// A limit of zero or less returns everything.
	RecentFeedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error)
}

type Store interface {
	ProfileStore
	ViewHistory
	FeedbackLog
	Close() error
}

type combined struct {
	Store
	history ViewHistory
	closers []func() error
}

func (c *combined) HasViewed(ctx context.Context, userID, newsID string) (bool, error) {
	return c.history.HasViewed(ctx, userID, newsID)
}

func (c *combined) MarkViewed(ctx context.Context, userID, newsID string) error {
	return c.history.MarkViewed(ctx, userID, newsID)
}

func (c *combined) ClearHistory(ctx context.Context, userID string) error {
	return c.history.ClearHistory(ctx, userID)
}

func (c *combined) ViewCount(ctx context.Context, userID string) (int, error) {
	return c.history.ViewCount(ctx, userID)
}

func (c *combined) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine keeps profiles and the feedback log in s and moves view history
// to h. Close closes both.
func Combine(s Store, h ViewHistory) Store {
	c := &combined{Store: s, history: h, closers: []func() error{s.Close}}
	if cl, ok := h.(interface{ Close() error }); ok && any(h) != any(s) {
		c.closers = append(c.closers, cl.Close)
	}
	return c
}

// newestFirst returns up to limit records from an oldest-first slice,
// newest first.
func newestFirst(recs []FeedbackRecord, limit int) []FeedbackRecord {
	n := len(recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]FeedbackRecord, 0, n)
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recs[i])
	}
	return out
}

// sqlLimit maps a non-positive limit to "no limit" for SQL backends.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}

func encodeProfile(p *profile.Profile) ([]byte, error) {
	c := p.Clone()
	c.Coerce()
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return data, nil
}

func decodeProfile(data []byte) (*profile.Profile, error) {
	p := profile.New()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p.Coerce()
	return p, nil
}

// stamp prepares a profile for writing on top of version prev.
func stamp(p *profile.Profile, prev int64) {
	p.Coerce()
	p.Version = prev + 1
	p.UpdatedAt = time.Now().UTC()
}

// Options selects and configures a backend.
type Options struct {
	Driver string // memory | file | postgres | sqlite | dynamodb

	FilePath    string
	DatabaseURL string
	SQLitePath  string

	DynamoTable         string
	DynamoViewsTable    string
	DynamoFeedbackTable string
	AWSRegion           string
	AWSEndpoint         string

	ViewHistory string // store | valkey
	Valkey      ValkeyOptions
	ViewTTL     time.Duration

	Logger *slog.Logger
}

// Open builds the configured store.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", "memory":
		s = NewMemory()
	case "file":
		s, err = OpenFile(opts.FilePath, opts.ViewTTL)
	case "postgres":
		s, err = OpenPostgres(ctx, opts.DatabaseURL, logger)
	case "sqlite":
		s, err = OpenSQLite(ctx, opts.SQLitePath)
	case "dynamodb":
		s, err = OpenDynamo(ctx, DynamoOptions{
			Region:        opts.AWSRegion,
			Endpoint:      opts.AWSEndpoint,
			Table:         opts.DynamoTable,
			ViewsTable:    opts.DynamoViewsTable,
			FeedbackTable: opts.DynamoFeedbackTable,
			Logger:        logger,
			ViewTTL:       opts.ViewTTL,
			CASAttempts:   5,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.ViewHistory == "valkey" {
		vopts := opts.Valkey
		if vopts.TTL == 0 {
			vopts.TTL = opts.ViewTTL
		}
		vh, err := NewValkeyHistory(ctx, vopts, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s = Combine(s, vh)
	}

	logger.Info("store ready", "driver", opts.Driver, "view_history", opts.ViewHistory)
	return s, nil
}
