package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deusflow/newsprefs/internal/profile"
)

// SQLite is a single-file store. Writes go through one connection, which
// makes every transaction exclusive and UpdateProfile atomic.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "newsprefs.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS viewed_news (
			user_id TEXT NOT NULL,
			news_id TEXT NOT NULL,
			viewed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, news_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			news_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			signal TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_log_user ON feedback_log(user_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLite) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	var (
		doc     string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM profiles WHERE user_id = ?`, userID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p, err := decodeProfile([]byte(doc))
	if err != nil {
		return nil, err
	}
	p.Version = version
	return p, nil
}

func (s *SQLite) PutProfile(ctx context.Context, userID string, p *profile.Profile) error {
	c := p.Clone()
	stamp(c, 0)
	doc, err := encodeProfile(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, doc, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			doc = excluded.doc,
			version = profiles.version + 1,
			updated_at = excluded.updated_at
	`, userID, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateProfile(ctx context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		doc     string
		version int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT doc, version FROM profiles WHERE user_id = ?`, userID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p, err := decodeProfile([]byte(doc))
	if err != nil {
		return nil, err
	}
	p.Version = version
	if err := fn(p); err != nil {
		return nil, err
	}
	stamp(p, version)

	out, err := encodeProfile(p)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET doc = ?, version = ?, updated_at = ? WHERE user_id = ? AND version = ?`,
		string(out), p.Version, p.UpdatedAt, userID, version)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile: %w", err)
	}
	return p, nil
}

func (s *SQLite) HasViewed(ctx context.Context, userID, newsID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM viewed_news WHERE user_id = ? AND news_id = ?`, userID, newsID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check viewed: %w", err)
	}
	return true, nil
}

func (s *SQLite) MarkViewed(ctx context.Context, userID, newsID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO viewed_news (user_id, news_id, viewed_at) VALUES (?, ?, ?)`,
		userID, newsID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark viewed: %w", err)
	}
	return nil
}

func (s *SQLite) ClearHistory(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM viewed_news WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *SQLite) ViewCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM viewed_news WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count viewed: %w", err)
	}
	return n, nil
}

func (s *SQLite) LogFeedback(ctx context.Context, rec FeedbackRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_log (user_id, news_id, title, signal, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.NewsID, rec.Title, rec.Signal, rec.Reason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("log feedback: %w", err)
	}
	return nil
}

func (s *SQLite) RecentFeedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, news_id, title, signal, reason, created_at FROM feedback_log
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var r FeedbackRecord
		if err := rows.Scan(&r.UserID, &r.NewsID, &r.Title, &r.Signal, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
