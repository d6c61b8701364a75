package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/deusflow/newsprefs/internal/profile"
)

// Postgres stores profiles as JSONB documents and view history as rows.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPostgres connects, pings and creates the schema if needed.
func OpenPostgres(ctx context.Context, connectionString string, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := &Postgres{db: db, logger: logger}
	if err := pg.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("postgres store connected")
	return pg, nil
}

func (pg *Postgres) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id VARCHAR(128) PRIMARY KEY,
		doc JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS viewed_news (
		user_id VARCHAR(128) NOT NULL,
		news_id VARCHAR(64) NOT NULL,
		viewed_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, news_id)
	);

	CREATE INDEX IF NOT EXISTS idx_viewed_news_viewed_at ON viewed_news(viewed_at);

	CREATE TABLE IF NOT EXISTS feedback_log (
		id BIGSERIAL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		news_id VARCHAR(64) NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		signal VARCHAR(16) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_log_user ON feedback_log(user_id, id);
	`
	if _, err := pg.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (pg *Postgres) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	var (
		doc     []byte
		version int64
	)
	err := pg.db.QueryRowContext(ctx,
		`SELECT doc, version FROM profiles WHERE user_id = $1`, userID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p, err := decodeProfile(doc)
	if err != nil {
		return nil, err
	}
	p.Version = version
	return p, nil
}

func (pg *Postgres) PutProfile(ctx context.Context, userID string, p *profile.Profile) error {
	c := p.Clone()
	stamp(c, 0)
	doc, err := encodeProfile(c)
	if err != nil {
		return err
	}
	_, err = pg.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, doc, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			doc = EXCLUDED.doc,
			version = profiles.version + 1,
			updated_at = NOW()
	`, userID, doc)
	if err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}
	return nil
}

// UpdateProfile locks the row with SELECT ... FOR UPDATE for the duration
// of fn, so concurrent updates for the same user serialize.
func (pg *Postgres) UpdateProfile(ctx context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error) {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		doc     []byte
		version int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT doc, version FROM profiles WHERE user_id = $1 FOR UPDATE`, userID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}

	p, err := decodeProfile(doc)
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
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET doc = $2, version = $3, updated_at = NOW() WHERE user_id = $1`,
		userID, out, p.Version); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile update: %w", err)
	}
	return p, nil
}

func (pg *Postgres) HasViewed(ctx context.Context, userID, newsID string) (bool, error) {
	var count int
	err := pg.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM viewed_news WHERE user_id = $1 AND news_id = $2`, userID, newsID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check view history: %w", err)
	}
	return count > 0, nil
}

func (pg *Postgres) MarkViewed(ctx context.Context, userID, newsID string) error {
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO viewed_news (user_id, news_id, viewed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, news_id) DO NOTHING
	`, userID, newsID)
	if err != nil {
		return fmt.Errorf("failed to mark viewed: %w", err)
	}
	return nil
}

func (pg *Postgres) ClearHistory(ctx context.Context, userID string) error {
	result, err := pg.db.ExecContext(ctx, `DELETE FROM viewed_news WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		pg.logger.Info("cleared view history", "user_id", userID, "rows", rows)
	}
	return nil
}

func (pg *Postgres) ViewCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := pg.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM viewed_news WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count view history: %w", err)
	}
	return count, nil
}

func (pg *Postgres) LogFeedback(ctx context.Context, rec FeedbackRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO feedback_log (user_id, news_id, title, signal, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.UserID, rec.NewsID, rec.Title, rec.Signal, rec.Reason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log feedback: %w", err)
	}
	return nil
}

func (pg *Postgres) RecentFeedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	rows, err := pg.db.QueryContext(ctx, `
		SELECT user_id, news_id, title, signal, reason, created_at FROM feedback_log
		WHERE user_id = $1 ORDER BY id DESC LIMIT $2
	`, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var r FeedbackRecord
		if err := rows.Scan(&r.UserID, &r.NewsID, &r.Title, &r.Signal, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (pg *Postgres) Close() error {
	if pg.db != nil {
		return pg.db.Close()
	}
	return nil
}
