package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oxygenupdater/ota-agent/internal/models"
)

// ErrNewsNotFound is returned when a news item id is not cached.
var ErrNewsNotFound = errors.New("news item not found")

// NewsStore caches news articles. The read flag is local and survives refreshes.
type NewsStore struct {
	db *sql.DB
}

// NewNewsStore wraps an open database.
func NewNewsStore(db *sql.DB) *NewsStore {
	return &NewsStore{db: db}
}

// Replace stores items as the complete set of news, keeping the read flag of
// articles that were already cached and dropping articles the server no longer lists.
func (s *NewsStore) Replace(ctx context.Context, items []models.NewsItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS fetched_ids (id INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fetched_ids`); err != nil {
		return err
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
INSERT INTO news_items (id, title, subtitle, text, image_url, date_published)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    subtitle = excluded.subtitle,
    text = excluded.text,
    image_url = excluded.image_url,
    date_published = excluded.date_published`,
			item.ID, item.Title, item.Subtitle, item.Text, item.ImageURL, item.DatePublished.UTC().Unix())
		if err != nil {
			return fmt.Errorf("failed to store news item %d: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO fetched_ids (id) VALUES (?)`, item.ID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM news_items WHERE id NOT IN (SELECT id FROM fetched_ids)`); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns cached news, newest first.
func (s *NewsStore) List(ctx context.Context) ([]models.NewsItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, subtitle, text, image_url, date_published, read
FROM news_items
ORDER BY date_published DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.NewsItem
	for rows.Next() {
		var item models.NewsItem
		var published int64
		if err := rows.Scan(&item.ID, &item.Title, &item.Subtitle, &item.Text, &item.ImageURL, &published, &item.Read); err != nil {
			return nil, err
		}
		item.DatePublished = time.Unix(published, 0).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkRead sets the read flag of a single article.
func (s *NewsStore) MarkRead(ctx context.Context, id int64, read bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE news_items SET read = ? WHERE id = ?`, read, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNewsNotFound, id)
	}
	return nil
}

// UnreadCount returns the number of cached articles not yet read.
func (s *NewsStore) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news_items WHERE read = 0`).Scan(&n)
	return n, err
}
