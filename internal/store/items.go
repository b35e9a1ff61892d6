package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const itemColumns = `id, url, title, source, topics, published_at, scrape_status, scraped_at,
	content, alerted_at, included_in_digest_at, created_at`

// InsertItem stores a new item keyed by URL and sets item.ID. An existing
// URL returns (false, nil) and leaves item.ID untouched.
func (s *SQLStore) InsertItem(ctx context.Context, item *Item) (bool, error) {
	topics := item.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, _ := json.Marshal(topics)
	if item.ScrapeStatus == "" {
		item.ScrapeStatus = ScrapePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.rebind(`
		INSERT INTO items (url, title, source, topics, published_at, scrape_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
		RETURNING id
	`), item.URL, item.Title, item.Source, string(topicsJSON), utc(item.PublishedAt),
		item.ScrapeStatus, item.CreatedAt.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert item %s: %w", item.URL, err)
	}
	item.ID = id
	item.TopicsJSON = string(topicsJSON)
	return true, nil
}

// ExistingURLs returns the subset of urls already stored.
func (s *SQLStore) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(urls) == 0 {
		return found, nil
	}
	query, args, err := sqlx.In("SELECT url FROM items WHERE url IN (?)", urls)
	if err != nil {
		return nil, fmt.Errorf("build url lookup: %w", err)
	}
	var existing []string
	if err := s.db.SelectContext(ctx, &existing, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup urls: %w", err)
	}
	for _, u := range existing {
		found[u] = true
	}
	return found, nil
}

func (s *SQLStore) GetItem(ctx context.Context, id int64) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, s.rebind("SELECT "+itemColumns+" FROM items WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	item.decode()
	return &item, nil
}

func (s *SQLStore) ListItems(ctx context.Context, f ItemFilter) ([]Item, error) {
	q := s.builder.Select(itemColumns).From("items")
	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.Since.UTC()})
	}
	if !f.Until.IsZero() {
		q = q.Where(sq.LtOrEq{"created_at": f.Until.UTC()})
	}
	if f.Alerted != nil {
		if *f.Alerted {
			q = q.Where(sq.NotEq{"alerted_at": nil})
		} else {
			q = q.Where(sq.Eq{"alerted_at": nil})
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	for i := range items {
		items[i].decode()
	}
	return items, nil
}

// MarkScraped records the scrape outcome. Content is only written when non-empty.
func (s *SQLStore) MarkScraped(ctx context.Context, id int64, status, content string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE items SET scrape_status = ?, scraped_at = ?,
			content = CASE WHEN ? = '' THEN content ELSE ? END
		WHERE id = ?
	`), status, s.now(), content, content, id)
	if err != nil {
		return fmt.Errorf("mark scraped %d: %w", id, err)
	}
	return nil
}

// ClaimAlert takes the right to send the alert for item id. It reports false
// when the item was already alerted or another worker holds a claim younger
// than ttl.
func (s *SQLStore) ClaimAlert(ctx context.Context, id int64, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE items SET alert_claimed_at = ?
		WHERE id = ? AND alerted_at IS NULL
			AND (alert_claimed_at IS NULL OR alert_claimed_at < ?)
	`), now, id, now.Add(-ttl))
	if err != nil {
		return false, fmt.Errorf("claim alert %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseAlert drops an unfinished alert claim so a later run can retry.
func (s *SQLStore) ReleaseAlert(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE items SET alert_claimed_at = NULL WHERE id = ? AND alerted_at IS NULL",
	), id)
	if err != nil {
		return fmt.Errorf("release alert %d: %w", id, err)
	}
	return nil
}

// MarkAlerted stamps alerted_at once and clears any claim. It reports false
// when the item was already marked.
func (s *SQLStore) MarkAlerted(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE items SET alerted_at = ?, alert_claimed_at = NULL WHERE id = ? AND alerted_at IS NULL",
	), s.now(), id)
	if err != nil {
		return false, fmt.Errorf("mark alerted %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (it *Item) decode() {
	if it.TopicsJSON != "" {
		_ = json.Unmarshal([]byte(it.TopicsJSON), &it.Topics)
	}
	if it.Topics == nil {
		it.Topics = []string{}
	}
}
