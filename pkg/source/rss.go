package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/config"
)

// RSS collects news from RSS/Atom feeds.
type RSS struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []config.FeedItem
	maxAge time.Duration
	logger *log.Logger
}

// NewRSS creates a new RSS collector. Entries older than 24h are skipped.
func NewRSS(feeds []config.FeedItem, logger *log.Logger) *RSS {
	return &RSS{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
		maxAge: 24 * time.Hour,
		logger: logger,
	}
}

func (r *RSS) Name() string { return "rss" }

// Fetch collects every feed. A failing feed is logged and skipped.
func (r *RSS) Fetch(ctx context.Context) ([]Article, error) {
	var all []Article
	for _, feed := range r.feeds {
		items, err := r.fetchFeed(ctx, feed.Name, feed.URL, KindArticle)
		if err != nil {
			r.logger.Warn().Str("feed", feed.Name).Err(err).Msg("rss feed")
			continue
		}
		all = append(all, items...)
	}
	return all, nil
}

func (r *RSS) fetchFeed(ctx context.Context, name, feedURL string, kind Kind) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", name, err)
	}
	req.Header.Set("User-Agent", "marketnews/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", name, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", name, err)
	}

	cutoff := time.Now().Add(-r.maxAge)
	var items []Article
	for _, entry := range parsed.Items {
		var published *time.Time
		switch {
		case entry.PublishedParsed != nil:
			t := entry.PublishedParsed.UTC()
			published = &t
		case entry.UpdatedParsed != nil:
			t := entry.UpdatedParsed.UTC()
			published = &t
		}
		if published != nil && published.Before(cutoff) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		if link == "" {
			continue
		}

		source := name
		if parsed.Title != "" && name == "" {
			source = parsed.Title
		}

		items = append(items, Article{
			URL:         link,
			Title:       entry.Title,
			Source:      source,
			PublishedAt: published,
			Topics:      entry.Categories,
			Kind:        kind,
		})
	}
	return items, nil
}
