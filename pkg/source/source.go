package source

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/config"
)

// Kind distinguishes articles from videos.
type Kind string

const (
	KindArticle Kind = "article"
	KindVideo   Kind = "video"
)

// Article is a news item as returned by a source, before it is stored.
type Article struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Topics      []string   `json:"topics"`
	Sentiment   string     `json:"sentiment,omitempty"` // label supplied by the feed, if any
	Kind        Kind       `json:"kind"`
}

// Source is the interface every news collector implements.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Article, error)
}

// Sources builds the collectors enabled in cfg.
func Sources(cfg config.NewsConfig, logger *log.Logger) []Source {
	var out []Source
	if cfg.StockNews.Enabled && cfg.StockNews.APIKey != "" {
		out = append(out, NewStockNews(cfg.StockNews, logger))
	}
	if cfg.RSS.Enabled && len(cfg.RSS.Feeds) > 0 {
		out = append(out, NewRSS(cfg.RSS.Feeds, logger))
	}
	if cfg.YouTube.Enabled && len(cfg.YouTube.Channels) > 0 {
		out = append(out, NewYouTube(cfg.YouTube.Channels, logger))
	}
	return out
}
