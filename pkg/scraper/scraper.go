// Package scraper retrieves the main text of a news page as markdown.
package scraper

import (
	"context"
	"errors"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/elonfeng/marketnews/internal/config"
)

// ErrNoContent is returned when a page yielded no usable text.
var ErrNoContent = errors.New("no content")

// Scraper fetches page content for an item URL.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, url string) (string, error)
}

// New picks Firecrawl when an API key is configured, else the direct HTML
// scraper when enabled. It returns nil when neither is available.
func New(cfg config.ScraperConfig, logger *log.Logger) Scraper {
	limiter := newLimiter(cfg.RatePerSecond)
	if cfg.Firecrawl.APIKey != "" {
		return NewFirecrawl(cfg.Firecrawl, cfg.ParseTimeout(), limiter)
	}
	if cfg.Direct {
		return NewDirect(cfg.ParseTimeout(), limiter, logger)
	}
	return nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
