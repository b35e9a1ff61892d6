package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

// mainSelectors are tried in order; the first non-trivial match wins.
var mainSelectors = []string{"article", "main", "[role=main]", "#content", ".article-body", "body"}

const stripSelectors = "script, style, noscript, iframe, nav, header, footer, aside, form, svg"

// minContentLen is the shortest text accepted from a selector.
const minContentLen = 200

// Direct fetches the page itself and converts its main content to markdown.
type Direct struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewDirect creates a direct HTML scraper.
func NewDirect(timeout time.Duration, limiter *rate.Limiter, logger *log.Logger) *Direct {
	return &Direct{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Scrape(ctx context.Context, url string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketnews/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page status %d", resp.StatusCode)
	}

	content, err := Extract(url, io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", err
	}
	d.logger.Debug().Str("url", url).Int("length", len(content)).Msg("scraped page")
	return content, nil
}

// Extract converts the main content of an HTML document to markdown.
func Extract(pageURL string, r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(stripSelectors).Remove()

	var sel *goquery.Selection
	for _, s := range mainSelectors {
		found := doc.Find(s).First()
		if found.Length() > 0 && len(strings.TrimSpace(found.Text())) >= minContentLen {
			sel = found
			break
		}
	}
	if sel == nil {
		sel = doc.Find("body")
	}

	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", fmt.Errorf("%s: %w", pageURL, ErrNoContent)
	}
	return markdown, nil
}
