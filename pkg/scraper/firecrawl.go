package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/marketnews/internal/config"
)

// Firecrawl scrapes through the Firecrawl v1 scrape API.
type Firecrawl struct {
	client  *http.Client
	apiKey  string
	baseURL string
	limiter *rate.Limiter
}

// NewFirecrawl creates a Firecrawl scraper.
func NewFirecrawl(cfg config.FirecrawlConfig, timeout time.Duration, limiter *rate.Limiter) *Firecrawl {
	return &Firecrawl{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		limiter: limiter,
	}
}

func (f *Firecrawl) Name() string { return "firecrawl" }

type firecrawlRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	WaitFor         int      `json:"waitFor"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Content  string `json:"content"`
	} `json:"data"`
}

func (f *Firecrawl) Scrape(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(firecrawlRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		WaitFor:         1000,
		OnlyMainContent: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal firecrawl request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create firecrawl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("firecrawl scrape: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("firecrawl status %d", resp.StatusCode)
	}

	var out firecrawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode firecrawl response: %w", err)
	}

	content := out.Data.Markdown
	if strings.TrimSpace(content) == "" {
		content = out.Data.Content
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("firecrawl %s: %w", url, ErrNoContent)
	}
	return content, nil
}
