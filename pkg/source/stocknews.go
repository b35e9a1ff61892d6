package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/config"
)

// StockNews collects articles from the StockNewsAPI category endpoint.
type StockNews struct {
	client *http.Client
	cfg    config.StockNewsConfig
	logger *log.Logger
}

// NewStockNews creates a new StockNewsAPI collector.
func NewStockNews(cfg config.StockNewsConfig, logger *log.Logger) *StockNews {
	return &StockNews{
		client: &http.Client{Timeout: cfg.ParseTimeout()},
		cfg:    cfg,
		logger: logger,
	}
}

func (s *StockNews) Name() string { return "stocknews" }

type stockNewsResponse struct {
	Data []struct {
		NewsURL    string   `json:"news_url"`
		Title      string   `json:"title"`
		Text       string   `json:"text"`
		SourceName string   `json:"source_name"`
		Date       string   `json:"date"`
		Topics     []string `json:"topics"`
		Sentiment  string   `json:"sentiment"`
		Type       string   `json:"type"`
	} `json:"data"`
	Message string `json:"message"`
}

func (s *StockNews) Fetch(ctx context.Context) ([]Article, error) {
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("stocknews: API key required (set STOCKNEWS_API_KEY)")
	}

	params := url.Values{}
	params.Set("token", s.cfg.APIKey)
	params.Set("section", s.cfg.Section)
	params.Set("items", strconv.Itoa(s.cfg.Items))
	params.Set("page", "1")
	if s.cfg.TopicExclude != "" {
		params.Set("topicexclude", s.cfg.TopicExclude)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create stocknews request: %w", err)
	}
	req.Header.Set("User-Agent", "marketnews/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stocknews: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stocknews status %d", resp.StatusCode)
	}

	var result stockNewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode stocknews: %w", err)
	}

	articles := make([]Article, 0, len(result.Data))
	for _, d := range result.Data {
		if d.NewsURL == "" {
			continue
		}
		published, err := ParseDate(d.Date)
		if err != nil {
			s.logger.Warn().Str("url", d.NewsURL).Err(err).Msg("stocknews date")
		}
		kind := KindArticle
		if d.Type == "Video" {
			kind = KindVideo
		}
		articles = append(articles, Article{
			URL:         d.NewsURL,
			Title:       d.Title,
			Source:      d.SourceName,
			PublishedAt: published,
			Topics:      d.Topics,
			Sentiment:   d.Sentiment,
			Kind:        kind,
		})
	}
	return articles, nil
}
