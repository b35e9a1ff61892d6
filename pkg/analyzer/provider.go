// Package analyzer fans an item out to LLM providers and validates what
// they return.
package analyzer

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/elonfeng/marketnews/internal/config"
)

// Request is what a provider sees of an item. VideoURL is set only when the
// item is a video and the provider can watch it; Content is empty then.
type Request struct {
	Title       string
	Source      string
	PublishedAt *time.Time
	Content     string
	VideoURL    string
}

// Provider is one configured LLM analyzer.
type Provider interface {
	Name() string
	Model() string
	SupportsVideo() bool
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// IsVideoURL reports whether u points at YouTube.
func IsVideoURL(u string) bool {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

// NewProviders builds every provider that has an API key in cfg.
func NewProviders(ctx context.Context, cfg config.AnalysisConfig) ([]Provider, error) {
	var providers []Provider
	if cfg.Anthropic.Enabled() {
		providers = append(providers, NewAnthropic(cfg.Anthropic))
	}
	if cfg.OpenAI.Enabled() {
		providers = append(providers, NewOpenAI(cfg.OpenAI))
	}
	if cfg.Google.Enabled() {
		g, err := NewGemini(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		providers = append(providers, g)
	}
	return providers, nil
}
