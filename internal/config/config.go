package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultTimezone = "America/New_York"

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Timezone string         `yaml:"timezone"`
	Log      LogConfig      `yaml:"log"`
	Schedule ScheduleConfig `yaml:"schedule"`
	News     NewsConfig     `yaml:"news"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Digest   DigestConfig   `yaml:"digest"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`

	location *time.Location
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// ScheduleConfig holds the cron specs for the timer triggers.
type ScheduleConfig struct {
	PollCron   string `yaml:"poll_cron"`
	DigestCron string `yaml:"digest_cron"`
}

// NewsConfig groups the news sources.
type NewsConfig struct {
	StockNews     StockNewsConfig `yaml:"stocknews"`
	RSS           RSSConfig       `yaml:"rss"`
	YouTube       YouTubeConfig   `yaml:"youtube"`
	PaywallTopics []string        `yaml:"paywall_topics"`
}

// StockNewsConfig for the StockNewsAPI category endpoint.
type StockNewsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Section      string `yaml:"section"`
	Items        int    `yaml:"items"`
	TopicExclude string `yaml:"topic_exclude"`
	Timeout      string `yaml:"timeout"`
}

// RSSConfig for plain RSS/Atom news feeds.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// YouTubeConfig for channel upload feeds.
type YouTubeConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Channels []FeedItem `yaml:"channels"` // URL holds the channel id
}

// FeedItem is a single named feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ScraperConfig configures full-text retrieval.
type ScraperConfig struct {
	Firecrawl     FirecrawlConfig `yaml:"firecrawl"`
	Direct        bool            `yaml:"direct"` // fall back to fetching HTML directly
	Timeout       string          `yaml:"timeout"`
	RatePerSecond float64         `yaml:"rate_per_second"`
}

// ParseTimeout returns the request timeout, defaulting to 10s.
func (s StockNewsConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 10*time.Second)
}

// ParseTimeout returns the per-page scrape timeout, defaulting to 20s.
func (s ScraperConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 20*time.Second)
}

// FirecrawlConfig for the Firecrawl scrape API.
type FirecrawlConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnalysisConfig configures the analyzer fan-out and alert decision.
type AnalysisConfig struct {
	ImpactThreshold float64        `yaml:"impact_threshold"`
	AllowPartial    bool           `yaml:"allow_partial"`
	Retry           RetryConfig    `yaml:"retry"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	OpenAI          ProviderConfig `yaml:"openai"`
	Google          ProviderConfig `yaml:"google"`
}

// RetryConfig is a bounded linear retry policy.
type RetryConfig struct {
	Attempts  int    `yaml:"attempts"`
	BaseDelay string `yaml:"base_delay"`
}

// ParseBaseDelay returns the base delay as time.Duration.
func (r RetryConfig) ParseBaseDelay() time.Duration {
	return parseDuration(r.BaseDelay, 500*time.Millisecond)
}

// ProviderConfig configures a single analyzer provider.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   string `yaml:"timeout"`
	BaseURL   string `yaml:"base_url"` // optional API endpoint override
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// ParseTimeout returns the per-call timeout.
func (p ProviderConfig) ParseTimeout() time.Duration {
	return parseDuration(p.Timeout, 90*time.Second)
}

// AlertsConfig configures notification sinks.
type AlertsConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// DiscordConfig holds separate webhooks for alerts and digests.
type DiscordConfig struct {
	AlertsWebhook  string `yaml:"alerts_webhook"`
	DigestsWebhook string `yaml:"digests_webhook"`
	Wait           bool   `yaml:"wait"` // ask Discord to return the created message
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// DigestConfig configures digest dispatch.
type DigestConfig struct {
	Tolerance    string `yaml:"tolerance"`
	DisplayLimit int    `yaml:"display_limit"`
}

// ParseTolerance returns the dispatch tolerance.
func (d DigestConfig) ParseTolerance() time.Duration {
	return parseDuration(d.Tolerance, 20*time.Minute)
}

// QueueConfig selects the processing queue transport.
type QueueConfig struct {
	Driver        string `yaml:"driver"` // "memory" or "redis"
	RedisURL      string `yaml:"redis_url"`
	Key           string `yaml:"key"`
	DeadLetterKey string `yaml:"dead_letter_key"`
	PollTimeout   string `yaml:"poll_timeout"`
	Workers       int    `yaml:"workers"`
}

// ParsePollTimeout returns the blocking dequeue timeout.
func (q QueueConfig) ParsePollTimeout() time.Duration {
	return parseDuration(q.PollTimeout, 5*time.Second)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Location returns the bound local timezone used for digest windows and polling.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./marketnews.db"},
		Timezone: defaultTimezone,
		Log:      LogConfig{Level: "info", Format: "console"},
		Schedule: ScheduleConfig{
			PollCron:   "*/5 * * * *",
			DigestCron: "*/5 * * * *",
		},
		News: NewsConfig{
			StockNews: StockNewsConfig{
				Enabled:      true,
				BaseURL:      "https://stocknewsapi.com/api/v1/category",
				Section:      "general",
				Items:        50,
				TopicExclude: "paywall,paylimitwall,podcast",
				Timeout:      "10s",
			},
			PaywallTopics: []string{"paywall", "paylimitwall"},
		},
		Scraper: ScraperConfig{
			Firecrawl:     FirecrawlConfig{BaseURL: "https://api.firecrawl.dev/v1/scrape"},
			Direct:        true,
			Timeout:       "20s",
			RatePerSecond: 2,
		},
		Analysis: AnalysisConfig{
			ImpactThreshold: 0.7,
			Retry:           RetryConfig{Attempts: 3, BaseDelay: "500ms"},
			Anthropic:       ProviderConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 1024, Timeout: "90s"},
			OpenAI:          ProviderConfig{Model: "gpt-4o", MaxTokens: 400, Timeout: "90s"},
			Google:          ProviderConfig{Model: "gemini-2.5-pro", Timeout: "180s"},
		},
		Digest: DigestConfig{Tolerance: "20m", DisplayLimit: 10},
		Queue: QueueConfig{
			Driver:        "memory",
			Key:           "marketnews:queue:process",
			DeadLetterKey: "marketnews:queue:failed",
			PollTimeout:   "5s",
			Workers:       2,
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies .env and env var overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.bindTimezone(); err != nil {
		return nil, err
	}
	if cfg.Analysis.ImpactThreshold < 0 || cfg.Analysis.ImpactThreshold > 1 {
		return nil, fmt.Errorf("impact_threshold %.2f outside [0,1]", cfg.Analysis.ImpactThreshold)
	}
	return cfg, nil
}

func (c *Config) bindTimezone() error {
	tz := c.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("load timezone %s: %w", tz, err)
	}
	c.location = loc
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETNEWS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MARKETNEWS_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STOCKNEWS_API_KEY"); v != "" {
		cfg.News.StockNews.APIKey = v
	}
	if v := os.Getenv("FIRECRAWL_API_KEY"); v != "" {
		cfg.Scraper.Firecrawl.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Analysis.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Analysis.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_AI_API_KEY"); v != "" {
		cfg.Analysis.Google.APIKey = v
	}
	if v := os.Getenv("IMPACT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.ImpactThreshold = f
		}
	}
	if v := os.Getenv("DISCORD_WEBHOOK_ALERTS"); v != "" {
		cfg.Alerts.Discord.AlertsWebhook = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_DIGESTS"); v != "" {
		cfg.Alerts.Discord.DigestsWebhook = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Queue.RedisURL = v
		cfg.Queue.Driver = "redis"
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
