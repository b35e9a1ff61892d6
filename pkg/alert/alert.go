package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/elonfeng/marketnews/pkg/digest"
)

// ErrNotConfigured is returned by a notifier that has no destination for
// the requested message kind. The manager skips it.
var ErrNotConfigured = errors.New("notifier not configured for this message")

// ProviderView is one provider's analysis as shown in an alert.
type ProviderView struct {
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	ImpactScore    float64  `json:"impact_score"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Summary        *string  `json:"summary,omitempty"`
}

// Alert is a real-time notification for one high-impact item.
type Alert struct {
	ItemID       int64          `json:"item_id"`
	Title        string         `json:"title"`
	Source       string         `json:"source"`
	URL          string         `json:"url"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	Sentiment    string         `json:"sentiment"`
	AvgSentiment float64        `json:"avg_sentiment_score"`
	AvgImpact    float64        `json:"avg_impact_score"`
	Analyses     []ProviderView `json:"analyses"`
	Topics       []string       `json:"key_topics"`
	Summary      string         `json:"summary,omitempty"`
	SummaryBy    string         `json:"summary_by,omitempty"`
}

// Digest is a ranked periodic summary.
type Digest struct {
	Type         string         `json:"digest_type"`
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	Entries      []digest.Entry `json:"entries"`
	DisplayLimit int            `json:"-"`
}

// Shown returns the entries to render, capped at the display limit.
func (d *Digest) Shown() []digest.Entry {
	if d.DisplayLimit > 0 && len(d.Entries) > d.DisplayLimit {
		return d.Entries[:d.DisplayLimit]
	}
	return d.Entries
}

// Overflow returns the "Showing top N of M" footer, or "" when everything fits.
func (d *Digest) Overflow() string {
	if shown := len(d.Shown()); shown < len(d.Entries) {
		return fmt.Sprintf("Showing top %d of %d articles", shown, len(d.Entries))
	}
	return ""
}

// EmptyDigestText is the body of a digest with no ranked items.
const EmptyDigestText = "No significant market news during this period."

// Notifier delivers alerts and digests to a specific destination.
type Notifier interface {
	Name() string
	SendAlert(ctx context.Context, a *Alert) error
	// SendDigest returns the destination's message id when it reports one.
	SendDigest(ctx context.Context, d *Digest) (string, error)
}

// Manager broadcasts to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// FromConfig builds the notifiers enabled in cfg.
func FromConfig(cfg config.AlertsConfig, loc *time.Location) *Manager {
	var ns []Notifier
	if cfg.Discord.AlertsWebhook != "" || cfg.Discord.DigestsWebhook != "" {
		ns = append(ns, NewDiscord(cfg.Discord.AlertsWebhook, cfg.Discord.DigestsWebhook, cfg.Discord.Wait, loc))
	}
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		ns = append(ns, NewSlack(cfg.Slack.WebhookURL, loc))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		ns = append(ns, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
	}
	return NewManager(ns)
}

// Names lists the configured notifiers.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// BroadcastAlert sends a to every notifier. It reports whether at least one
// delivery succeeded; err joins the individual failures.
func (m *Manager) BroadcastAlert(ctx context.Context, a *Alert) (bool, error) {
	var errs []error
	delivered := false
	for _, n := range m.notifiers {
		err := n.SendAlert(ctx, a)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, ErrNotConfigured):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return delivered, errors.Join(errs...)
}

// BroadcastDigest sends d to every notifier and returns the first message
// id reported. delivered is false when no notifier accepted the digest.
func (m *Manager) BroadcastDigest(ctx context.Context, d *Digest) (messageID string, delivered bool, err error) {
	var errs []error
	for _, n := range m.notifiers {
		id, sendErr := n.SendDigest(ctx, d)
		switch {
		case sendErr == nil:
			delivered = true
			if messageID == "" {
				messageID = id
			}
		case errors.Is(sendErr, ErrNotConfigured):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), sendErr))
		}
	}
	return messageID, delivered, errors.Join(errs...)
}

// DedupTopics merges topic lists case-insensitively, keeping the first
// spelling and order of appearance.
func DedupTopics(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, t := range list {
			t = strings.TrimSpace(t)
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

// PrimarySummary picks the summary to feature: anthropic first, then the
// first provider with a non-empty summary.
func PrimarySummary(views []ProviderView) (summary, provider string) {
	pick := func(preferred bool) bool {
		for _, v := range views {
			if (strings.EqualFold(v.Provider, "anthropic")) != preferred || v.Summary == nil {
				continue
			}
			if s := strings.TrimSpace(*v.Summary); s != "" {
				summary, provider = s, v.Provider
				return true
			}
		}
		return false
	}
	if !pick(true) {
		pick(false)
	}
	return summary, provider
}

// Finalize fills the averages and featured summary from a.Analyses.
func (a *Alert) Finalize() *Alert {
	if n := len(a.Analyses); n > 0 {
		var sumS, sumI float64
		for _, v := range a.Analyses {
			sumS += v.SentimentScore
			sumI += v.ImpactScore
		}
		a.AvgSentiment = sumS / float64(n)
		a.AvgImpact = sumI / float64(n)
	}
	a.Summary, a.SummaryBy = PrimarySummary(a.Analyses)
	return a
}
