package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends alerts and digests via a Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
	loc        *time.Location
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string, loc *time.Location) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		loc:        loc,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) SendAlert(ctx context.Context, a *Alert) error {
	header := fmt.Sprintf("%s %s | %s", sentimentEmoji(a.Sentiment), a.Sentiment, a.Title)
	body := fmt.Sprintf("<%s|%s>\n*Source:* %s | *Avg impact:* %.2f | *Avg sentiment:* %+.2f",
		a.URL, truncate(a.Title, 200), a.Source, a.AvgImpact, a.AvgSentiment)
	if a.Summary != "" {
		body = truncate(a.Summary, 1500) + "\n\n" + body
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": truncate(header, 150)},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": body},
		},
	}

	var elements []map[string]any
	for _, v := range a.Analyses {
		elements = append(elements, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*: %s %+.2f / %.2f", v.Provider, v.Sentiment, v.SentimentScore, v.ImpactScore),
		})
	}
	if len(elements) > 0 {
		blocks = append(blocks, map[string]any{"type": "context", "elements": elements})
	}

	if _, err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return fmt.Errorf("slack alert: %w", err)
	}
	return nil
}

func (s *Slack) SendDigest(ctx context.Context, d *Digest) (string, error) {
	var lines []string
	for _, e := range d.Shown() {
		lines = append(lines, fmt.Sprintf("%d. %s <%s|%s> [%s] impact %.2f",
			e.Rank, sentimentEmoji(e.Sentiment), e.URL, truncate(e.Title, 120), e.Source, e.AvgImpact))
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		text = EmptyDigestText
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": digestTitle(d.Type)},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": truncate(text, 2900)},
		},
	}
	footer := formatPeriod(d, s.loc)
	if o := d.Overflow(); o != "" {
		footer = o + " | " + footer
	}
	blocks = append(blocks, map[string]any{
		"type":     "context",
		"elements": []map[string]any{{"type": "mrkdwn", "text": footer}},
	})

	if _, err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return "", fmt.Errorf("slack digest: %w", err)
	}
	return "", nil
}
