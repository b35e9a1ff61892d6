package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Discord sends alerts and digests to two Discord webhooks.
type Discord struct {
	client     *http.Client
	alertsURL  string
	digestsURL string
	wait       bool
	loc        *time.Location
}

// NewDiscord creates a Discord notifier. Either webhook may be empty; wait
// asks Discord to return the created message so its id can be recorded.
func NewDiscord(alertsURL, digestsURL string, wait bool, loc *time.Location) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		alertsURL:  alertsURL,
		digestsURL: digestsURL,
		wait:       wait,
		loc:        loc,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) SendAlert(ctx context.Context, a *Alert) error {
	if d.alertsURL == "" {
		return ErrNotConfigured
	}

	var b strings.Builder
	if a.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", truncate(a.Summary, 1500))
	}
	fmt.Fprintf(&b, "**Source:** %s", a.Source)
	if a.PublishedAt != nil {
		fmt.Fprintf(&b, " | **Published:** %s", formatTime(*a.PublishedAt, d.loc))
	}

	fields := make([]map[string]any, 0, len(a.Analyses)+1)
	for _, v := range a.Analyses {
		value := fmt.Sprintf("%s %s\nScore %+.2f | Impact %.2f", sentimentEmoji(v.Sentiment), v.Sentiment, v.SentimentScore, v.ImpactScore)
		if v.Confidence != nil {
			value += fmt.Sprintf(" | Conf %.2f", *v.Confidence)
		}
		fields = append(fields, map[string]any{
			"name":   fmt.Sprintf("%s (%s)", v.Provider, v.Model),
			"value":  value,
			"inline": true,
		})
	}
	if len(a.Topics) > 0 {
		fields = append(fields, map[string]any{
			"name":  "Topics",
			"value": truncate(strings.Join(a.Topics, ", "), 1000),
		})
	}

	embed := map[string]any{
		"title":       truncate(fmt.Sprintf("%s %s | %s", sentimentEmoji(a.Sentiment), a.Sentiment, a.Title), 256),
		"url":         a.URL,
		"description": b.String(),
		"color":       sentimentColor(a.Sentiment),
		"fields":      fields,
		"footer": map[string]any{
			"text": fmt.Sprintf("Avg sentiment %+.2f | Avg impact %.2f", a.AvgSentiment, a.AvgImpact),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := postJSON(ctx, d.client, d.alertsURL, map[string]any{"embeds": []map[string]any{embed}}, nil); err != nil {
		return fmt.Errorf("discord alert: %w", err)
	}
	return nil
}

func (d *Discord) SendDigest(ctx context.Context, dg *Digest) (string, error) {
	if d.digestsURL == "" {
		return "", ErrNotConfigured
	}

	var b strings.Builder
	shown := dg.Shown()
	if len(shown) == 0 {
		b.WriteString(EmptyDigestText)
	}
	for _, e := range shown {
		fmt.Fprintf(&b, "**%d.** %s [%s](%s)\n", e.Rank, sentimentEmoji(e.Sentiment), truncate(e.Title, 120), e.URL)
		line := fmt.Sprintf("%s | %s %+.2f | Impact %.2f", e.Source, e.Sentiment, e.AvgSentiment, e.AvgImpact)
		if e.Consensus {
			line += " | consensus"
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}

	embed := map[string]any{
		"title":       digestTitle(dg.Type),
		"description": truncate(b.String(), 4000),
		"color":       colorDigest,
		"footer":      map[string]any{"text": formatPeriod(dg, d.loc)},
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if o := dg.Overflow(); o != "" {
		embed["footer"] = map[string]any{"text": o + " | " + formatPeriod(dg, d.loc)}
	}

	target := d.digestsURL
	if d.wait {
		target = withWait(target)
	}
	body, err := postJSON(ctx, d.client, target, map[string]any{"embeds": []map[string]any{embed}}, nil)
	if err != nil {
		return "", fmt.Errorf("discord digest: %w", err)
	}
	return messageID(body), nil
}

func withWait(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// messageID extracts "id" from a Discord message object. A 204 reply has
// no body and yields "".
func messageID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return ""
	}
	return msg.ID
}
