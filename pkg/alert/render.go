package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	colorBullish = 0x2ECC71
	colorBearish = 0xE74C3C
	colorNeutral = 0x95A5A6
	colorDigest  = 0x3498DB
)

func sentimentColor(s string) int {
	switch strings.ToLower(s) {
	case "bullish":
		return colorBullish
	case "bearish":
		return colorBearish
	default:
		return colorNeutral
	}
}

func sentimentEmoji(s string) string {
	switch strings.ToLower(s) {
	case "bullish":
		return "🟢"
	case "bearish":
		return "🔴"
	default:
		return "⚪"
	}
}

var digestTitles = map[string]string{
	"premarket":  "☀️ Pre-Market Digest",
	"lunch":      "🍽️ Midday Digest",
	"postmarket": "🌙 Post-Market Digest",
	"weekly":     "📅 Weekly Digest",
}

func digestTitle(kind string) string {
	if t, ok := digestTitles[kind]; ok {
		return t
	}
	return "📰 Market Digest"
}

// formatTime renders t in loc as "Jan 02, 2006 03:04 PM MST".
func formatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Jan 02, 2006 03:04 PM MST")
}

func formatPeriod(d *Digest, loc *time.Location) string {
	return fmt.Sprintf("%s → %s", formatTime(d.PeriodStart, loc), formatTime(d.PeriodEnd, loc))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// postJSON posts payload and returns the response body for 2xx statuses.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, header http.Header) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return postBody(ctx, client, url, body, header)
}

func postBody(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}
	return respBody, nil
}
