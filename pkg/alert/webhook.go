package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook sends alerts and digests as JSON to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

// Envelope is the body posted by Webhook.
type Envelope struct {
	Kind   string  `json:"kind"`
	Alert  *Alert  `json:"alert,omitempty"`
	Digest *Digest `json:"digest,omitempty"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) SendAlert(ctx context.Context, a *Alert) error {
	if _, err := w.send(ctx, Envelope{Kind: "alert", Alert: a}); err != nil {
		return fmt.Errorf("webhook alert: %w", err)
	}
	return nil
}

func (w *Webhook) SendDigest(ctx context.Context, d *Digest) (string, error) {
	body, err := w.send(ctx, Envelope{Kind: "digest", Digest: d})
	if err != nil {
		return "", fmt.Errorf("webhook digest: %w", err)
	}
	return messageID(body), nil
}

func (w *Webhook) send(ctx context.Context, env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	header := http.Header{}
	header.Set("User-Agent", "marketnews/1.0")
	if w.secret != "" {
		header.Set("X-Signature-256", "sha256="+Sign(w.secret, body))
	}
	return postBody(ctx, w.client, w.url, body, header)
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
