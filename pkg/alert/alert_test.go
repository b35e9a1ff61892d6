package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/marketnews/pkg/digest"
)

func strPtr(s string) *string { return &s }

type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
	paths  []string
	header http.Header
}

func (r *recorder) handler(status int, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.paths = append(r.paths, req.URL.RequestURI())
		r.header = req.Header.Clone()
		r.mu.Unlock()
		w.WriteHeader(status)
		if reply != "" {
			_, _ = io.WriteString(w, reply)
		}
	}
}

func sampleAlert() *Alert {
	return (&Alert{
		ItemID:    7,
		Title:     "Fed cuts rates",
		Source:    "Reuters",
		URL:       "https://example.com/fed",
		Sentiment: "Bullish",
		Analyses: []ProviderView{
			{Provider: "openai", Model: "gpt", Sentiment: "Bullish", SentimentScore: 0.6, ImpactScore: 0.8},
			{Provider: "anthropic", Model: "claude", Sentiment: "Bullish", SentimentScore: 0.8, ImpactScore: 0.9, Summary: strPtr("Rates fall.")},
		},
	}).Finalize()
}

func sampleDigest(n int) *Digest {
	d := &Digest{
		Type:         "premarket",
		PeriodStart:  time.Date(2025, 1, 6, 13, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2025, 1, 7, 13, 0, 0, 0, time.UTC),
		DisplayLimit: 10,
	}
	for i := 1; i <= n; i++ {
		d.Entries = append(d.Entries, digest.Entry{ItemID: int64(i), Rank: i, Title: "t", URL: "https://e.com", Sentiment: "Bullish"})
	}
	return d
}

func TestFinalize(t *testing.T) {
	a := sampleAlert()
	assert.InDelta(t, 0.7, a.AvgSentiment, 1e-9)
	assert.InDelta(t, 0.85, a.AvgImpact, 1e-9)
	assert.Equal(t, "Rates fall.", a.Summary)
	assert.Equal(t, "anthropic", a.SummaryBy)
}

func TestPrimarySummaryFallsBack(t *testing.T) {
	s, p := PrimarySummary([]ProviderView{
		{Provider: "anthropic", Summary: strPtr("  ")},
		{Provider: "google", Summary: strPtr("Gemini says")},
	})
	assert.Equal(t, "Gemini says", s)
	assert.Equal(t, "google", p)

	s, p = PrimarySummary(nil)
	assert.Empty(t, s)
	assert.Empty(t, p)
}

func TestDedupTopics(t *testing.T) {
	got := DedupTopics([]string{"Fed", "rates"}, []string{"FED", "Inflation", ""}, []string{"Rates"})
	assert.Equal(t, []string{"Fed", "rates", "Inflation"}, got)
}

func TestDigestOverflow(t *testing.T) {
	d := sampleDigest(12)
	assert.Len(t, d.Shown(), 10)
	assert.Equal(t, "Showing top 10 of 12 articles", d.Overflow())

	d = sampleDigest(3)
	assert.Len(t, d.Shown(), 3)
	assert.Empty(t, d.Overflow())
}

func TestDiscordDigestWaitReturnsMessageID(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"id":"123456"}`))
	defer srv.Close()

	d := NewDiscord("", srv.URL+"/hook", true, time.UTC)
	id, err := d.SendDigest(context.Background(), sampleDigest(2))
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
	require.Len(t, rec.paths, 1)
	assert.Equal(t, "/hook?wait=true", rec.paths[0])

	var payload struct {
		Embeds []map[string]any `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(rec.bodies[0], &payload))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "☀️ Pre-Market Digest", payload.Embeds[0]["title"])
}

func TestDiscordNoContentYieldsEmptyID(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusNoContent, ""))
	defer srv.Close()

	d := NewDiscord(srv.URL, srv.URL, false, time.UTC)
	id, err := d.SendDigest(context.Background(), sampleDigest(0))
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Contains(t, string(rec.bodies[0]), EmptyDigestText)

	require.NoError(t, d.SendAlert(context.Background(), sampleAlert()))
	assert.Contains(t, string(rec.bodies[1]), "Fed cuts rates")
}

func TestDiscordMissingWebhook(t *testing.T) {
	d := NewDiscord("", "", false, nil)
	assert.ErrorIs(t, d.SendAlert(context.Background(), sampleAlert()), ErrNotConfigured)
	_, err := d.SendDigest(context.Background(), sampleDigest(1))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSlackErrorStatus(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusInternalServerError, "boom"))
	defer srv.Close()

	err := NewSlack(srv.URL, time.UTC).SendAlert(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWebhookSignsBody(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, ""))
	defer srv.Close()

	w := NewWebhook(srv.URL, "s3cret")
	require.NoError(t, w.SendAlert(context.Background(), sampleAlert()))

	require.Len(t, rec.bodies, 1)
	assert.Equal(t, "sha256="+Sign("s3cret", rec.bodies[0]), rec.header.Get("X-Signature-256"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.bodies[0], &env))
	assert.Equal(t, "alert", env.Kind)
	require.NotNil(t, env.Alert)
	assert.Equal(t, int64(7), env.Alert.ItemID)
}

type stubNotifier struct {
	name string
	id   string
	err  error
}

func (s stubNotifier) Name() string                            { return s.name }
func (s stubNotifier) SendAlert(context.Context, *Alert) error { return s.err }
func (s stubNotifier) SendDigest(context.Context, *Digest) (string, error) {
	return s.id, s.err
}

func TestManagerBroadcastDigest(t *testing.T) {
	m := NewManager([]Notifier{
		stubNotifier{name: "skip", err: ErrNotConfigured},
		stubNotifier{name: "bad", err: errors.New("down")},
		stubNotifier{name: "good", id: "m-1"},
	})
	id, delivered, err := m.BroadcastDigest(context.Background(), sampleDigest(1))
	assert.True(t, delivered)
	assert.Equal(t, "m-1", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.NotContains(t, err.Error(), "skip")
}

func TestManagerBroadcastAlertAllFail(t *testing.T) {
	m := NewManager([]Notifier{stubNotifier{name: "bad", err: errors.New("down")}})
	delivered, err := m.BroadcastAlert(context.Background(), sampleAlert())
	assert.False(t, delivered)
	assert.Error(t, err)

	delivered, err = NewManager(nil).BroadcastAlert(context.Background(), sampleAlert())
	assert.False(t, delivered)
	assert.NoError(t, err)
}
