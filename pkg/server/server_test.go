package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/marketnews/internal/logging"
	"github.com/elonfeng/marketnews/internal/queue"
	"github.com/elonfeng/marketnews/internal/store"
)

type fixture struct {
	store *store.SQLStore
	queue *queue.Memory
	srv   *Server
	item  *store.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	it := &store.Item{URL: "https://n.test/fed", Title: "Fed", Source: "Reuters"}
	_, err = st.InsertItem(ctx, it)
	require.NoError(t, err)
	for _, p := range []string{"anthropic", "openai"} {
		_, err := st.InsertAnalysis(ctx, &store.Analysis{
			ItemID: it.ID, Provider: p, Model: "m", Sentiment: "Bullish", SentimentScore: 0.5, ImpactScore: 0.9,
		})
		require.NoError(t, err)
	}

	q := queue.NewMemory(10 * time.Millisecond)
	return &fixture{store: st, queue: q, srv: New(st, q, 0.7, 0, logging.Discard()), item: it}
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["queue_depth"])
}

func TestListItems(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/items?source=Reuters&alerted=false")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	_, body = f.do(t, http.MethodGet, "/api/v1/items?source=CNBC")
	assert.EqualValues(t, 0, body["count"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/items?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItemWithDecision(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/v1/items/"+strconv.FormatInt(f.item.ID, 10))
	require.Equal(t, http.StatusOK, rec.Code)

	analyses, ok := body["analyses"].([]any)
	require.True(t, ok)
	assert.Len(t, analyses, 2)

	decision, ok := body["decision"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, decision["eligible"])
	assert.Equal(t, "bullish", decision["leader"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/items/9999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/items/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessEnqueues(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/v1/items/"+strconv.FormatInt(f.item.ID, 10)+"/process")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	body, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	msg, err := queue.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, f.item.ID, msg.ItemID)
	assert.Equal(t, "https://n.test/fed", msg.URL)
}

func TestDigestsAndFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ok, err := f.store.RecordDigest(ctx, &store.Digest{
		DigestType: "lunch", ScheduledFor: now, SentAt: now, PeriodStart: now.Add(-6 * time.Hour), PeriodEnd: now, ItemCount: 1,
	}, []store.DigestItem{{ItemID: f.item.ID, Rank: 1}})
	require.NoError(t, err)
	require.True(t, ok)
	id := f.item.ID
	require.NoError(t, f.store.RecordFailure(ctx, &id, "scrape: blocked"))

	_, body := f.do(t, http.MethodGet, "/api/v1/digests?type=lunch")
	require.EqualValues(t, 1, body["count"])
	digestID := int64(body["data"].([]any)[0].(map[string]any)["id"].(float64))

	_, body = f.do(t, http.MethodGet, "/api/v1/digests/"+strconv.FormatInt(digestID, 10)+"/items")
	assert.EqualValues(t, 1, body["count"])

	_, body = f.do(t, http.MethodGet, "/api/v1/failures")
	assert.EqualValues(t, 1, body["count"])

	rec, _ := f.do(t, http.MethodGet, "/api/v1/failures?unresolved=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
