package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const analysisColumns = `id, item_id, provider, model, summary, sentiment, sentiment_score, impact_score,
	confidence, key_topics, raw_response, analyzed_at`

// AnalyzedProviders returns the providers that already have a stored
// analysis for itemID.
func (s *SQLStore) AnalyzedProviders(ctx context.Context, itemID int64) (map[string]bool, error) {
	var providers []string
	if err := s.db.SelectContext(ctx, &providers, s.rebind(
		"SELECT provider FROM analyses WHERE item_id = ?",
	), itemID); err != nil {
		return nil, fmt.Errorf("analyzed providers %d: %w", itemID, err)
	}
	out := make(map[string]bool, len(providers))
	for _, p := range providers {
		out[p] = true
	}
	return out, nil
}

// InsertAnalysis stores a provider result. A second row for the same
// (item, provider) is dropped and reported as (false, nil).
func (s *SQLStore) InsertAnalysis(ctx context.Context, a *Analysis) (bool, error) {
	topics := a.KeyTopics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, _ := json.Marshal(topics)
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = s.now()
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.rebind(`
		INSERT INTO analyses (item_id, provider, model, summary, sentiment, sentiment_score,
			impact_score, confidence, key_topics, raw_response, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, provider) DO NOTHING
		RETURNING id
	`), a.ItemID, a.Provider, a.Model, a.Summary, a.Sentiment, a.SentimentScore,
		a.ImpactScore, a.Confidence, string(topicsJSON), a.RawResponse, a.AnalyzedAt.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert analysis %d/%s: %w", a.ItemID, a.Provider, err)
	}
	a.ID = id
	a.KeyTopicsJSON = string(topicsJSON)
	return true, nil
}

func (s *SQLStore) ListAnalyses(ctx context.Context, itemID int64) ([]Analysis, error) {
	var out []Analysis
	if err := s.db.SelectContext(ctx, &out, s.rebind(
		"SELECT "+analysisColumns+" FROM analyses WHERE item_id = ? ORDER BY provider",
	), itemID); err != nil {
		return nil, fmt.Errorf("list analyses %d: %w", itemID, err)
	}
	for i := range out {
		out[i].decode()
	}
	return out, nil
}

// ItemsAnalyzedBetween returns items created in [start, end] that have at
// least one analysis, each with its analyses.
func (s *SQLStore) ItemsAnalyzedBetween(ctx context.Context, start, end time.Time) ([]ItemAnalyses, error) {
	var items []Item
	if err := s.db.SelectContext(ctx, &items, s.rebind(`
		SELECT `+itemColumns+` FROM items
		WHERE created_at >= ? AND created_at <= ?
			AND EXISTS (SELECT 1 FROM analyses a WHERE a.item_id = items.id)
		ORDER BY id
	`), start.UTC(), end.UTC()); err != nil {
		return nil, fmt.Errorf("items analyzed between: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(items))
	for i := range items {
		items[i].decode()
		ids[i] = items[i].ID
	}
	query, args, err := sqlx.In("SELECT "+analysisColumns+" FROM analyses WHERE item_id IN (?) ORDER BY item_id, provider", ids)
	if err != nil {
		return nil, fmt.Errorf("build analyses lookup: %w", err)
	}
	var analyses []Analysis
	if err := s.db.SelectContext(ctx, &analyses, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}

	byItem := make(map[int64][]Analysis, len(items))
	for _, a := range analyses {
		a.decode()
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
	}
	out := make([]ItemAnalyses, len(items))
	for i, it := range items {
		out[i] = ItemAnalyses{Item: it, Analyses: byItem[it.ID]}
	}
	return out, nil
}

func (a *Analysis) decode() {
	if a.KeyTopicsJSON != "" {
		_ = json.Unmarshal([]byte(a.KeyTopicsJSON), &a.KeyTopics)
	}
	if a.KeyTopics == nil {
		a.KeyTopics = []string{}
	}
}
