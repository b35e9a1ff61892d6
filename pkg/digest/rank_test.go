package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func an(label string, sentiment, impact float64) Analysis {
	return Analysis{Sentiment: label, SentimentScore: fp(sentiment), ImpactScore: fp(impact)}
}

func TestRankConsensusBeatsImpact(t *testing.T) {
	published := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	agreed := Candidate{ItemID: 1, PublishedAt: &published, Analyses: []Analysis{
		an("Bearish", -0.6, 0.8),
		an("Bearish", -0.65, 0.9),
		an("Bearish", -0.7, 0.85),
	}}
	mixed := Candidate{ItemID: 2, PublishedAt: &published, Analyses: []Analysis{
		an("Bullish", 0.9, 0.9),
		an("Neutral", 0.1, 1.0),
	}}

	got := Rank([]Candidate{mixed, agreed})
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].ItemID)
	assert.Equal(t, 1, got[0].Rank)
	assert.True(t, got[0].Consensus)
	assert.Equal(t, "Bearish", got[0].Sentiment)
	assert.InDelta(t, 0.85, got[0].AvgImpact, 1e-9)
	assert.InDelta(t, 0.65, got[0].Strength, 1e-9)

	assert.Equal(t, int64(2), got[1].ItemID)
	assert.Equal(t, 2, got[1].Rank)
	assert.False(t, got[1].Consensus)
	assert.InDelta(t, 0.95, got[1].AvgImpact, 1e-9)
}

func TestRankTwoAgreeingIsNotConsensus(t *testing.T) {
	got := Rank([]Candidate{{ItemID: 1, Analyses: []Analysis{
		an("Bullish", 0.5, 0.5),
		an("bullish", 0.5, 0.5),
	}}})
	require.Len(t, got, 1)
	assert.False(t, got[0].Consensus)
	assert.Equal(t, "Bullish", got[0].Sentiment)
}

func TestRankDropsUnscorableItems(t *testing.T) {
	got := Rank([]Candidate{
		{ItemID: 1},
		{ItemID: 2, Analyses: []Analysis{{Sentiment: "Bullish", ImpactScore: fp(0.9)}}},
		{ItemID: 3, Analyses: []Analysis{{Sentiment: "Bullish", SentimentScore: fp(0.9)}}},
		{ItemID: 4, Analyses: []Analysis{
			{Sentiment: "Bullish", SentimentScore: fp(0.4)},
			{Sentiment: "Bullish", ImpactScore: fp(0.6)},
		}},
	})
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ItemID)
	assert.InDelta(t, 0.4, got[0].AvgSentiment, 1e-9)
	assert.InDelta(t, 0.6, got[0].AvgImpact, 1e-9)
}

func TestRankTieBreaks(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	got := Rank([]Candidate{
		{ItemID: 10, Analyses: []Analysis{an("Bearish", -0.5, 0.5)}},
		{ItemID: 11, PublishedAt: &older, Analyses: []Analysis{an("Bullish", 0.5, 0.5)}},
		{ItemID: 12, PublishedAt: &newer, Analyses: []Analysis{an("Bullish", 0.5, 0.5)}},
		{ItemID: 13, Analyses: []Analysis{an("Bullish", 0.5, 0.7)}},
		{ItemID: 14, Analyses: []Analysis{an("Bullish", -0.9, 0.1)}},
		{ItemID: 9, Analyses: []Analysis{an("Bearish", -0.5, 0.5)}},
	})

	ids := make([]int64, len(got))
	for i, e := range got {
		ids[i] = e.ItemID
	}
	assert.Equal(t, []int64{14, 13, 12, 11, 9, 10}, ids)
}

func TestRankIsReproducible(t *testing.T) {
	cands := []Candidate{
		{ItemID: 3, Analyses: []Analysis{an("Bullish", 0.3, 0.3)}},
		{ItemID: 1, Analyses: []Analysis{an("Bullish", 0.3, 0.3)}},
		{ItemID: 2, Analyses: []Analysis{an("Bullish", 0.3, 0.3)}},
	}
	first := Rank(cands)
	reversed := Rank([]Candidate{cands[2], cands[1], cands[0]})
	assert.Equal(t, first, reversed)
}

func TestRankLeaderWithoutLabels(t *testing.T) {
	got := Rank([]Candidate{{ItemID: 1, Analyses: []Analysis{{SentimentScore: fp(0.1), ImpactScore: fp(0.2)}}}})
	require.Len(t, got, 1)
	assert.Equal(t, "Neutral", got[0].Sentiment)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Bearish", Capitalize("BEARISH"))
	assert.Equal(t, "", Capitalize(""))
}
