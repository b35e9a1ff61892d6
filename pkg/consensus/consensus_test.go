package consensus

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func votes(impact float64, labels ...string) []Vote {
	out := make([]Vote, len(labels))
	for i, l := range labels {
		out[i] = Vote{Provider: "p" + l, Sentiment: l, Impact: f(impact)}
	}
	return out
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		votes    []Vote
		eligible bool
		leader   string
	}{
		{name: "empty", votes: nil},
		{name: "single bullish", votes: votes(0.9, "Bullish"), eligible: true, leader: "bullish"},
		{name: "single neutral", votes: votes(0.9, "Neutral")},
		{name: "all neutral high impact", votes: votes(1.0, "Neutral", "neutral", "NEUTRAL")},
		{name: "bearish with two neutral", votes: votes(0.95, "Bearish", "Neutral", "Neutral")},
		{name: "two bearish one bullish", votes: votes(0.8, "Bearish", "Bearish", "Bullish"), eligible: true, leader: "bearish"},
		{name: "three way split", votes: votes(0.8, "Bearish", "Bullish", "Neutral")},
		{name: "pair with neutral", votes: votes(0.8, "Bullish", "Neutral"), eligible: true, leader: "bullish"},
		{name: "pair disagree", votes: votes(0.8, "Bullish", "Bearish"), eligible: true, leader: "bearish"},
		{name: "mixed case agreement", votes: votes(0.7, "BULLISH", "bullish", "Bullish"), eligible: true, leader: "bullish"},
		{name: "four with two-two tie", votes: votes(0.9, "Bullish", "Bullish", "Bearish", "Bearish"), eligible: true, leader: "bearish"},
		{name: "four with neutral plurality", votes: votes(0.9, "Bullish", "Bearish", "Neutral", "Neutral"), eligible: true, leader: "neutral"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.votes, 0.7)
			assert.Equal(t, tt.eligible, d.Eligible, d.Reason)
			if tt.leader != "" {
				assert.Equal(t, tt.leader, d.Leader)
			}
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecideMinImpactGate(t *testing.T) {
	vs := votes(0.95, "Bullish", "Bullish", "Bullish")
	vs[1].Impact = f(0.69)

	d := Decide(vs, 0.7)
	assert.False(t, d.Eligible)
	assert.InDelta(t, 0.69, d.MinImpact, 1e-9)
}

func TestDecideCoercesMissingImpactToZero(t *testing.T) {
	vs := votes(0.9, "Bullish", "Bullish")
	vs[0].Impact = nil
	assert.False(t, Decide(vs, 0.7).Eligible)

	vs[0].Impact = f(math.NaN())
	assert.False(t, Decide(vs, 0.7).Eligible)

	// A zero threshold admits a coerced zero.
	assert.True(t, Decide(vs, 0).Eligible)
}

func TestDecideAllNeutralNeverEligible(t *testing.T) {
	for n := 1; n <= 6; n++ {
		labels := make([]string, n)
		for i := range labels {
			labels[i] = "Neutral"
		}
		assert.False(t, Decide(votes(1, labels...), 0).Eligible, "n=%d", n)
	}
}

func TestDecideLowImpactNeverEligible(t *testing.T) {
	for _, labels := range [][]string{
		{"Bullish"},
		{"Bearish", "Bearish"},
		{"Bullish", "Bullish", "Bullish"},
	} {
		assert.False(t, Decide(votes(0.5, labels...), 0.7).Eligible, "%v", labels)
	}
}

func TestLeaderTieBreakIsLexical(t *testing.T) {
	leader, count := Leader([]string{"Neutral", "Bullish", "Bearish"})
	assert.Equal(t, "bearish", leader)
	assert.Equal(t, 1, count)

	leader, count = Leader([]string{"Bullish", "Neutral", "Bullish", "Neutral"})
	assert.Equal(t, "bullish", leader)
	assert.Equal(t, 2, count)

	leader, count = Leader([]string{"", " "})
	assert.Empty(t, leader)
	assert.Zero(t, count)
}
