package analyzer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```  \n", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestParseResult(t *testing.T) {
	raw := "```json\n" + `{
  "summary": "  Fed holds rates.  ",
  "sentiment": "Bearish",
  "sentiment_score": -0.6,
  "confidence": 0.8,
  "impact_score": 0.9,
  "key_topics": ["FOMC", "rates"]
}` + "\n```"

	res, err := ParseResult(raw)
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "Fed holds rates.", *res.Summary)
	assert.Equal(t, Bearish, res.Sentiment)
	assert.InDelta(t, -0.6, res.SentimentScore, 1e-9)
	assert.InDelta(t, 0.9, res.ImpactScore, 1e-9)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.8, *res.Confidence, 1e-9)
	assert.Equal(t, []string{"FOMC", "rates"}, res.KeyTopics)
}

func TestParseResultDefaults(t *testing.T) {
	res, err := ParseResult(`{"summary":"   ","sentiment":"Neutral","sentiment_score":0,"impact_score":0,"key_topics":null}`)
	require.NoError(t, err)
	assert.Nil(t, res.Summary)
	assert.Nil(t, res.Confidence)
	assert.Equal(t, []string{}, res.KeyTopics)
}

func TestParseResultRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "The market looks bullish."},
		{"lowercase label", `{"sentiment":"bullish","sentiment_score":0.5,"impact_score":0.5}`},
		{"unknown label", `{"sentiment":"Mixed","sentiment_score":0.5,"impact_score":0.5}`},
		{"sentiment out of range", `{"sentiment":"Bullish","sentiment_score":1.5,"impact_score":0.5}`},
		{"impact negative", `{"sentiment":"Bullish","sentiment_score":0.5,"impact_score":-0.1}`},
		{"confidence above one", `{"sentiment":"Bullish","sentiment_score":0.5,"impact_score":0.5,"confidence":1.2}`},
		{"missing impact", `{"sentiment":"Bullish","sentiment_score":0.5}`},
		{"missing sentiment score", `{"sentiment":"Bullish","impact_score":0.5}`},
		{"missing sentiment", `{"sentiment_score":0.5,"impact_score":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	raw := `{"sentiment":"Bullish","sentiment_score":0.42,"impact_score":0.77,"key_topics":["NVDA","AI capex","Nasdaq"]}`

	first, err := ParseResult(raw)
	require.NoError(t, err)

	encoded, err := json.Marshal(first)
	require.NoError(t, err)

	second, err := ParseResult(string(encoded))
	require.NoError(t, err)

	assert.Equal(t, first.Sentiment, second.Sentiment)
	assert.Equal(t, first.SentimentScore, second.SentimentScore)
	assert.Equal(t, first.ImpactScore, second.ImpactScore)
	assert.Equal(t, first.KeyTopics, second.KeyTopics)
}

func TestIsVideoURL(t *testing.T) {
	assert.True(t, IsVideoURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, IsVideoURL("https://youtu.be/abc"))
	assert.True(t, IsVideoURL("https://m.YouTube.com/watch?v=abc"))
	assert.False(t, IsVideoURL("https://www.reuters.com/markets/youtube.com"))
	assert.False(t, IsVideoURL(""))
}
