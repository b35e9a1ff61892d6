package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptArticle(t *testing.T) {
	published := time.Date(2024, 3, 20, 18, 0, 0, 0, time.UTC)
	p := BuildPrompt(Request{
		Title:       "Fed holds rates",
		Source:      "Reuters",
		PublishedAt: &published,
		Content:     "The Federal Reserve left rates unchanged.",
	}, true)

	assert.Contains(t, p, "Title: Fed holds rates")
	assert.Contains(t, p, "Source: Reuters")
	assert.Contains(t, p, "Published: 2024-03-20T18:00:00Z")
	assert.Contains(t, p, "The Federal Reserve left rates unchanged.")
	assert.Contains(t, p, `"summary"`)
	assert.Contains(t, p, "Return ONLY the JSON object")
}

func TestBuildPromptMetricsOnly(t *testing.T) {
	p := BuildPrompt(Request{Title: "t", Content: "c"}, false)

	assert.NotContains(t, p, `"summary"`)
	assert.Contains(t, p, "Source: Unknown")
	assert.Contains(t, p, "Published: Unknown")
	assert.Contains(t, p, `"impact_score"`)
}

func TestBuildPromptVideo(t *testing.T) {
	p := BuildPrompt(Request{Title: "Market open", VideoURL: "https://youtu.be/x", Content: "ignored"}, false)

	assert.Contains(t, p, "VIDEO METADATA")
	assert.NotContains(t, p, "ARTICLE:")
	assert.NotContains(t, p, "ignored")
}
