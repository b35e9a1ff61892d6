package analyzer

import (
	"strings"
	"text/template"
	"time"
)

const promptHeader = `You are a financial news analyst specializing in market sentiment analysis for futures traders.
`

const promptGuidelines = `
SCORING GUIDELINES:
- Sentiment: Consider implications for S&P 500, Nasdaq, and Gold futures
- Impact Score:
  - 0.0-0.3: Routine news, minor market relevance
  - 0.4-0.6: Notable news, moderate market relevance
  - 0.7-0.9: Significant news, high market relevance
  - 0.9-1.0: Major market-moving event (Fed decisions, major economic data, geopolitical events)

Focus on implications for:
- ES (S&P 500 E-mini futures)
- NQ (Nasdaq E-mini futures)
- GC (Gold futures)
- Federal Reserve / FOMC policy
- Major economic indicators

Return ONLY the JSON object, no additional text.
`

var promptTemplate = template.Must(template.New("prompt").Parse(promptHeader + `
{{if .Video}}Watch the attached YouTube video carefully and provide {{if .Summary}}a structured assessment of its financial market implications{{else}}ONLY sentiment, impact, and key topics (no summary){{end}}.

VIDEO METADATA:
Title: {{.Title}}
Source: {{.Source}}
Published: {{.Published}}

After watching the video, provide your analysis in the following JSON format:
{{else}}Analyze the following news article and provide {{if .Summary}}a structured assessment{{else}}ONLY the sentiment, impact, and key topics (no summary){{end}}.

ARTICLE:
Title: {{.Title}}
Source: {{.Source}}
Published: {{.Published}}
Content:
{{.Content}}

Provide your analysis in the following JSON format:
{{end}}{
{{- if .Summary}}
  "summary": "A 2-3 sentence summary of the {{if .Video}}video{{else}}article{{end}}'s key points and market implications",
{{- end}}
  "sentiment": "Bullish" | "Bearish" | "Neutral",
  "sentiment_score": <float from -1.0 (most bearish) to 1.0 (most bullish)>,
  "confidence": <float from 0.0 (lowest confidence) to 1.0 (highest confidence)>,
  "impact_score": <float from 0.0 (minimal impact) to 1.0 (major market-moving)>,
  "key_topics": ["list", "of", "relevant", "entities", "and", "topics"]
}
` + promptGuidelines))

type promptData struct {
	Title     string
	Source    string
	Published string
	Content   string
	Video     bool
	Summary   bool
}

// BuildPrompt renders the analysis prompt. withSummary asks for a summary
// field; video prompts omit the article body.
func BuildPrompt(req Request, withSummary bool) string {
	data := promptData{
		Title:     req.Title,
		Source:    orUnknown(req.Source),
		Published: "Unknown",
		Content:   req.Content,
		Video:     req.VideoURL != "",
		Summary:   withSummary,
	}
	if req.PublishedAt != nil {
		data.Published = req.PublishedAt.UTC().Format(time.RFC3339)
	}

	var sb strings.Builder
	// The template is static and the data has no methods that can fail.
	_ = promptTemplate.Execute(&sb, data)
	return sb.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
