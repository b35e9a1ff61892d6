package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidResponse marks a provider response that does not satisfy the
// result contract. It is never worth retrying on its own.
var ErrInvalidResponse = errors.New("invalid analyzer response")

// Sentiment labels accepted from providers.
const (
	Bullish = "Bullish"
	Bearish = "Bearish"
	Neutral = "Neutral"
)

// Result is one provider's structured assessment of an item.
type Result struct {
	Summary        *string  `json:"summary,omitempty"`
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	ImpactScore    float64  `json:"impact_score"`
	Confidence     *float64 `json:"confidence,omitempty"`
	KeyTopics      []string `json:"key_topics"`
}

// wireResult mirrors Result with pointers so missing scores are detectable.
type wireResult struct {
	Summary        *string  `json:"summary"`
	Sentiment      string   `json:"sentiment" validate:"required,oneof=Bullish Bearish Neutral"`
	SentimentScore *float64 `json:"sentiment_score" validate:"required,gte=-1,lte=1"`
	ImpactScore    *float64 `json:"impact_score" validate:"required,gte=0,lte=1"`
	Confidence     *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	KeyTopics      []string `json:"key_topics"`
}

var validate = validator.New()

// ParseResult strips code fences from raw model output and validates it.
func ParseResult(raw string) (*Result, error) {
	cleaned := StripCodeFences(raw)

	var w wireResult
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	res := &Result{
		Sentiment:      w.Sentiment,
		SentimentScore: *w.SentimentScore,
		ImpactScore:    *w.ImpactScore,
		Confidence:     w.Confidence,
		KeyTopics:      w.KeyTopics,
	}
	if res.KeyTopics == nil {
		res.KeyTopics = []string{}
	}
	if w.Summary != nil {
		if s := strings.TrimSpace(*w.Summary); s != "" {
			res.Summary = &s
		}
	}
	return res, nil
}

// StripCodeFences removes a surrounding ``` or ```json fence.
func StripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
