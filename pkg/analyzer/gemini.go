package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/marketnews/internal/config"
	"google.golang.org/genai"
)

// Gemini is the only video-capable provider: for YouTube items it receives
// the video URL as file data instead of scraped text.
type Gemini struct {
	client *genai.Client
	model  string
	cfg    config.ProviderConfig
}

// NewGemini creates a Gemini provider from cfg.
func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, cfg: cfg}, nil
}

func (g *Gemini) Name() string        { return "google" }
func (g *Gemini) Model() string       { return g.model }
func (g *Gemini) SupportsVideo() bool { return true }

func (g *Gemini) Analyze(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ParseTimeout())
	defer cancel()

	parts := []*genai.Part{}
	if req.VideoURL != "" {
		parts = append(parts, genai.NewPartFromURI(req.VideoURL, "video/*"))
	}
	parts = append(parts, genai.NewPartFromText(BuildPrompt(req, false)))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty gemini response", ErrInvalidResponse)
	}
	return ParseResult(text.String())
}
