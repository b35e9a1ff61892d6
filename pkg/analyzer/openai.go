package analyzer

import (
	"context"
	"fmt"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI scores articles with a chat completion model. It asks for metrics
// only, no summary.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAI creates an OpenAI provider from cfg.
func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.ParseTimeout()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (o *OpenAI) Name() string        { return "openai" }
func (o *OpenAI) Model() string       { return o.model }
func (o *OpenAI) SupportsVideo() bool { return false }

func (o *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(req, false)),
		},
		MaxTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices from openai", ErrInvalidResponse)
	}
	return ParseResult(resp.Choices[0].Message.Content)
}
