package ai

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AnthropicClient backs Client with the official SDK messages API.
type AnthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

func NewAnthropicClient(apiKey, model string, maxTokens int, log *zap.Logger) *AnthropicClient {
	return &AnthropicClient{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
		log:       log.With(zap.String("component", "anthropic")),
	}
}

func (c *AnthropicClient) Model() string { return c.model }

func (c *AnthropicClient) Chat(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		sb.WriteString(block.Text)
	}
	c.log.Debug("completion received",
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return sb.String(), nil
}
