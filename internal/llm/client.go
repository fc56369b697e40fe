// Package llm drives the language-model extraction pathway: candidate
// chunking, prompt rendering, response parsing, identity enforcement with
// targeted mismatch retries, and error-item substitution.
package llm

import (
	"context"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/resilience"
	"github.com/EmiliosRichards/phone-validation-pipeline/pkg/anthropic"
)

// Client is the narrow completion interface the extractor depends on.
// Implementations must be safe for concurrent use across domains.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, model.TokenUsage, error)
}

// anthropicClient adapts pkg/anthropic to the Client interface, applying
// the configured model parameters and transport retries.
type anthropicClient struct {
	api   anthropic.Client
	model string
	temp  float64
	maxT  int64
	retry resilience.RetryConfig
}

// NewAnthropicClient builds the production Client from configuration.
func NewAnthropicClient(api anthropic.Client, cfg config.LLMConfig) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "complete")
	return &anthropicClient{
		api:   api,
		model: cfg.ModelName,
		temp:  cfg.Temperature,
		maxT:  cfg.MaxTokens,
		retry: retry,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, model.TokenUsage, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.api.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxT,
			Temperature: &c.temp,
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
	})
	if err != nil {
		return "", model.TokenUsage{}, err
	}

	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return resp.Text, usage, nil
}
