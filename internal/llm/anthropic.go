package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	maxTokens   int
	temperature float64
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
// SDK-level retries are disabled: a failed call is reported, not repeated.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	L_debug("anthropic client created", "maxTokens", cfg.MaxOutputTokens, "timeout", cfg.Timeout)

	return &AnthropicClient{
		client:      &client,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends a single non-streaming Messages request.
func (c *AnthropicClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	L_debug("llm: request started", "provider", "anthropic", "model", model, "promptChars", len(userPrompt))

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		classified := Classify("anthropic", err)
		L_error("llm: request failed", "provider", "anthropic", "model", model, "kind", KindOf(classified), "error", err)
		return "", classified
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		}
	}

	L_debug("llm: request completed",
		"provider", "anthropic",
		"model", model,
		"inputTokens", message.Usage.InputTokens,
		"outputTokens", message.Usage.OutputTokens,
		"stopReason", message.StopReason,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return text.String(), nil
}
