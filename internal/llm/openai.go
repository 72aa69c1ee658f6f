package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

// NewOpenAIClient creates a client for the OpenAI chat completions API.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	cfg = cfg.withDefaults()

	config := openai.DefaultConfig(cfg.APIKey)
	if baseURL := cfg.BaseURL; baseURL != "" {
		// OpenAI-compatible servers are usually configured without the /v1 suffix
		baseURL = strings.TrimRight(baseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "(default)"
	}
	L_debug("openai client created", "baseURL", baseURL, "maxTokens", cfg.MaxOutputTokens, "timeout", cfg.Timeout)

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		maxTokens:   cfg.MaxOutputTokens,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Complete sends a single chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	L_debug("llm: request started", "provider", "openai", "model", model, "promptChars", len(userPrompt))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        1.0,
	})
	if err != nil {
		classified := Classify("openai", err)
		L_error("llm: request failed", "provider", "openai", "model", model, "kind", KindOf(classified), "error", err)
		return "", classified
	}

	if len(resp.Choices) == 0 {
		L_warn("llm: response had no choices", "provider", "openai", "model", model)
		return "", nil
	}

	L_debug("llm: request completed",
		"provider", "openai",
		"model", model,
		"inputTokens", resp.Usage.PromptTokens,
		"outputTokens", resp.Usage.CompletionTokens,
		"finishReason", resp.Choices[0].FinishReason,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return resp.Choices[0].Message.Content, nil
}
