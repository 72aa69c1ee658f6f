package llm

import (
	"context"
	"time"
)

// Client is a single-turn completion service.
// Implementations: OpenAIClient, AnthropicClient
type Client interface {
	// Complete sends one system + user prompt pair and returns the text of
	// the reply. Errors are always *Error.
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Config configures a Client.
type Config struct {
	Provider        string        // "openai" or "anthropic"
	APIKey          string        // Provider API key
	BaseURL         string        // Optional endpoint override (OpenAI-compatible servers, proxies)
	Timeout         time.Duration // Per-request timeout; the only bound on a call
	MaxOutputTokens int           // Output limit (default: 4096)
	Temperature     float64       // Sampling temperature; config supplies 0.7
}

const (
	DefaultMaxOutputTokens = 4096
	DefaultTemperature     = 0.7
	DefaultTimeout         = 120 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, model, systemPrompt, userPrompt)
}
