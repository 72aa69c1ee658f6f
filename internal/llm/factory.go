package llm

import "fmt"

// NewClient creates a client from config.
// Dispatches to the appropriate constructor based on cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
