package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/roelfdiedericks/tldr/internal/tokens"
)

// DefaultTokenizerEncoding is used for chunking when the provider's models
// are unknown to tiktoken.
const DefaultTokenizerEncoding = "cl100k_base"

// Error reports a configuration that cannot be used. It is fatal at startup.
type Error struct {
	Path    string   // config file, if any
	Missing []string // required keys without a value
	Invalid []string // keys with unusable values
	Err     error    // read or parse failure
}

func (e *Error) Error() string {
	var parts []string
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, "; "))
	}
	msg := "config: " + strings.Join(parts, "; ")
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Validate checks required keys and value ranges. Problems that only
// degrade behavior are recorded in c.Warnings.
func (c *Config) Validate() error {
	e := &Error{Path: c.Path}
	c.Warnings = nil

	required := []struct {
		key, value string
	}{
		{"source.sender_email", c.Source.SenderEmail},
		{"delivery.target_email", c.Delivery.TargetEmail},
		{"imap.host", c.IMAP.Host},
		{"imap.username", c.IMAP.Username},
		{"imap.password", c.IMAP.Password},
		{"smtp.host", c.SMTP.Host},
		{"llm.api_key", c.LLM.APIKey},
		{"llm.model", c.LLM.Model},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			e.Missing = append(e.Missing, r.key)
		}
	}

	if c.Delivery.TargetEmail != "" {
		if _, err := mail.ParseAddress(c.Delivery.TargetEmail); err != nil {
			e.Invalid = append(e.Invalid, fmt.Sprintf("delivery.target_email %q is not an email address", c.Delivery.TargetEmail))
		}
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		e.Invalid = append(e.Invalid, fmt.Sprintf("imap.port %d out of range", c.IMAP.Port))
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		e.Invalid = append(e.Invalid, fmt.Sprintf("smtp.port %d out of range", c.SMTP.Port))
	}
	if c.IMAP.ConnectRetries < 0 {
		e.Invalid = append(e.Invalid, "imap.connect_retries must not be negative")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		e.Invalid = append(e.Invalid, fmt.Sprintf("llm.provider %q must be openai or anthropic", c.LLM.Provider))
	}
	if c.LLM.TimeoutSeconds <= 0 {
		e.Invalid = append(e.Invalid, "llm.timeout_seconds must be positive")
	}
	if c.Chunking.MaxTokensPerChunk <= 0 {
		e.Invalid = append(e.Invalid, "chunking.max_tokens_per_chunk must be positive")
	} else if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokensPerChunk {
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"chunking.overlap_tokens (%d) must be between 0 and max_tokens_per_chunk (%d); chunks will advance by half a window",
			c.Chunking.OverlapTokens, c.Chunking.MaxTokensPerChunk))
	}

	if model := c.tokenizerModel(); model != "" {
		if _, err := tokens.Count("", model); err != nil {
			e.Invalid = append(e.Invalid, fmt.Sprintf(
				"chunking.tokenizer_model %q has no tiktoken encoding; set it to a model or encoding such as %s",
				model, DefaultTokenizerEncoding))
		}
	}

	if len(e.Missing) > 0 || len(e.Invalid) > 0 {
		return e
	}
	return nil
}

func (c *Config) tokenizerModel() string {
	if c.Chunking.TokenizerModel != "" {
		return c.Chunking.TokenizerModel
	}
	return c.LLM.Model
}
