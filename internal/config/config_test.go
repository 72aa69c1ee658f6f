package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/tldr/internal/credential"
)

// mapSecrets is an in-memory SecretSource.
type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", credential.ErrNotFound
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tldr.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `{
  "source": {"sender_email": "email@stratechery.com"},
  "delivery": {"target_email": "me@example.com"},
  "imap": {"username": "me@gmail.com", "password": "app-pass"},
  "llm": {"api_key": "sk-test"}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"imap.host", cfg.IMAP.Host, "imap.gmail.com"},
		{"imap.port", cfg.IMAP.Port, 993},
		{"imap.mailbox", cfg.IMAP.Mailbox, "INBOX"},
		{"smtp.host", cfg.SMTP.Host, "smtp.gmail.com"},
		{"smtp.port", cfg.SMTP.Port, 465},
		{"smtp.username", cfg.SMTP.Username, "me@gmail.com"},
		{"smtp.password", cfg.SMTP.Password, "app-pass"},
		{"llm.provider", cfg.LLM.Provider, "openai"},
		{"llm.model", cfg.LLM.Model, "gpt-4o"},
		{"chunking.max", cfg.Chunking.MaxTokensPerChunk, 4000},
		{"chunking.overlap", cfg.Chunking.OverlapTokens, 200},
		{"chunking.tokenizer_model", cfg.Chunking.TokenizerModel, "gpt-4o"},
		{"delivery.forward_original", cfg.Delivery.ForwardOriginal, true},
		{"delivery.subject_prefix", cfg.Delivery.SubjectPrefix, "tldr Summary: "},
		{"summary.system_prompt", cfg.Summary.SystemPrompt, Defaults().Summary.SystemPrompt},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `{"imap": {"username": "me@gmail.com"}}`), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *Error", err)
	}
	for _, key := range []string{"source.sender_email", "delivery.target_email", "imap.password", "llm.api_key"} {
		if !slices.Contains(ce.Missing, key) {
			t.Errorf("Missing %v lacks %s", ce.Missing, key)
		}
	}
	if slices.Contains(ce.Missing, "imap.username") {
		t.Error("imap.username reported missing although set")
	}
	if !IsConfigError(err) {
		t.Error("IsConfigError = false")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TLDR_LLM_MODEL", "gpt-4.1")
	t.Setenv("TLDR_CHUNKING_MAX_TOKENS_PER_CHUNK", "1500")
	t.Setenv("TLDR_DELIVERY_FORWARD_ORIGINAL", "false")

	cfg, err := Load(writeConfig(t, minimalConfig), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	if cfg.Chunking.TokenizerModel != "gpt-4.1" {
		t.Errorf("tokenizer_model = %q, want to follow llm.model", cfg.Chunking.TokenizerModel)
	}
	if cfg.Chunking.MaxTokensPerChunk != 1500 {
		t.Errorf("max_tokens_per_chunk = %d", cfg.Chunking.MaxTokensPerChunk)
	}
	if cfg.Delivery.ForwardOriginal {
		t.Error("forward_original not overridden")
	}
}

func TestSecretsFromKeyring(t *testing.T) {
	body := `{
  "source": {"sender_email": "a@b.com"},
  "delivery": {"target_email": "me@example.com"},
  "imap": {"username": "me@gmail.com"},
  "smtp": {"username": "sender@gmail.com"}
}`
	secrets := mapSecrets{
		credential.KeyIMAPPassword: "imap-secret",
		credential.KeyLLMAPIKey:    "sk-from-keyring",
	}
	cfg, err := Load(writeConfig(t, body), secrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IMAP.Password != "imap-secret" {
		t.Errorf("imap.password = %q", cfg.IMAP.Password)
	}
	if cfg.SMTP.Password != "imap-secret" {
		t.Errorf("smtp.password = %q, want imap password fallback", cfg.SMTP.Password)
	}
	if cfg.SMTP.Username != "sender@gmail.com" {
		t.Errorf("smtp.username = %q, explicit value lost", cfg.SMTP.Username)
	}
	if cfg.LLM.APIKey != "sk-from-keyring" {
		t.Errorf("llm.api_key = %q", cfg.LLM.APIKey)
	}
}

func TestFileSecretWinsOverKeyring(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig), mapSecrets{credential.KeyLLMAPIKey: "sk-keyring"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm.api_key = %q, want file value", cfg.LLM.APIKey)
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		invalid string
		warning string
	}{
		{"bad provider", func(c *Config) { c.LLM.Provider = "ollama" }, "llm.provider", ""},
		{"zero max tokens", func(c *Config) { c.Chunking.MaxTokensPerChunk = 0 }, "max_tokens_per_chunk", ""},
		{"port", func(c *Config) { c.IMAP.Port = 70000 }, "imap.port", ""},
		{"bad target", func(c *Config) { c.Delivery.TargetEmail = "not an address" }, "delivery.target_email", ""},
		{"overlap too big", func(c *Config) { c.Chunking.OverlapTokens = 4000 }, "", "overlap_tokens"},
		{"negative overlap", func(c *Config) { c.Chunking.OverlapTokens = -1 }, "", "overlap_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.invalid != "" {
				var ce *Error
				if !errors.As(err, &ce) {
					t.Fatalf("err = %v, want *Error", err)
				}
				if !strings.Contains(strings.Join(ce.Invalid, " "), tt.invalid) {
					t.Errorf("Invalid %v lacks %s", ce.Invalid, tt.invalid)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(strings.Join(cfg.Warnings, " "), tt.warning) {
				t.Errorf("Warnings %v lack %s", cfg.Warnings, tt.warning)
			}
		})
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Source.SenderEmail = "email@stratechery.com"
	cfg.Delivery.TargetEmail = "me@example.com"
	cfg.IMAP.Username = "me@gmail.com"
	cfg.IMAP.Password = "pw"
	cfg.LLM.APIKey = "sk"
	return cfg
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tldr.json")

	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	raw, _ := os.ReadFile(path)
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("template is not valid JSON: %v", err)
	}
	if parsed["chunking"]["max_tokens_per_chunk"] != float64(4000) {
		t.Errorf("template chunking = %v", parsed["chunking"])
	}
	if _, ok := parsed["llm"]["api_key"]; ok {
		t.Error("template should not contain an api_key entry")
	}

	if err := WriteTemplate(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second write err = %v, want ErrConfigExists", err)
	}

	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected backup after overwrite: %v", err)
	}
}

func TestTemplateLoadsWithSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tldr.json")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatal(err)
	}
	secrets := mapSecrets{credential.KeyIMAPPassword: "pw", credential.KeyLLMAPIKey: "sk"}
	if _, err := Load(path, secrets); err != nil {
		t.Errorf("template + secrets should load: %v", err)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                    "(unset)",
		"short":               "****",
		"sk-1234567890abcdef": "****cdef",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIdentity(t *testing.T) {
	cfg := validConfig()
	if got := cfg.Identity(); got != "me@gmail.com@imap.gmail.com/INBOX" {
		t.Errorf("Identity = %q", got)
	}
}

func TestTokenizerModelForAnthropic(t *testing.T) {
	body := `{
  "source": {"sender_email": "a@b.com"},
  "delivery": {"target_email": "me@example.com"},
  "imap": {"username": "me@gmail.com", "password": "app-pass"},
  "llm": {"provider": "anthropic", "model": "claude-3-5-sonnet-latest", "api_key": "sk-ant"}
}`
	cfg, err := Load(writeConfig(t, body), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunking.TokenizerModel != DefaultTokenizerEncoding {
		t.Errorf("tokenizer_model = %q, want %q", cfg.Chunking.TokenizerModel, DefaultTokenizerEncoding)
	}
}

func TestUnknownTokenizerModelRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"explicit claude tokenizer", func(c *Config) {
			c.LLM.Provider = "anthropic"
			c.LLM.Model = "claude-3-5-sonnet-latest"
			c.Chunking.TokenizerModel = "claude-3-5-sonnet-latest"
		}},
		{"unknown openai model", func(c *Config) { c.LLM.Model = "my-finetune" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			var ce *Error
			if err := cfg.Validate(); !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if !strings.Contains(strings.Join(ce.Invalid, " "), "chunking.tokenizer_model") {
				t.Errorf("Invalid %v lacks chunking.tokenizer_model", ce.Invalid)
			}
		})
	}

	cfg := validConfig()
	cfg.Chunking.TokenizerModel = "cl100k_base"
	if err := cfg.Validate(); err != nil {
		t.Errorf("encoding name rejected: %v", err)
	}
}

func watchedConfig(cron, target string) string {
	return `{
  "source": {"sender_email": "email@stratechery.com"},
  "delivery": {"target_email": "` + target + `"},
  "imap": {"username": "me@gmail.com", "password": "app-pass"},
  "llm": {"api_key": "sk-test"},
  "schedule": {"cron": "` + cron + `"}
}`
}

// waitForCron drains reloads until one carries cron or the timeout passes.
func waitForCron(t *testing.T, ch <-chan *Config, cron string, timeout time.Duration) *Config {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case cfg := <-ch:
			if cfg.Schedule.Cron == cron {
				return cfg
			}
		case <-deadline:
			return nil
		}
	}
}

func TestWatchReloadsOnEdit(t *testing.T) {
	path := writeConfig(t, watchedConfig("0 7 * * *", "me@example.com"))

	loader := NewLoader(path, nil)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	reloads := make(chan *Config, 16)
	loader.Watch(func(cfg *Config) { reloads <- cfg })

	if err := os.WriteFile(path, []byte(watchedConfig("30 6 * * 1-5", "me@example.com")), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := waitForCron(t, reloads, "30 6 * * 1-5", 5*time.Second)
	if cfg == nil {
		t.Fatal("edit was not reloaded")
	}
	if cfg.Delivery.TargetEmail != "me@example.com" {
		t.Errorf("target_email = %q", cfg.Delivery.TargetEmail)
	}

	// An invalid edit is rejected and never reaches onChange.
	if err := os.WriteFile(path, []byte(watchedConfig("15 5 * * *", "not an address")), 0600); err != nil {
		t.Fatal(err)
	}
	if got := waitForCron(t, reloads, "15 5 * * *", 500*time.Millisecond); got != nil {
		t.Errorf("invalid config delivered: %+v", got.Delivery)
	}

	// The watcher keeps running after a rejected edit.
	if err := os.WriteFile(path, []byte(watchedConfig("45 8 * * *", "me@example.com")), 0600); err != nil {
		t.Fatal(err)
	}
	if waitForCron(t, reloads, "45 8 * * *", 5*time.Second) == nil {
		t.Fatal("valid edit after a rejected one was not reloaded")
	}
}
