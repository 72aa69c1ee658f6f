// Package config loads and validates the tldr configuration.
//
// Values come from (highest priority first) TLDR_* environment variables,
// the config file, the system keyring for empty secrets, and built-in
// defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/roelfdiedericks/tldr/internal/credential"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/paths"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TLDR_LLM_API_KEY.
const EnvPrefix = "TLDR"

// Config is the fully resolved configuration.
type Config struct {
	Source   SourceConfig   `mapstructure:"source" json:"source"`
	Delivery DeliveryConfig `mapstructure:"delivery" json:"delivery"`
	IMAP     IMAPConfig     `mapstructure:"imap" json:"imap"`
	SMTP     SMTPConfig     `mapstructure:"smtp" json:"smtp"`
	LLM      LLMConfig      `mapstructure:"llm" json:"llm"`
	Chunking ChunkingConfig `mapstructure:"chunking" json:"chunking"`
	Summary  SummaryConfig  `mapstructure:"summary" json:"summary"`
	Schedule ScheduleConfig `mapstructure:"schedule" json:"schedule"`
	Log      LogConfig      `mapstructure:"log" json:"log"`

	// Path is the file the config was read from, empty when none was found.
	Path string `mapstructure:"-" json:"-"`

	// Warnings are non-fatal problems found by Validate.
	Warnings []string `mapstructure:"-" json:"-"`
}

// SourceConfig selects which newsletters to summarize.
type SourceConfig struct {
	SenderEmail string `mapstructure:"sender_email" json:"sender_email"`
}

// DeliveryConfig controls the outgoing summary email.
type DeliveryConfig struct {
	TargetEmail     string `mapstructure:"target_email" json:"target_email"`
	ForwardOriginal bool   `mapstructure:"forward_original" json:"forward_original"`
	SubjectPrefix   string `mapstructure:"subject_prefix" json:"subject_prefix"`
}

// IMAPConfig is the mailbox newsletters are read from.
type IMAPConfig struct {
	Host           string `mapstructure:"host" json:"host"`
	Port           int    `mapstructure:"port" json:"port"`
	TLS            bool   `mapstructure:"tls" json:"tls"` // implicit TLS; false uses STARTTLS
	Username       string `mapstructure:"username" json:"username"`
	Password       string `mapstructure:"password" json:"password,omitempty"`
	Mailbox        string `mapstructure:"mailbox" json:"mailbox"`
	ConnectRetries int    `mapstructure:"connect_retries" json:"connect_retries"`
}

// SMTPConfig is the server summaries are sent through.
type SMTPConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	TLS      bool   `mapstructure:"tls" json:"tls"` // implicit TLS; false uses STARTTLS
	Username string `mapstructure:"username" json:"username,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
}

// LLMConfig selects the summarization model.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider" json:"provider"` // "openai" or "anthropic"
	APIKey          string  `mapstructure:"api_key" json:"api_key,omitempty"`
	Model           string  `mapstructure:"model" json:"model"`
	BaseURL         string  `mapstructure:"base_url" json:"base_url,omitempty"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
}

// Timeout returns the request timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChunkingConfig sizes the windows documents are split into.
type ChunkingConfig struct {
	MaxTokensPerChunk int    `mapstructure:"max_tokens_per_chunk" json:"max_tokens_per_chunk"`
	OverlapTokens     int    `mapstructure:"overlap_tokens" json:"overlap_tokens"`
	TokenizerModel    string `mapstructure:"tokenizer_model" json:"tokenizer_model,omitempty"` // defaults to llm.model
}

// SummaryConfig shapes the prompts.
type SummaryConfig struct {
	SystemPrompt   string `mapstructure:"system_prompt" json:"system_prompt"`
	PromptFocus    string `mapstructure:"prompt_focus" json:"prompt_focus"`
	InitialContext string `mapstructure:"initial_context" json:"initial_context"`
}

// ScheduleConfig is used by daemon mode.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" json:"cron"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// Defaults returns the built-in configuration. Required values are empty.
func Defaults() *Config {
	return &Config{
		Delivery: DeliveryConfig{
			ForwardOriginal: true,
			SubjectPrefix:   "tldr Summary: ",
		},
		IMAP: IMAPConfig{
			Host:           "imap.gmail.com",
			Port:           993,
			TLS:            true,
			Mailbox:        "INBOX",
			ConnectRetries: 2,
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 465,
			TLS:  true,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o",
			TimeoutSeconds:  120,
			MaxOutputTokens: 4096,
			Temperature:     0.7,
		},
		Chunking: ChunkingConfig{
			MaxTokensPerChunk: 4000,
			OverlapTokens:     200,
		},
		Summary: SummaryConfig{
			SystemPrompt: "You are an expert assistant that summarizes articles into a well-structured HTML format.",
		},
		Schedule: ScheduleConfig{
			Cron: "0 7 * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults registers every key with viper so env overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("source.sender_email", d.Source.SenderEmail)

	v.SetDefault("delivery.target_email", d.Delivery.TargetEmail)
	v.SetDefault("delivery.forward_original", d.Delivery.ForwardOriginal)
	v.SetDefault("delivery.subject_prefix", d.Delivery.SubjectPrefix)

	v.SetDefault("imap.host", d.IMAP.Host)
	v.SetDefault("imap.port", d.IMAP.Port)
	v.SetDefault("imap.tls", d.IMAP.TLS)
	v.SetDefault("imap.username", d.IMAP.Username)
	v.SetDefault("imap.password", d.IMAP.Password)
	v.SetDefault("imap.mailbox", d.IMAP.Mailbox)
	v.SetDefault("imap.connect_retries", d.IMAP.ConnectRetries)

	v.SetDefault("smtp.host", d.SMTP.Host)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.tls", d.SMTP.TLS)
	v.SetDefault("smtp.username", d.SMTP.Username)
	v.SetDefault("smtp.password", d.SMTP.Password)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.max_output_tokens", d.LLM.MaxOutputTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)

	v.SetDefault("chunking.max_tokens_per_chunk", d.Chunking.MaxTokensPerChunk)
	v.SetDefault("chunking.overlap_tokens", d.Chunking.OverlapTokens)
	v.SetDefault("chunking.tokenizer_model", d.Chunking.TokenizerModel)

	v.SetDefault("summary.system_prompt", d.Summary.SystemPrompt)
	v.SetDefault("summary.prompt_focus", d.Summary.PromptFocus)
	v.SetDefault("summary.initial_context", d.Summary.InitialContext)

	v.SetDefault("schedule.cron", d.Schedule.Cron)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// SecretSource resolves secrets left empty in the file and environment.
// *credential.Store satisfies it.
type SecretSource interface {
	Get(key string) (string, error)
}

// Loader reads configuration with viper and can watch the file for changes.
type Loader struct {
	v       *viper.Viper
	path    string
	secrets SecretSource
}

// NewLoader creates a loader for path. An empty path searches
// ./tldr.json then ~/.tldr/tldr.json; finding neither is not an error.
// secrets may be nil.
func NewLoader(path string, secrets SecretSource) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, path: path, secrets: secrets}
}

// Load is a convenience wrapper around NewLoader(path, secrets).Load().
func Load(path string, secrets SecretSource) (*Config, error) {
	return NewLoader(path, secrets).Load()
}

// Load reads, resolves and validates the configuration.
// Validation failures are returned as *Error.
func (l *Loader) Load() (*Config, error) {
	path := l.path
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	} else {
		expanded, err := paths.ExpandTilde(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	if path != "" {
		l.v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			l.v.SetConfigType("json")
		}
		if err := l.v.ReadInConfig(); err != nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("reading config: %w", err)}
		}
		l.path = path
		L_debug("config: loaded file", "path", path)
	} else {
		L_debug("config: no config file found, using defaults and environment")
	}

	return l.resolve()
}

// resolve unmarshals the current viper state into a validated Config.
func (l *Loader) resolve() (*Config, error) {
	cfg := Defaults()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, &Error{Path: l.path, Err: fmt.Errorf("parsing config: %w", err)}
	}
	cfg.Path = l.path

	cfg.IMAP.Password = l.secret(cfg.IMAP.Password, credential.KeyIMAPPassword)
	cfg.SMTP.Password = l.secret(cfg.SMTP.Password, credential.KeySMTPPassword)
	cfg.LLM.APIKey = l.secret(cfg.LLM.APIKey, credential.KeyLLMAPIKey)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		L_warn("config: " + w)
	}
	return cfg, nil
}

func (l *Loader) secret(current, key string) string {
	if current != "" || l.secrets == nil {
		return current
	}
	value, err := l.secrets.Get(key)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			L_warn("config: keyring lookup failed", "key", key, "error", err)
		}
		return ""
	}
	L_debug("config: secret resolved from keyring", "key", key)
	return value
}

// applyDerived fills values that default to other values.
func (c *Config) applyDerived() {
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.IMAP.Username
	}
	if c.SMTP.Password == "" {
		c.SMTP.Password = c.IMAP.Password
	}
	if c.Chunking.TokenizerModel == "" {
		c.Chunking.TokenizerModel = c.LLM.Model
		if strings.ToLower(strings.TrimSpace(c.LLM.Provider)) != "openai" {
			c.Chunking.TokenizerModel = DefaultTokenizerEncoding
		}
	}
	if c.Summary.SystemPrompt == "" {
		c.Summary.SystemPrompt = Defaults().Summary.SystemPrompt
	}
	c.Source.SenderEmail = strings.TrimSpace(c.Source.SenderEmail)
	c.Delivery.TargetEmail = strings.TrimSpace(c.Delivery.TargetEmail)
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

// Watch reloads the file whenever it changes and passes each valid result
// to onChange. Invalid edits are logged and ignored, keeping the previous
// configuration in effect. Watch is a no-op when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.resolve()
		if err != nil {
			L_error("config: reload rejected", "path", e.Name, "error", err)
			return
		}
		L_info("config: reloaded", "path", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
	L_debug("config: watching for changes", "path", l.path)
}

// Identity names the mailbox this config reads from, for run locking.
func (c *Config) Identity() string {
	return fmt.Sprintf("%s@%s/%s", c.IMAP.Username, c.IMAP.Host, c.IMAP.Mailbox)
}

// LogSummary logs the effective configuration with secrets masked.
func (c *Config) LogSummary() {
	path := c.Path
	if path == "" {
		path = "(none)"
	}
	L_info("config: effective settings",
		"file", path,
		"sender", c.Source.SenderEmail,
		"target", c.Delivery.TargetEmail,
		"forwardOriginal", c.Delivery.ForwardOriginal,
		"imap", fmt.Sprintf("%s:%d", c.IMAP.Host, c.IMAP.Port),
		"imapUser", c.IMAP.Username,
		"imapPassword", mask(c.IMAP.Password),
		"smtp", fmt.Sprintf("%s:%d", c.SMTP.Host, c.SMTP.Port),
		"provider", c.LLM.Provider,
		"model", c.LLM.Model,
		"apiKey", mask(c.LLM.APIKey),
		"maxTokensPerChunk", c.Chunking.MaxTokensPerChunk,
		"overlapTokens", c.Chunking.OverlapTokens,
	)
}

// mask hides all but the last four characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return "(unset)"
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
