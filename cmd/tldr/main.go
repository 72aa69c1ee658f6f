// Command tldr summarizes unread newsletters with an LLM and mails the
// summaries back.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/roelfdiedericks/tldr/internal/config"
	"github.com/roelfdiedericks/tldr/internal/credential"
	. "github.com/roelfdiedericks/tldr/internal/logging"
)

const version = "0.1.0"

// CLI is the top-level command line.
type CLI struct {
	Config string `help:"Config file (default: ./tldr.json, then ~/.tldr/tldr.json)" short:"c" type:"path"`
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Trace  bool   `help:"Enable trace logging"`

	Run     RunCmd     `cmd:"" default:"1" help:"Summarize unread newsletters once (default)"`
	Daemon  DaemonCmd  `cmd:"" help:"Run on the configured cron schedule"`
	Init    InitCmd    `cmd:"" help:"Write a template config file"`
	Secret  SecretCmd  `cmd:"" help:"Manage secrets in the system keyring"`
	History HistoryCmd `cmd:"" help:"Show recent runs for the configured mailbox"`
	Version VersionCmd `cmd:"" help:"Print version"`
}

// Context is passed to every command's Run method.
type Context struct {
	ConfigPath string
	Debug      bool
	Trace      bool
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tldr"),
		kong.Description("Summarize newsletter emails with an LLM and mail the summaries back."),
		kong.UsageOnError(),
	)

	if err := Init(&LoggerConfig{Level: cliLevel(cli.Debug, cli.Trace, LevelInfo), TimeFormat: "2006-01-02 15:04:05"}); err != nil {
		fmt.Printf("failed to initialize logging: %v\n", err)
	}

	err := kctx.Run(&Context{
		ConfigPath: cli.Config,
		Debug:      cli.Debug,
		Trace:      cli.Trace,
	})
	if err != nil {
		L_fatal("%v", err)
	}
}

func cliLevel(debug, trace bool, fallback int) int {
	switch {
	case trace:
		return LevelTrace
	case debug:
		return LevelDebug
	default:
		return fallback
	}
}

// loadConfig loads configuration with keyring fallback for secrets and
// reinitializes logging from it. The keyring is optional: if it cannot be
// opened, secrets must come from the file or environment.
func loadConfig(ctx *Context) (*config.Config, *config.Loader, error) {
	var secrets config.SecretSource
	if store, err := credential.Open(); err != nil {
		L_debug("keyring unavailable", "error", err)
	} else {
		secrets = store
	}

	loader := config.NewLoader(ctx.ConfigPath, secrets)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	applyLogging(ctx, cfg)
	cfg.LogSummary()
	return cfg, loader, nil
}

func applyLogging(ctx *Context, cfg *config.Config) {
	logCfg := DefaultLoggerConfig()
	logCfg.Level = cliLevel(ctx.Debug, ctx.Trace, ParseLevel(cfg.Log.Level))
	logCfg.File = cfg.Log.File
	if err := Init(logCfg); err != nil {
		L_warn("failed to open log file, logging to stderr only", "file", cfg.Log.File, "error", err)
	}
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("tldr %s\n", version)
	return nil
}
