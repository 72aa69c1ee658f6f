package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/roelfdiedericks/tldr/internal/config"
	"github.com/roelfdiedericks/tldr/internal/credential"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/paths"
	"github.com/roelfdiedericks/tldr/internal/schedule"
	"golang.org/x/term"
)

// InitCmd writes a template config file.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config (a backup is kept)"`
}

func (c *InitCmd) Run(ctx *Context) error {
	path := ctx.ConfigPath
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteTemplate(path, c.Force); err != nil {
		return err
	}
	L_info("wrote config template", "path", path)
	fmt.Printf("Config template written to %s\n", path)
	fmt.Println("Fill in source.sender_email, delivery.target_email and imap.username,")
	fmt.Println("then store secrets with: tldr secret set imap.password / tldr secret set llm.api_key")
	return nil
}

// SecretCmd groups keyring subcommands.
type SecretCmd struct {
	Set    SecretSetCmd    `cmd:"" help:"Store a secret (imap.password, smtp.password, llm.api_key)"`
	Delete SecretDeleteCmd `cmd:"" help:"Remove a secret"`
}

// SecretSetCmd stores a secret read from the terminal or stdin.
type SecretSetCmd struct {
	Key string `arg:"" help:"Secret key"`
}

func (c *SecretSetCmd) Run(ctx *Context) error {
	if !credential.ValidKey(c.Key) {
		return fmt.Errorf("unknown secret key %q", c.Key)
	}
	value, err := readSecret(c.Key)
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty value, nothing stored")
	}

	store, err := credential.Open()
	if err != nil {
		return err
	}
	if err := store.Set(c.Key, value); err != nil {
		return err
	}
	fmt.Printf("Stored %s in the keyring\n", c.Key)
	return nil
}

// SecretDeleteCmd removes a secret.
type SecretDeleteCmd struct {
	Key string `arg:"" help:"Secret key"`
}

func (c *SecretDeleteCmd) Run(ctx *Context) error {
	if !credential.ValidKey(c.Key) {
		return fmt.Errorf("unknown secret key %q", c.Key)
	}
	store, err := credential.Open()
	if err != nil {
		return err
	}
	if err := store.Delete(c.Key); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", c.Key)
	return nil
}

// readSecret prompts without echo on a terminal and reads one line
// otherwise, so values can be piped in.
func readSecret(key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Printf("%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// HistoryCmd prints recent runs.
type HistoryCmd struct {
	Limit int `help:"Number of runs to show" default:"10"`
}

func (c *HistoryCmd) Run(ctx *Context) error {
	cfg, _, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	hist, err := schedule.NewHistory("")
	if err != nil {
		return err
	}
	entries, err := hist.Recent(cfg.Identity(), c.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("Runs for %s (most recent first)\n", cfg.Identity())
	fmt.Println(historyTable(entries))
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = cellStyle.Foreground(lipgloss.Color("9"))
)

func historyTable(entries []schedule.RunEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			time.UnixMilli(e.Ts).Format("2006-01-02 15:04"),
			e.Status,
			strconv.Itoa(e.Fetched),
			strconv.Itoa(e.Summarized),
			strconv.Itoa(e.Skipped),
			strconv.Itoa(e.Failed),
			strconv.Itoa(e.MarkedRead),
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			e.Error,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("WHEN", "STATUS", "FETCHED", "SUMMARIZED", "SKIPPED", "FAILED", "READ", "TOOK", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(entries) && entries[row].Status == schedule.RunError {
				return errorStyle
			}
			return cellStyle
		})
	return t.Render()
}
