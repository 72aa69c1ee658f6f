package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/roelfdiedericks/tldr/internal/chunker"
	"github.com/roelfdiedericks/tldr/internal/config"
	"github.com/roelfdiedericks/tldr/internal/llm"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/mail"
	"github.com/roelfdiedericks/tldr/internal/pipeline"
	"github.com/roelfdiedericks/tldr/internal/runlock"
	"github.com/roelfdiedericks/tldr/internal/schedule"
	"github.com/roelfdiedericks/tldr/internal/summarize"
)

// RunCmd performs a single pass.
type RunCmd struct{}

func (c *RunCmd) Run(ctx *Context) error {
	cfg, _, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	hist, err := schedule.NewHistory("")
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runOnce(sigCtx, cfg, hist)
}

// DaemonCmd runs passes on schedule.cron until interrupted, reloading the
// config file when it changes. SIGHUP rotates the log file.
type DaemonCmd struct {
	Now bool `help:"Also run once immediately on start"`
}

func (c *DaemonCmd) Run(ctx *Context) error {
	cfg, loader, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	hist, err := schedule.NewHistory("")
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	current := cfg
	job := func(jobCtx context.Context) {
		mu.Lock()
		cfg := current
		mu.Unlock()
		if err := runOnce(jobCtx, cfg, hist); err != nil {
			L_error("scheduled run failed", "error", err)
		}
	}

	sched, err := schedule.New(cfg.Schedule.Cron, job)
	if err != nil {
		return &config.Error{Path: cfg.Path, Invalid: []string{"schedule.cron"}, Err: err}
	}

	loader.Watch(func(next *config.Config) {
		mu.Lock()
		current = next
		mu.Unlock()
		applyLogging(ctx, next)
		if err := sched.Reschedule(next.Schedule.Cron); err != nil {
			L_error("config: keeping previous schedule", "error", err)
		}
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := Rotate(); err != nil {
					L_warn("log rotation failed", "error", err)
				}
			case <-sigCtx.Done():
				return
			}
		}
	}()

	sched.Start(sigCtx)
	if c.Now {
		go job(sigCtx)
	}

	<-sigCtx.Done()
	L_info("shutting down")
	sched.Stop()
	return nil
}

// runOnce performs one locked pass over the configured mailbox and records
// it in the run history.
func runOnce(ctx context.Context, cfg *config.Config, hist *schedule.History) error {
	start := time.Now()
	identity := cfg.Identity()

	lock, err := runlock.Acquire(identity)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			L_warn("skipping run, mailbox is locked by another process", "mailbox", identity)
			record(hist, identity, schedule.RunEntry{Ts: start.UnixMilli(), Status: schedule.RunLocked})
		}
		return err
	}
	defer lock.Release()

	report, err := summarizeMailbox(ctx, cfg)
	record(hist, identity, schedule.EntryFromReport(start, report, err))
	return err
}

func record(hist *schedule.History, identity string, entry schedule.RunEntry) {
	if err := hist.Append(identity, entry); err != nil {
		L_warn("failed to record run history", "error", err)
	}
}

// summarizeMailbox wires the collaborators from cfg and runs the pipeline.
func summarizeMailbox(ctx context.Context, cfg *config.Config) (*pipeline.Report, error) {
	client, err := llm.NewClient(llm.Config{
		Provider:        cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Timeout:         cfg.LLM.Timeout(),
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, err
	}

	mailbox := mail.NewIMAPMailbox(mail.IMAPConfig{
		Host:           cfg.IMAP.Host,
		Port:           cfg.IMAP.Port,
		TLS:            cfg.IMAP.TLS,
		Username:       cfg.IMAP.Username,
		Password:       cfg.IMAP.Password,
		Mailbox:        cfg.IMAP.Mailbox,
		ConnectRetries: cfg.IMAP.ConnectRetries,
	})
	if err := mailbox.Connect(ctx); err != nil {
		return nil, fmt.Errorf("imap: %w", err)
	}
	defer mailbox.Close()

	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		TLS:      cfg.SMTP.TLS,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})

	p := &pipeline.Pipeline{
		Mailbox:    mailbox,
		Sender:     sender,
		Client:     client,
		Chunker:    chunker.New(nil),
		Summarizer: summarize.NewEngine(summarize.Options{PromptFocus: cfg.Summary.PromptFocus}),
		Settings:   pipeline.SettingsFromConfig(cfg),
	}
	return p.Run(ctx)
}
