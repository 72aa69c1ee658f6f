// Package pipeline runs one summarization pass over a mailbox:
// fetch, extract, chunk, summarize, send, then mark the delivered messages
// read. Failures are isolated per message; only credential failures abort
// the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/tldr/internal/chunker"
	"github.com/roelfdiedericks/tldr/internal/llm"
	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/mail"
	"github.com/roelfdiedericks/tldr/internal/tokens"
)

// ErrAuthAbort is returned by Run when a rejected credential stopped the run.
var ErrAuthAbort = errors.New("run aborted: authentication failed")

// Failure kinds recorded on Outcome.ErrKind. LLM failures use "llm:<kind>".
const (
	KindExtract      = "extract"
	KindTokenizer    = "tokenizer"
	KindChunk        = "chunk"
	KindEmptySummary = "empty_summary"
	KindSend         = "send"
)

// Mailbox is the source of unread newsletters.
type Mailbox interface {
	Fetch(ctx context.Context, sender string) ([]mail.Message, error)
	MarkRead(ctx context.Context, uids []uint32) error
}

// Sender delivers summary emails.
type Sender interface {
	Send(ctx context.Context, out mail.Outgoing) error
}

// Chunker splits a document into token-bounded chunks.
type Chunker interface {
	Chunk(text, model string, opts chunker.Options) ([]string, error)
}

// Summarizer folds chunks into one summary.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []string, client llm.Client, model, systemPrompt, initialContext string) (string, error)
}

// Settings are the per-run values taken from configuration.
type Settings struct {
	Source          string // only unread mail from this address is processed
	Recipient       string
	From            string // envelope sender; empty lets the Sender decide
	SubjectPrefix   string
	ForwardOriginal bool

	Model          string
	TokenizerModel string // defaults to Model
	SystemPrompt   string
	InitialContext string
	Chunking       chunker.Options
}

// Pipeline wires the collaborators of a run. Extract defaults to
// mail.ExtractText.
type Pipeline struct {
	Mailbox    Mailbox
	Sender     Sender
	Client     llm.Client
	Chunker    Chunker
	Summarizer Summarizer
	Extract    func(raw []byte) (string, error)
	Settings   Settings
}

// Run processes every unread message from Settings.Source in mailbox order.
//
// A fetch failure is returned as is. A rejected LLM or SMTP credential stops
// the loop and returns an error wrapping both ErrAuthAbort and the cause;
// messages already delivered are still marked read first. A failed
// MarkRead is recorded on the report but does not fail the run.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Started: start}

	msgs, err := p.Mailbox.Fetch(ctx, p.Settings.Source)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	report.Fetched = len(msgs)
	if len(msgs) == 0 {
		L_info("pipeline: no unread messages", "source", p.Settings.Source)
	}

	var delivered []uint32
	var runErr error
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		L_info("pipeline: processing message", "n", i+1, "of", len(msgs), "uid", msg.UID, "subject", displaySubject(msg))
		out := p.process(ctx, msg)
		report.add(out)

		switch out.Status {
		case StatusSummarized:
			delivered = append(delivered, msg.UID)
		case StatusFailed:
			L_error("pipeline: message failed", "uid", msg.UID, "kind", out.ErrKind, "error", out.Err)
			if isFatal(out.Err) {
				runErr = fmt.Errorf("%w: %w", ErrAuthAbort, out.Err)
			}
		default:
			L_warn("pipeline: message skipped", "uid", msg.UID, "status", out.Status)
		}
		if runErr != nil {
			break
		}
	}

	if len(delivered) > 0 {
		// Summaries already went out; mark them even if ctx was cancelled.
		if err := p.Mailbox.MarkRead(context.WithoutCancel(ctx), delivered); err != nil {
			L_warn("pipeline: failed to mark messages read", "count", len(delivered), "error", err)
			report.MarkReadErr = err
		} else {
			report.MarkedRead = len(delivered)
		}
	}

	report.Duration = time.Since(start)
	report.Log()
	return report, runErr
}

func isFatal(err error) bool {
	return llm.IsAuthError(err) || mail.IsAuthError(err)
}

// displaySubject names msg in reports and summary subjects.
func displaySubject(msg mail.Message) string {
	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		return subject
	}
	return fmt.Sprintf("Email UID %d (No Subject)", msg.UID)
}

func (p *Pipeline) process(ctx context.Context, msg mail.Message) Outcome {
	out := Outcome{UID: msg.UID, Subject: displaySubject(msg)}
	s := p.Settings

	extract := p.Extract
	if extract == nil {
		extract = mail.ExtractText
	}
	text, err := extract(msg.Raw)
	if err != nil {
		return out.fail(KindExtract, err)
	}
	if strings.TrimSpace(text) == "" {
		out.Status = StatusSkippedEmptyBody
		return out
	}

	tokModel := s.TokenizerModel
	if tokModel == "" {
		tokModel = s.Model
	}
	chunks, err := p.Chunker.Chunk(text, tokModel, s.Chunking)
	if err != nil {
		if tokens.IsTokenizerError(err) {
			return out.fail(KindTokenizer, err)
		}
		return out.fail(KindChunk, err)
	}
	if len(chunks) == 0 {
		out.Status = StatusSkippedNoChunks
		return out
	}
	L_debug("pipeline: chunked", "uid", msg.UID, "chunks", len(chunks))

	summary, err := p.Summarizer.Summarize(ctx, chunks, p.Client, s.Model, s.SystemPrompt, s.InitialContext)
	if err != nil {
		if kind := llm.KindOf(err); kind != "" {
			return out.fail("llm:"+string(kind), err)
		}
		return out.fail("llm", err)
	}
	if strings.TrimSpace(summary) == "" {
		return out.fail(KindEmptySummary, errors.New("model returned no summary"))
	}

	outgoing := mail.Outgoing{
		From:      s.From,
		Recipient: s.Recipient,
		Subject:   s.SubjectPrefix + out.Subject,
		HTMLBody:  mail.RenderSummaryHTML(summary, s.Model),
	}
	if s.ForwardOriginal {
		outgoing.Original = msg.Raw
	}
	if err := p.Sender.Send(ctx, outgoing); err != nil {
		return out.fail(KindSend, err)
	}

	out.Status = StatusSummarized
	out.Summary = summary
	return out
}
