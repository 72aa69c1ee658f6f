// Package summarize folds document chunks into a single running summary.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/tldr/internal/llm"
	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// Options tunes the prompts sent for each chunk.
type Options struct {
	// PromptFocus is extra guidance appended to the instructions,
	// e.g. "Focus on the business strategy implications."
	PromptFocus string
}

// Engine runs the cumulative summarization fold.
type Engine struct {
	opts      Options
	sentinels func() string
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, sentinels: newSentinel}
}

// Summarize folds chunks, in order, into one summary. Each chunk is sent with
// the running summary as background; a non-empty reply replaces the running
// summary, an empty reply leaves it unchanged. With no chunks the initial
// context is returned without calling the client.
//
// Calls are never retried. The first failed call aborts the fold, discards
// the partial summary and returns the error wrapped with the chunk position;
// it stays matchable as *llm.Error.
func (e *Engine) Summarize(ctx context.Context, chunks []string, client llm.Client, model, systemPrompt, initialContext string) (string, error) {
	if len(chunks) == 0 {
		return initialContext, nil
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	start := time.Now()
	running := initialContext
	sentinel := sentinelFor(e.sentinels, chunks...)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("summarize: chunk %d/%d: %w", i+1, len(chunks), err)
		}

		next, err := e.step(ctx, client, model, systemPrompt, sentinel, running, chunk)
		if err != nil {
			return "", fmt.Errorf("summarize: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if strings.TrimSpace(next) == "" {
			L_warn("summarize: empty response, keeping running summary", "chunk", i+1, "of", len(chunks), "model", model)
			continue
		}
		running = next
		L_debug("summarize: chunk folded", "chunk", i+1, "of", len(chunks), "summaryChars", len(running))
	}

	L_elapsed(start, "summarize: done", "chunks", len(chunks), "model", model)
	return running, nil
}

// step sends one chunk with the running summary and returns the reply.
func (e *Engine) step(ctx context.Context, client llm.Client, model, systemPrompt, sentinel, running, chunk string) (string, error) {
	if strings.Contains(running, sentinel) {
		// a reply may echo the marker back
		sentinel = sentinelFor(e.sentinels, running, chunk)
	}
	prompt := buildPrompt(sentinel, e.opts.PromptFocus, running, chunk)
	return client.Complete(ctx, model, systemPrompt, prompt)
}
