// Package chunker splits documents into overlapping, token-bounded windows.
package chunker

import (
	"errors"
	"fmt"
	"unicode/utf8"

	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/roelfdiedericks/tldr/internal/tokens"
)

const (
	// DefaultMaxTokens is the upper bound on tokens per chunk
	DefaultMaxTokens = 4000

	// DefaultOverlapTokens is the overlap between consecutive chunks
	DefaultOverlapTokens = 200
)

// ErrInvalidMaxTokens is returned when MaxTokens is not positive.
var ErrInvalidMaxTokens = errors.New("chunker: max tokens per chunk must be positive")

// Codec converts between text and token ids for a model.
// *tokens.Tokenizer satisfies it.
type Codec interface {
	Encode(text, model string) ([]int, error)
	Decode(ids []int, model string) (string, error)
}

// Options configures chunk sizes
type Options struct {
	MaxTokens     int // Upper bound on tokens per chunk (default: 4000)
	OverlapTokens int // Tokens shared with the previous chunk (default: 200)
}

// DefaultOptions returns default chunking options
func DefaultOptions() Options {
	return Options{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Advance returns how far each window start moves. When the overlap is not
// smaller than the window (or negative) the stride falls back to half the
// window, at least 1, so chunking always terminates.
func (o Options) Advance() (advance int, fallback bool) {
	if o.OverlapTokens >= 0 && o.OverlapTokens < o.MaxTokens {
		return o.MaxTokens - o.OverlapTokens, false
	}
	advance = o.MaxTokens / 2
	if advance < 1 {
		advance = 1
	}
	return advance, true
}

// Chunker splits text using a Codec.
type Chunker struct {
	codec Codec
}

// New creates a Chunker over codec. A nil codec uses tokens.Default().
func New(codec Codec) *Chunker {
	if codec == nil {
		codec = tokens.Default()
	}
	return &Chunker{codec: codec}
}

// Chunk splits text into windows of at most opts.MaxTokens tokens, each
// starting opts.MaxTokens-opts.OverlapTokens tokens after the previous one.
// Cuts never fall inside a multi-byte character, so a window may end a few
// tokens early. Empty text yields an empty slice. Text that already fits is
// returned unchanged as the only chunk. Codec errors are returned unwrapped
// so tokenizer errors stay matchable.
func (c *Chunker) Chunk(text, model string, opts Options) ([]string, error) {
	if opts.MaxTokens <= 0 {
		return nil, ErrInvalidMaxTokens
	}
	if text == "" {
		return []string{}, nil
	}

	ids, err := c.codec.Encode(text, model)
	if err != nil {
		return nil, err
	}
	if len(ids) <= opts.MaxTokens {
		return []string{text}, nil
	}

	spans, err := c.plan(ids, model, opts)
	if err != nil {
		return nil, err
	}
	chunks := make([]string, 0, len(spans))
	for _, s := range spans {
		part, err := c.codec.Decode(ids[s.start:s.end], model)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, part)
	}

	L_debug("chunker: split document",
		"tokens", len(ids), "chunks", len(chunks), "model", model)
	return chunks, nil
}

// plan computes the token windows for ids.
func (c *Chunker) plan(ids []int, model string, opts Options) ([]span, error) {
	advance, fallback := opts.Advance()
	if fallback {
		L_warn("chunker: overlap must be smaller than max tokens, using fallback stride",
			"max_tokens", opts.MaxTokens, "overlap_tokens", opts.OverlapTokens, "stride", advance)
	}

	starts, err := c.runeStarts(ids, model)
	if err != nil {
		return nil, err
	}
	return layout(starts, opts.MaxTokens, advance, func(s span) (span, error) {
		return c.fit(ids, starts, s, model, opts.MaxTokens)
	})
}

// runeStarts reports for every token position in [0, len(ids)] whether the
// text before it ends on a character boundary.
func (c *Chunker) runeStarts(ids []int, model string) ([]bool, error) {
	starts := make([]bool, len(ids)+1)
	starts[0], starts[len(ids)] = true, true
	for i := 1; i < len(ids); i++ {
		piece, err := c.codec.Decode(ids[i:i+1], model)
		if err != nil {
			return nil, err
		}
		starts[i] = piece == "" || utf8.RuneStart(piece[0])
	}
	return starts, nil
}

// fit pulls s.end back until the decoded window re-encodes to at most limit
// tokens.
func (c *Chunker) fit(ids []int, starts []bool, s span, model string, limit int) (span, error) {
	for {
		part, err := c.codec.Decode(ids[s.start:s.end], model)
		if err != nil {
			return s, err
		}
		again, err := c.codec.Encode(part, model)
		if err != nil {
			return s, err
		}
		if len(again) <= limit {
			return s, nil
		}
		end := snapBack(starts, s.start, s.end-1)
		if end <= s.start || end >= s.end {
			L_warn("chunker: window cannot be shrunk below max tokens",
				"window", s.String(), "tokens", len(again), "max_tokens", limit)
			return s, nil
		}
		s.end = end
	}
}

// Chunk is a convenience function using the default tokenizer.
func Chunk(text, model string, maxTokensPerChunk, overlapTokens int) ([]string, error) {
	return New(nil).Chunk(text, model, Options{MaxTokens: maxTokensPerChunk, OverlapTokens: overlapTokens})
}

type span struct {
	start, end int
}

func (s span) String() string {
	return fmt.Sprintf("[%d,%d)", s.start, s.end)
}

// snapBack moves end back to the nearest character boundary after start.
// When a single character is wider than the window it moves forward instead.
func snapBack(starts []bool, start, end int) int {
	e := end
	for e > start && !starts[e] {
		e--
	}
	if e > start {
		return e
	}
	e = end
	for e < len(starts)-1 && !starts[e] {
		e++
	}
	return e
}

// layout lays out [start,end) token ranges over len(starts)-1 tokens with
// every cut on a position where starts is true. fit, when set, may pull a
// window's end back further. Consecutive windows never leave a gap and the
// last one always ends at n.
func layout(starts []bool, size, advance int, fit func(span) (span, error)) ([]span, error) {
	n := len(starts) - 1
	var out []span
	for start := 0; ; {
		s := span{start, snapBack(starts, start, min(start+size, n))}
		if fit != nil {
			var err error
			if s, err = fit(s); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
		if s.end == n {
			return out, nil
		}

		next := min(start+advance, s.end)
		for next < s.end && !starts[next] {
			next++
		}
		if next <= start {
			next = s.end
		}
		start = next
	}
}
