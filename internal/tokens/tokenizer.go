// Package tokens adapts tiktoken for model-aware encoding and decoding.
package tokens

import (
	"errors"
	"fmt"
	"sync"

	. "github.com/roelfdiedericks/tldr/internal/logging"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// BPE ranks are embedded; never download them at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Error reports that no encoding could be resolved for a model, or that the
// encoder failed. It is the tokenizer error of the pipeline: per-document,
// never fatal for a run.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tokenizer: model %q: %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTokenizerError reports whether err (or anything it wraps) is a tokenizer error.
func IsTokenizerError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Tokenizer resolves and caches tiktoken encodings per model.
type Tokenizer struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// New creates an empty Tokenizer. Encodings load lazily on first use.
func New() *Tokenizer {
	return &Tokenizer{encodings: make(map[string]*tiktoken.Tiktoken)}
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// Default returns the process-wide tokenizer.
func Default() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = New()
	})
	return defaultTokenizer
}

// encoding returns the encoding for model. model may also be an encoding
// name such as "cl100k_base", which is useful for providers tiktoken has no
// model table for.
func (t *Tokenizer) encoding(model string) (*tiktoken.Tiktoken, error) {
	t.mu.RLock()
	enc, ok := t.encodings[model]
	t.mu.RUnlock()
	if ok {
		return enc, nil
	}

	if model == "" {
		return nil, &Error{Model: model, Err: errors.New("empty model name")}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		var encErr error
		enc, encErr = tiktoken.GetEncoding(model)
		if encErr != nil {
			return nil, &Error{Model: model, Err: err}
		}
	}

	t.mu.Lock()
	t.encodings[model] = enc
	t.mu.Unlock()

	L_debug("tokens: loaded encoding", "model", model)
	return enc, nil
}

// Encode returns the token ids of text under model's encoding.
// Empty text yields an empty slice.
func (t *Tokenizer) Encode(text, model string) ([]int, error) {
	enc, err := t.encoding(model)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return []int{}, nil
	}
	return enc.Encode(text, nil, nil), nil
}

// Decode maps token ids back to text under model's encoding.
func (t *Tokenizer) Decode(ids []int, model string) (string, error) {
	enc, err := t.encoding(model)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return enc.Decode(ids), nil
}

// Count returns the number of tokens in text under model's encoding.
func (t *Tokenizer) Count(text, model string) (int, error) {
	ids, err := t.Encode(text, model)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Count is a convenience function using the default tokenizer.
func Count(text, model string) (int, error) {
	return Default().Count(text, model)
}

// Encode is a convenience function using the default tokenizer.
func Encode(text, model string) ([]int, error) {
	return Default().Encode(text, model)
}

// Decode is a convenience function using the default tokenizer.
func Decode(ids []int, model string) (string, error) {
	return Default().Decode(ids, model)
}
