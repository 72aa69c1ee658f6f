// Package llm provides the LLM client used for summarization and the closed
// set of failures it can report.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// Kind categorizes LLM failures. The set is closed: every error returned by
// a Client is an *Error carrying one of these kinds.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindBadRequest     Kind = "bad_request"
	KindConnection     Kind = "connection"
	KindGenericAPI     Kind = "api"
)

// Error is the error type returned by every Client.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an LLM error, or "" if err is not one.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsAuthError reports whether err is an LLM authentication failure.
// Authentication failures abort a whole run.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuthentication
}

// Classify wraps err from provider into an *Error. Typed SDK errors are
// classified by HTTP status, transport errors become KindConnection, and
// anything else falls back to message patterns.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}

	out := &Error{Provider: provider, Err: err}

	var oaiAPI *openai.APIError
	var oaiReq *openai.RequestError
	var antErr *anthropic.Error
	var netErr net.Error

	switch {
	case errors.As(err, &oaiAPI):
		out.StatusCode = oaiAPI.HTTPStatusCode
		out.Kind = kindForStatus(oaiAPI.HTTPStatusCode)
	case errors.As(err, &oaiReq):
		out.StatusCode = oaiReq.HTTPStatusCode
		out.Kind = kindForStatus(oaiReq.HTTPStatusCode)
	case errors.As(err, &antErr):
		out.StatusCode = antErr.StatusCode
		out.Kind = kindForStatus(antErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		out.Kind = KindConnection
	default:
		out.Kind = ClassifyMessage(err.Error())
	}
	return out
}

func kindForStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuthentication
	case code == 429:
		return KindRateLimit
	case code == 400 || code == 404 || code == 413 || code == 422:
		return KindBadRequest
	case code == 408:
		return KindConnection
	default:
		return KindGenericAPI
	}
}

// ClassifyMessage determines the kind from an error message when no typed
// error is available. Unmatched messages are KindGenericAPI.
func ClassifyMessage(msg string) Kind {
	switch {
	case msg == "":
		return KindGenericAPI
	case IsContextOverflowMessage(msg), IsFormatMessage(msg):
		// checked before auth: "invalid_request_error" bodies often mention keys
		return KindBadRequest
	case IsRateLimitMessage(msg):
		return KindRateLimit
	case IsAuthMessage(msg):
		return KindAuthentication
	case IsTimeoutMessage(msg):
		return KindConnection
	default:
		return KindGenericAPI
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsContextOverflowMessage checks if a message indicates the prompt was too large.
func IsContextOverflowMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "413") && strings.Contains(lower, "too large") {
		return true
	}
	return containsAny(lower,
		"context_length_exceeded",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"request_too_large",
		"exceeds model context window",
	)
}

// IsRateLimitMessage checks if a message indicates rate limiting.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"429",
		"rate_limit",
		"rate limit",
		"too many requests",
		"quota exceeded",
		"requests per minute",
	)
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"401",
		"403",
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
		"forbidden",
		"authentication",
		"invalid credentials",
	)
}

// IsTimeoutMessage checks if a message indicates a timeout or dropped connection.
func IsTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"connection refused",
	)
}

// IsFormatMessage checks if a message indicates a malformed request.
func IsFormatMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"invalid request format",
		"invalid_request_error",
		"malformed",
		"schema validation",
	)
}
