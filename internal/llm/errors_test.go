package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestClassifyTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
		code int
	}{
		{"openai 401", &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key"}, KindAuthentication, 401},
		{"openai 403", &openai.APIError{HTTPStatusCode: 403}, KindAuthentication, 403},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, KindRateLimit, 429},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400, Message: "maximum context length"}, KindBadRequest, 400},
		{"openai 404 model", &openai.APIError{HTTPStatusCode: 404}, KindBadRequest, 404},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500}, KindGenericAPI, 500},
		{"openai request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, KindGenericAPI, 502},
		{"openai request 401", &openai.RequestError{HTTPStatusCode: 401, Err: errors.New("nope")}, KindAuthentication, 401},
		{"wrapped 429", fmt.Errorf("call: %w", &openai.APIError{HTTPStatusCode: 429}), KindRateLimit, 429},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("openai", tt.err)
			var le *Error
			if !errors.As(err, &le) {
				t.Fatalf("Classify returned %T, want *Error", err)
			}
			if le.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", le.Kind, tt.want)
			}
			if le.StatusCode != tt.code {
				t.Errorf("StatusCode = %d, want %d", le.StatusCode, tt.code)
			}
			if !errors.Is(err, tt.err) && !errors.Is(err, errors.Unwrap(tt.err)) {
				t.Errorf("classified error does not wrap the cause")
			}
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"url error", &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: errors.New("connection refused")}},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}},
		{"deadline", fmt.Errorf("request: %w", context.DeadlineExceeded)},
		{"eof", io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(Classify("openai", tt.err)); got != KindConnection {
				t.Errorf("KindOf = %s, want %s", got, KindConnection)
			}
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"", KindGenericAPI},
		{"error, status code: 401, message: Incorrect API key provided", KindAuthentication},
		{"Unauthorized", KindAuthentication},
		{"Rate limit reached for requests per minute", KindRateLimit},
		{"too many requests", KindRateLimit},
		{"This model's maximum context length is 8192 tokens", KindBadRequest},
		{"invalid_request_error: messages: missing api key header", KindBadRequest},
		{"read tcp: connection reset by peer", KindConnection},
		{"request timed out", KindConnection},
		{"something unexpected happened", KindGenericAPI},
	}
	for _, tt := range tests {
		if got := ClassifyMessage(tt.msg); got != tt.want {
			t.Errorf("ClassifyMessage(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	first := Classify("anthropic", &openai.APIError{HTTPStatusCode: 429})
	second := Classify("openai", first)
	if first != second {
		t.Error("Classify re-wrapped an *Error")
	}
	if Classify("openai", nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}

func TestIsAuthError(t *testing.T) {
	auth := &Error{Kind: KindAuthentication, Provider: "openai", Err: errors.New("bad key")}
	if !IsAuthError(fmt.Errorf("chunk 2: %w", auth)) {
		t.Error("IsAuthError false for wrapped auth error")
	}
	if IsAuthError(&Error{Kind: KindRateLimit, Err: errors.New("slow down")}) {
		t.Error("IsAuthError true for rate limit")
	}
	if IsAuthError(errors.New("401 unauthorized")) {
		t.Error("IsAuthError true for an unclassified error")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf plain error should be empty")
	}
}
