package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newOpenAITestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const openAIOK = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "<html><body>ok</body></html>"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestOpenAIComplete(t *testing.T) {
	var req map[string]any
	srv := newOpenAITestServer(t, http.StatusOK, openAIOK, &req)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Temperature: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), "gpt-4o", "be brief", "summarize this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "<html><body>ok</body></html>" {
		t.Errorf("Complete = %q", got)
	}

	if req["model"] != "gpt-4o" {
		t.Errorf("model = %v", req["model"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", req["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("system message = %v", first)
	}
}

func TestOpenAIErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"auth", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, KindAuthentication},
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, KindRateLimit},
		{"bad request", 400, `{"error":{"message":"maximum context length exceeded","type":"invalid_request_error","code":"context_length_exceeded"}}`, KindBadRequest},
		{"server error", 500, `{"error":{"message":"The server had an error","type":"server_error"}}`, KindGenericAPI},
		{"non-json gateway", 502, `<html>bad gateway</html>`, KindGenericAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenAITestServer(t, tt.status, tt.body, nil)
			c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Complete(context.Background(), "gpt-4o", "", "hi")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestOpenAIConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: url, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Complete(context.Background(), "gpt-4o", "", "hi")
	if got := KindOf(err); got != KindConnection {
		t.Errorf("KindOf = %s, want %s (err: %v)", got, KindConnection, err)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
  "content": [{"type": "text", "text": "<p>part one</p>"}, {"type": "text", "text": "<p>part two</p>"}],
  "stop_reason": "end_turn", "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 8}
}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{APIKey: "sk-ant-test", BaseURL: srv.URL, Temperature: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Complete(context.Background(), "claude-sonnet-4-5", "system text", "user text")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "<p>part one</p><p>part two</p>" {
		t.Errorf("Complete = %q", got)
	}
	if req["model"] != "claude-sonnet-4-5" {
		t.Errorf("model = %v", req["model"])
	}
	if _, ok := req["system"]; !ok {
		t.Error("system prompt not sent")
	}
}

func TestAnthropicAuthErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{APIKey: "bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Complete(context.Background(), "claude-sonnet-4-5", "", "hi")
	if !IsAuthError(err) {
		t.Fatalf("err = %v, want authentication error", err)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"openai", false},
		{"", false},
		{"anthropic", false},
		{"ollama", true},
	}
	for _, tt := range tests {
		c, err := NewClient(Config{Provider: tt.provider, APIKey: "k"})
		if (err != nil) != tt.wantErr {
			t.Errorf("NewClient(%q) err = %v, wantErr %v", tt.provider, err, tt.wantErr)
		}
		if err == nil && c == nil {
			t.Errorf("NewClient(%q) returned nil client", tt.provider)
		}
	}

	if _, err := NewClient(Config{Provider: "openai"}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(_ context.Context, model, sys, user string) (string, error) {
		return model + "|" + sys + "|" + user, nil
	})
	got, _ := c.Complete(context.Background(), "m", "s", "u")
	if got != "m|s|u" {
		t.Errorf("ClientFunc = %q", got)
	}
}
