package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAnthropicProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "claude-haiku",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func anthropicReply(stopReason string, texts ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocks := make([]map[string]any, len(texts))
		for i, text := range texts {
			blocks[i] = map[string]any{"type": "text", "text": text}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"content":     blocks,
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": stopReason,
			"usage":       map[string]any{"input_tokens": 50, "output_tokens": 30},
		})
	}
}

func gradeRequest() Request {
	return Request{
		System:    "You are an API response grader.",
		Messages:  []Message{{Role: RoleUser, Content: "Grade this response."}},
		MaxTokens: 256,
	}
}

func TestAnthropicProvider_HappyPath(t *testing.T) {
	var body map[string]any
	p := newTestAnthropicProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		anthropicReply("end_turn", `{"score":8,"explanation":"All required fields present."}`)(w, r)
	})

	resp, err := p.Generate(context.Background(), gradeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Usage.TotalTokens != 80 {
		t.Fatalf("expected 80 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if resp.StopReason != "end" {
		t.Fatalf("expected stop reason 'end', got %q", resp.StopReason)
	}
	if body["model"] != "claude-haiku-4-5-20251001" {
		t.Fatalf("friendly model name not resolved: %v", body["model"])
	}
	if temp, ok := body["temperature"]; !ok || temp != 0.0 {
		t.Fatalf("expected temperature 0 to be sent, got %v", body["temperature"])
	}
}

func TestAnthropicProvider_JoinsTextBlocks(t *testing.T) {
	p := newTestAnthropicProvider(t, anthropicReply("end_turn", "Score: 7/10", "Missing the tags field."))

	resp, err := p.Generate(context.Background(), gradeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(resp.Content); got != "Score: 7/10\nMissing the tags field." {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestAnthropicProvider_Refusal(t *testing.T) {
	p := newTestAnthropicProvider(t, anthropicReply("refusal", "I can't help with that."))

	_, err := p.Generate(context.Background(), gradeRequest())
	var inv *ErrInvalidResponse
	if !errors.As(err, &inv) {
		t.Fatalf("expected ErrInvalidResponse, got: %T (%v)", err, err)
	}
}

func TestAnthropicProvider_TruncatedStructuredReply(t *testing.T) {
	p := newTestAnthropicProvider(t, anthropicReply("max_tokens", `{"score":8,"expla`))

	req := gradeRequest()
	req.Schema = testSchema()
	_, err := p.Generate(context.Background(), req)
	var maxTok *ErrMaxTokensExceeded
	if !errors.As(err, &maxTok) {
		t.Fatalf("expected ErrMaxTokensExceeded, got: %T (%v)", err, err)
	}
	if !IsPermanent(err) {
		t.Fatal("truncation should be permanent")
	}
}

func TestAnthropicProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, "", func(t *testing.T, err error) {
			var auth *ErrAuth
			if !errors.As(err, &auth) {
				t.Fatalf("expected ErrAuth, got: %T (%v)", err, err)
			}
		}},
		{"rate limited", http.StatusTooManyRequests, "2", func(t *testing.T, err error) {
			var rl *ErrRateLimit
			if !errors.As(err, &rl) {
				t.Fatalf("expected ErrRateLimit, got: %T (%v)", err, err)
			}
			if rl.RetryAfter != 2*time.Second {
				t.Fatalf("expected RetryAfter 2s, got %s", rl.RetryAfter)
			}
		}},
		{"server error", http.StatusInternalServerError, "", func(t *testing.T, err error) {
			var unavail *ErrProviderUnavailable
			if !errors.As(err, &unavail) {
				t.Fatalf("expected ErrProviderUnavailable, got: %T (%v)", err, err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := newTestAnthropicProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"type":  "error",
					"error": map[string]any{"type": "api_error", "message": http.StatusText(tt.status)},
				})
			})

			_, err := p.Generate(context.Background(), gradeRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
			if calls != 1 {
				t.Fatalf("expected no SDK retries, got %d calls", calls)
			}
		})
	}
}

func TestAnthropicProvider_RequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestAnthropicModelMapping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"claude-sonnet", "claude-sonnet-4-20250514"},
		{"claude-haiku", "claude-haiku-4-5-20251001"},
		{"claude-sonnet-4-20250514", "claude-sonnet-4-20250514"},
	}
	for _, tt := range tests {
		got := resolveModel(tt.input, anthropicModels)
		if got != tt.expected {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
