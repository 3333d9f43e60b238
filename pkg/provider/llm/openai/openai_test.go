package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestParams_Roles(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "instr",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "prompt"},
			{Role: llm.RoleAssistant, Content: "earlier answer"},
		},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil || params.Messages[2].OfAssistant == nil {
		t.Error("expected system, user, assistant in order")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", params.Model)
	}
	if params.MaxCompletionTokens.Value != 100 {
		t.Errorf("max tokens = %d, want 100", params.MaxCompletionTokens.Value)
	}
}

func TestParams_UnknownRole(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.params(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "tool", Content: "x"}},
	}); err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithHTTPClient(http.DefaultClient),
	); err != nil {
		t.Errorf("unexpected error with valid options: %v", err)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newChatServer(t *testing.T, status int, body string, seen *map[string]any, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
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

var summaryRequest = llm.CompletionRequest{
	SystemPrompt: "Summarise",
	Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Summarise\n\nuser: hi\n"}},
}

// ── Complete ─────────────────────────────────────────────────────────────────

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	var seen map[string]any
	srv := newChatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "length", "message": {"role": "assistant", "content": "A short summary."}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
	}`, &seen, nil)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), summaryRequest)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "A short summary." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "length" {
		t.Errorf("finish reason = %q, want length", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("total tokens = %d, want 16", resp.Usage.TotalTokens)
	}
	if seen["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", seen["model"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request messages = %d, want 2", len(msgs))
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil, nil)
	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), summaryRequest)
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestComplete_ServerErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := newChatServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, nil, &hits)
	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if _, err := p.Complete(context.Background(), summaryRequest); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := newChatServer(t, http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, nil, nil)
	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if _, err := p.Complete(context.Background(), summaryRequest); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
