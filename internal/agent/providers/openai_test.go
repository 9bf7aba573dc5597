package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/backoff"
)

func fastBackoff() backoff.Policy {
	return backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func newTestOpenAIProvider(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o",
		Backoff: fastBackoff(),
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return p
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenAIBuildRequestMessageMapping(t *testing.T) {
	p := newTestOpenAIProvider(t, "")

	messages := []agent.Message{
		agent.SystemMessage("You are helpful."),
		agent.UserMessage("read a.txt"),
		{
			Role:    agent.RoleAssistant,
			Content: "Reading it.",
			ToolCalls: []agent.ToolCall{
				{ID: "call-1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)},
			},
		},
		{Role: agent.RoleTool, ToolCallID: "call-1", Content: "contents"},
	}
	prior := []agent.ToolResult{{ToolCallID: "call-2", Output: "ok"}}

	req := p.buildRequest(messages, agent.CompletionOptions{Temperature: 0.5, TopP: 0.95}, prior)

	if len(req.Messages) != 5 {
		t.Fatalf("len(Messages) = %d, want 5", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %q, want system", req.Messages[0].Role)
	}
	if req.Messages[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant role = %q", req.Messages[2].Role)
	}
	if len(req.Messages[2].ToolCalls) != 1 || req.Messages[2].ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("assistant tool calls = %+v", req.Messages[2].ToolCalls)
	}
	if req.Messages[3].Role != openai.ChatMessageRoleTool || req.Messages[3].ToolCallID != "call-1" {
		t.Errorf("tool message = %+v", req.Messages[3])
	}
	if req.Messages[4].ToolCallID != "call-2" {
		t.Errorf("prior result should append as tool message, got %+v", req.Messages[4])
	}
	if req.Temperature != 0.5 || req.TopP != 0.95 {
		t.Errorf("sampling = %v/%v, want 0.5/0.95", req.Temperature, req.TopP)
	}
	if req.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", req.MaxTokens, defaultMaxTokens)
	}
}

func TestOpenAIBuildRequestToolChoice(t *testing.T) {
	p := newTestOpenAIProvider(t, "")
	tools := []agent.ToolDefinition{
		{Name: "read_file", Description: "Reads a file", Parameters: json.RawMessage(`{"type":"object"}`)},
	}

	req := p.buildRequest([]agent.Message{agent.UserMessage("go")}, agent.CompletionOptions{Tools: tools}, nil)
	if req.ToolChoice != "auto" {
		t.Errorf("ToolChoice = %v, want auto", req.ToolChoice)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "read_file" {
		t.Errorf("Tools = %+v", req.Tools)
	}

	req = p.buildRequest([]agent.Message{agent.UserMessage("go")}, agent.CompletionOptions{Tools: tools, RequireToolUse: true}, nil)
	if req.ToolChoice != "required" {
		t.Errorf("ToolChoice = %v, want required", req.ToolChoice)
	}

	req = p.buildRequest([]agent.Message{agent.UserMessage("go")}, agent.CompletionOptions{}, nil)
	if req.ToolChoice != nil {
		t.Errorf("ToolChoice should stay unset without tools, got %v", req.ToolChoice)
	}
}

func TestOpenAIBuildRequestJSONSchema(t *testing.T) {
	p := newTestOpenAIProvider(t, "")

	schema := `{"type":"object","properties":{"taskComplete":{"type":"boolean"}}}`
	req := p.buildRequest([]agent.Message{agent.UserMessage("done?")}, agent.CompletionOptions{JSONSchema: schema}, nil)

	if req.ResponseFormat == nil {
		t.Fatal("ResponseFormat should be set for schema requests")
	}
	if req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Errorf("ResponseFormat.Type = %q", req.ResponseFormat.Type)
	}
	raw, err := json.Marshal(req.ResponseFormat.JSONSchema.Schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	if !strings.Contains(string(raw), "taskComplete") {
		t.Errorf("schema payload = %s", raw)
	}
}

func TestOpenAIBadToolSchemaDegrades(t *testing.T) {
	tools := convertOpenAITools([]agent.ToolDefinition{
		{Name: "broken", Parameters: json.RawMessage(`{`)},
	})
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("Parameters type = %T", tools[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("degraded schema = %v", params)
	}
}

func TestOpenAICompleteWithToolsRoundTrip(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Checking the file.",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "read_file", "arguments": "{\"path\":\"main.go\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 21, "completion_tokens": 8, "total_tokens": 29}
		}`))
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(t, srv.URL+"/v1")

	resp, err := p.CompleteWithTools(t.Context(), []agent.Message{
		agent.SystemMessage("helper"),
		agent.UserMessage("read main.go"),
	}, agent.CompletionOptions{
		Tools: []agent.ToolDefinition{
			{Name: "read_file", Description: "Reads a file", Parameters: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("CompleteWithTools() error = %v", err)
	}

	if resp.Content != "Checking the file." {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_abc" || resp.ToolCalls[0].Name != "read_file" {
		t.Errorf("tool call = %+v", resp.ToolCalls[0])
	}
	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 8 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	body := string(gotBody)
	for _, want := range []string{`"model":"gpt-4o"`, `"tool_choice":"auto"`, `"read_file"`} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %s: %s", want, body)
		}
	}
}

func TestOpenAISendRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(t, srv.URL+"/v1")

	text, err := p.Complete(t.Context(), []agent.Message{agent.UserMessage("hi")}, agent.CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "ok" {
		t.Errorf("Complete() = %q, want ok", text)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestOpenAISendDoesNotRetryAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(t, srv.URL+"/v1")

	_, err := p.Complete(t.Context(), []agent.Message{agent.UserMessage("hi")}, agent.CompletionOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry)", got)
	}

	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatal("expected a ProviderError")
	}
	if pe.Status != 401 || pe.Reason != ReasonAuth {
		t.Errorf("classified as %+v", pe)
	}
}

func TestOpenAIParseResponseNoChoices(t *testing.T) {
	p := newTestOpenAIProvider(t, "")
	if _, err := p.parseResponse(openai.ChatCompletionResponse{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
