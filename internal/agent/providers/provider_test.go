package providers

import (
	"context"
	"testing"

	"github.com/rlneumiller/oli-sub000/internal/agent"
)

// scriptedBackend lets tests substitute canned completions.
type scriptedBackend struct {
	name       string
	model      string
	completeFn func(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error)
}

func (s *scriptedBackend) Name() string  { return s.name }
func (s *scriptedBackend) Model() string { return s.model }

func (s *scriptedBackend) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	resp, err := s.completeFn(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *scriptedBackend) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	return s.completeFn(ctx, messages, opts, prior)
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("mystery", "model"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewReadsCredentialsFromEnvironment(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "ant-key")
	t.Setenv(EnvOpenAIAPIKey, "oa-key")
	t.Setenv(EnvGeminiAPIKey, "gm-key")

	tests := []struct {
		provider string
		kind     Kind
	}{
		{"anthropic", Anthropic},
		{"openai", OpenAI},
		{"gemini", Gemini},
		{"ollama", Ollama},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(tt.provider, "some-model")
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.provider, err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", p.Kind(), tt.kind)
			}
			if p.Name() != tt.provider {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.provider)
			}
			if p.Model() != "some-model" {
				t.Errorf("Model() = %q, want some-model", p.Model())
			}
		})
	}
}

func TestNewFailsWithoutCredentials(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "")

	if _, err := New("anthropic", "claude"); err == nil {
		t.Fatal("expected error when the API key env var is empty")
	}
}

func TestNewOllamaUsesAPIBaseEnv(t *testing.T) {
	t.Setenv(EnvOllamaAPIBase, "http://gpu-box:11434")

	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New(ollama) error = %v", err)
	}
	if p.ollama.baseURL != "http://gpu-box:11434" {
		t.Errorf("baseURL = %q", p.ollama.baseURL)
	}
}

func TestCustomProviderDispatch(t *testing.T) {
	var sawPrior []agent.ToolResult
	backend := &scriptedBackend{
		name:  "custom",
		model: "scripted",
		completeFn: func(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
			sawPrior = prior
			return &agent.CompletionResponse{Content: "scripted reply"}, nil
		},
	}

	p := NewCustom(backend)
	if p.Kind() != Custom {
		t.Errorf("Kind() = %q, want custom", p.Kind())
	}

	text, err := p.Complete(t.Context(), []agent.Message{agent.UserMessage("hi")}, agent.CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "scripted reply" {
		t.Errorf("Complete() = %q", text)
	}

	prior := []agent.ToolResult{{ToolCallID: "c1", Output: "ok"}}
	resp, err := p.CompleteWithTools(t.Context(), nil, agent.CompletionOptions{}, prior)
	if err != nil {
		t.Fatalf("CompleteWithTools() error = %v", err)
	}
	if resp.Content != "scripted reply" {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(sawPrior) != 1 || sawPrior[0].ToolCallID != "c1" {
		t.Errorf("prior results should pass through, got %+v", sawPrior)
	}
}
