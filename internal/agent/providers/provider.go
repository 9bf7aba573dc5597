package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/backoff"
)

// Backend is the contract every adapter satisfies. Test doubles plug in
// through the Custom variant of Provider.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error)
	CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error)
}

var (
	_ Backend = (*AnthropicProvider)(nil)
	_ Backend = (*OpenAIProvider)(nil)
	_ Backend = (*GeminiProvider)(nil)
	_ Backend = (*OllamaProvider)(nil)
)

// Kind names a provider variant.
type Kind string

const (
	Anthropic Kind = "anthropic"
	OpenAI    Kind = "openai"
	Gemini    Kind = "gemini"
	Ollama    Kind = "ollama"
	Custom    Kind = "custom"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvOllamaAPIBase   = "OLLAMA_API_BASE"
)

// Provider is the closed set of LLM backends the agent can run against.
// Exactly one variant is populated; every operation dispatches on the
// kind. The Custom variant exists so tests can substitute a scripted
// backend without touching the network.
type Provider struct {
	kind      Kind
	anthropic *AnthropicProvider
	openai    *OpenAIProvider
	gemini    *GeminiProvider
	ollama    *OllamaProvider
	custom    Backend
}

// New creates a provider for the named backend, reading credentials
// from the environment. The provider name matches the Kind values:
// anthropic, openai, gemini or ollama.
func New(provider, model string) (*Provider, error) {
	return NewWithBackoff(provider, model, backoff.Policy{})
}

// NewWithBackoff is New with an explicit retry policy. A zero policy
// means each adapter's default.
func NewWithBackoff(provider, model string, policy backoff.Policy) (*Provider, error) {
	switch Kind(provider) {
	case Anthropic:
		p, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:  os.Getenv(EnvAnthropicAPIKey),
			Model:   model,
			Backoff: policy,
		})
		if err != nil {
			return nil, err
		}
		return &Provider{kind: Anthropic, anthropic: p}, nil

	case OpenAI:
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:  os.Getenv(EnvOpenAIAPIKey),
			Model:   model,
			Backoff: policy,
		})
		if err != nil {
			return nil, err
		}
		return &Provider{kind: OpenAI, openai: p}, nil

	case Gemini:
		p, err := NewGeminiProvider(GeminiConfig{
			APIKey:  os.Getenv(EnvGeminiAPIKey),
			Model:   model,
			Backoff: policy,
		})
		if err != nil {
			return nil, err
		}
		return &Provider{kind: Gemini, gemini: p}, nil

	case Ollama:
		p := NewOllamaProvider(OllamaConfig{
			BaseURL: os.Getenv(EnvOllamaAPIBase),
			Model:   model,
		})
		return &Provider{kind: Ollama, ollama: p}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// NewCustom wraps a scripted backend. Used by tests.
func NewCustom(b Backend) *Provider {
	return &Provider{kind: Custom, custom: b}
}

// Kind returns the populated variant.
func (p *Provider) Kind() Kind {
	return p.kind
}

// Name returns the underlying backend's identifier.
func (p *Provider) Name() string {
	return p.backend().Name()
}

// Model returns the underlying backend's model identifier.
func (p *Provider) Model() string {
	return p.backend().Model()
}

// Complete dispatches to the underlying backend.
func (p *Provider) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	return p.backend().Complete(ctx, messages, opts)
}

// CompleteWithTools dispatches to the underlying backend.
func (p *Provider) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	return p.backend().CompleteWithTools(ctx, messages, opts, prior)
}

func (p *Provider) backend() Backend {
	switch p.kind {
	case Anthropic:
		return p.anthropic
	case OpenAI:
		return p.openai
	case Gemini:
		return p.gemini
	case Ollama:
		return p.ollama
	case Custom:
		return p.custom
	default:
		panic(fmt.Sprintf("providers: no backend for kind %q", p.kind))
	}
}
