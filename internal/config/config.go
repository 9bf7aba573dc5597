// Package config loads the engine configuration: the model roster the
// run method selects from, logging preferences, and the session and
// history bounds. Credentials are never stored in the file; they are
// read from the environment at provider construction time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider identifiers recognized by the engine.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// defaultModels maps each provider to the model used when the
// configuration does not name one.
var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-20250514",
	ProviderOpenAI:    "gpt-4o",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOllama:    "llama3.2",
}

// apiKeyEnv maps each provider to its credential environment variable.
// Ollama has none: the local server is unauthenticated.
var apiKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// Config is the engine configuration.
type Config struct {
	Models  []ModelConfig `yaml:"models" json:"models"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Session SessionConfig `yaml:"session" json:"session"`
	History HistoryConfig `yaml:"history" json:"history"`
	Tools   ToolsConfig   `yaml:"tools" json:"tools"`
	Agent   AgentConfig   `yaml:"agent" json:"agent"`
}

// ModelConfig names one selectable provider/model pair. The run
// method's model_index parameter indexes into the Models list.
type ModelConfig struct {
	Provider    string `yaml:"provider" json:"provider"`
	Model       string `yaml:"model" json:"model"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// LoggingConfig controls the slog handler installed at startup.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is text, json, or auto. Auto picks json when stderr is
	// not a terminal.
	Format string `yaml:"format" json:"format"`
}

// SessionConfig bounds the conversation.
type SessionConfig struct {
	// Capacity is the maximum number of retained messages.
	Capacity int `yaml:"capacity" json:"capacity"`

	// SystemPrompt is pinned onto every outgoing request.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt,omitempty"`

	// MaxTasks caps how many finished tasks the ledger retains. Zero
	// means unlimited.
	MaxTasks int `yaml:"max_tasks" json:"max_tasks,omitempty"`
}

// ToolsConfig is the initial tool permission policy. The policy can be
// changed at runtime through the set_tool_policy method.
type ToolsConfig struct {
	// Mode is auto (allow everything) or readonly (block Edit,
	// Replace, and Bash).
	Mode string `yaml:"mode" json:"mode"`

	// Allowlist names tools that always run, overriding the mode.
	// Patterns support a * wildcard at either end.
	Allowlist []string `yaml:"allowlist" json:"allowlist,omitempty"`

	// Denylist names tools that never run.
	Denylist []string `yaml:"denylist" json:"denylist,omitempty"`
}

// AgentConfig tunes the multi-turn loop. Zero values take the
// executor's built-in defaults.
type AgentConfig struct {
	// MaxLoops caps tool iterations per run.
	MaxLoops int `yaml:"max_loops" json:"max_loops,omitempty"`

	// Temperature controls sampling randomness.
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty"`

	// TopP is the nucleus sampling cutoff.
	TopP float64 `yaml:"top_p" json:"top_p,omitempty"`

	// MaxTokens caps the length of each model response.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens,omitempty"`

	// Fallback routes runs without an explicit model selection through
	// the whole model list, moving to the next entry on provider
	// faults.
	Fallback bool `yaml:"fallback" json:"fallback,omitempty"`
}

// HistoryConfig holds the summarization trigger thresholds.
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages" json:"max_messages"`
	MaxChars    int `yaml:"max_chars" json:"max_chars"`
	KeepRecent  int `yaml:"keep_recent" json:"keep_recent"`
}

// Load reads and parses the configuration file. Environment variables
// referenced as ${VAR} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file exists:
// one entry per recognized provider, ordered by preference.
func DefaultConfig() *Config {
	cfg := &Config{
		Models: []ModelConfig{
			{Provider: ProviderAnthropic, Description: "Anthropic Claude"},
			{Provider: ProviderOpenAI, Description: "OpenAI GPT"},
			{Provider: ProviderGemini, Description: "Google Gemini"},
			{Provider: ProviderOllama, Description: "Local Ollama server"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Models {
		if cfg.Models[i].Model == "" {
			cfg.Models[i].Model = defaultModels[cfg.Models[i].Provider]
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Session.Capacity == 0 {
		cfg.Session.Capacity = 100
	}
	if cfg.History.MaxMessages == 0 {
		cfg.History.MaxMessages = 200
	}
	if cfg.History.MaxChars == 0 {
		cfg.History.MaxChars = 200000
	}
	if cfg.History.KeepRecent == 0 {
		cfg.History.KeepRecent = 10
	}
	if cfg.Tools.Mode == "" {
		cfg.Tools.Mode = "auto"
	}
}

// Validate rejects configurations naming unknown providers.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	for i, m := range c.Models {
		if _, ok := defaultModels[m.Provider]; !ok {
			return fmt.Errorf("config: models[%d]: unknown provider %q", i, m.Provider)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	switch c.Tools.Mode {
	case "auto", "readonly":
	default:
		return fmt.Errorf("config: unknown tools mode %q", c.Tools.Mode)
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("config: agent temperature %v out of range [0, 2]", c.Agent.Temperature)
	}
	if c.Agent.TopP < 0 || c.Agent.TopP > 1 {
		return fmt.Errorf("config: agent top_p %v out of range [0, 1]", c.Agent.TopP)
	}
	if c.Agent.MaxLoops < 0 || c.Agent.MaxTokens < 0 {
		return fmt.Errorf("config: agent limits must not be negative")
	}
	if c.Session.MaxTasks < 0 {
		return fmt.Errorf("config: session max_tasks must not be negative")
	}
	return nil
}

// Model returns the model at the given index, defaulting to the first
// entry when index is negative.
func (c *Config) Model(index int) (ModelConfig, error) {
	if index < 0 {
		index = 0
	}
	if index >= len(c.Models) {
		return ModelConfig{}, fmt.Errorf("config: model index %d out of range (have %d)", index, len(c.Models))
	}
	return c.Models[index], nil
}

// APIKey reads the provider's credential from the environment. The
// empty string for ollama is not an error: the local server needs none.
func APIKey(provider string) (string, error) {
	env, ok := apiKeyEnv[provider]
	if !ok {
		return "", nil
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("config: %s is not set; the %s provider cannot be initialized", env, provider)
	}
	return key, nil
}

// KeyEnvVar returns the environment variable holding the provider's
// credential, or the empty string when the provider needs none.
func KeyEnvVar(provider string) string {
	return apiKeyEnv[provider]
}
