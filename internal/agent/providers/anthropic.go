// Package providers implements the LLM backends the agent executor runs
// against. Each provider converts the neutral message, tool and option
// types from the agent package into its own wire format, performs the
// HTTP round trip with retries, and converts the reply back.
//
// Four backends are supported: Anthropic's Claude API (official SDK),
// OpenAI's chat completions API, Google's Gemini generateContent API and
// a local Ollama server. All of them classify failures into
// ProviderError values so the caller can tell retryable conditions
// (rate limits, server errors, timeouts) from permanent ones.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/backoff"
)

const (
	// anthropicDefaultModel is used when the configuration does not name one.
	anthropicDefaultModel = "claude-sonnet-4-20250514"

	// defaultMaxTokens caps the completion length when the request does not
	// set one. Shared by all providers in this package.
	defaultMaxTokens = 4096

	// defaultMaxRetries bounds retry attempts for transient failures.
	defaultMaxRetries = 3
)

// jsonObjectInstruction is appended to the system prompt when the caller
// requests structured output. The Claude API has no response_format
// parameter, so the schema travels as an instruction instead.
const jsonObjectInstruction = "You must respond with a single JSON object that conforms to the following JSON Schema. Do not include any text outside the JSON object."

// AnthropicConfig holds the settings for creating an AnthropicProvider.
// Only APIKey is required; the remaining fields default to sensible
// values in NewAnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the default API endpoint. Useful for proxies
	// and test servers.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// MaxRetries bounds retry attempts for retryable failures. Default: 3.
	MaxRetries int

	// Backoff controls the delay between retry attempts.
	Backoff backoff.Policy
}

// AnthropicProvider talks to Anthropic's Claude API through the official
// SDK. It supports tool use, prompt cache hints and structured output
// via a schema instruction in the system prompt.
//
// The provider is stateless apart from its configuration and is safe
// for concurrent use.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	maxRetries int
	backoff    backoff.Policy
}

// NewAnthropicProvider creates a provider from the given configuration.
// It returns an error when the API key is missing.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the model identifier this provider sends with requests.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Complete sends the conversation and returns the assistant's text reply.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	resp, err := p.CompleteWithTools(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools sends the conversation together with tool definitions
// and any tool results produced since the last assistant turn. The reply
// carries the assistant's text and any tool calls it requested.
func (p *AnthropicProvider) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	params, err := p.buildRequest(messages, opts, prior)
	if err != nil {
		return nil, err
	}

	msg, err := p.send(ctx, params)
	if err != nil {
		return nil, err
	}

	return parseAnthropicResponse(msg), nil
}

// send performs the API call with retries for transient failures.
func (p *AnthropicProvider) send(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		msg, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}

		wrapped := p.wrapError(err)
		if !IsRetryable(wrapped) {
			return nil, wrapped
		}
		lastErr = wrapped

		if attempt < p.maxRetries {
			if err := backoff.Sleep(ctx, p.backoff.Delay(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

// buildRequest converts the neutral conversation into Anthropic API
// parameters.
//
// System messages are collected into the dedicated system field rather
// than the message array. Tool-role messages and the prior results batch
// become user messages carrying tool_result blocks, which is how the
// Claude API expects tool output to come back. Cache hints are attached
// to the system prompt, the two most recent user messages and the last
// tool definition so that the stable prefix of long agent conversations
// is served from the prompt cache.
func (p *AnthropicProvider) buildRequest(messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (anthropic.MessageNewParams, error) {
	system := systemText(messages)
	if opts.JSONSchema != "" {
		system = joinSections(system, jsonObjectInstruction+"\n"+opts.JSONSchema)
	}

	lastUser, prevUser := lastTwoUserIndices(messages)

	converted := make([]anthropic.MessageParam, 0, len(messages)+1)
	for i, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			// Handled above via params.System.
			continue

		case agent.RoleUser:
			block := anthropic.NewTextBlock(msg.Content)
			if (i == lastUser || i == prevUser) && block.OfText != nil {
				block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			converted = append(converted, anthropic.NewUserMessage(block))

		case agent.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(call.ID, toolCallInput(call.Arguments), call.Name))
			}
			if len(content) == 0 {
				continue
			}
			converted = append(converted, anthropic.NewAssistantMessage(content...))

		case agent.RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}

	if len(prior) > 0 {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(prior))
		for _, res := range prior {
			blocks = append(blocks, anthropic.NewToolResultBlock(res.ToolCallID, res.Output, false))
		}
		converted = append(converted, anthropic.NewUserMessage(blocks...))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens)),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type:         "text",
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}

	if len(opts.Tools) > 0 {
		tools, err := convertAnthropicTools(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools

		if opts.RequireToolUse {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return params, nil
}

// convertAnthropicTools converts neutral tool definitions to the SDK's
// tool parameters. The last tool carries a cache hint because tool
// definitions form a stable request prefix.
func convertAnthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))

	for i, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", def.Name, err)
		}

		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid definition for tool %s", def.Name)
		}
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		if i == len(defs)-1 {
			tool.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}

		result = append(result, tool)
	}

	return result, nil
}

// parseAnthropicResponse flattens the reply's content blocks into text
// and tool calls.
func parseAnthropicResponse(msg *anthropic.Message) *agent.CompletionResponse {
	resp := &agent.CompletionResponse{}
	if msg == nil {
		return resp
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	resp.Content = text.String()
	resp.Usage = agent.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	return resp
}

// anthropicErrorPayload mirrors the error body returned by the API.
type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError classifies an SDK error into a ProviderError. API errors
// carry an HTTP status and a JSON body with a machine-readable type;
// both feed the retry decision. Anything else is treated as a network
// failure.
func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewNetworkError("anthropic", p.model, err)
	}

	perr := NewNetworkError("anthropic", p.model, err).WithStatus(apiErr.StatusCode)

	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Type != "" {
			perr = perr.WithCode(payload.Error.Type)
		}
		if payload.Error.Message != "" {
			perr = perr.WithMessage(payload.Error.Message)
		}
		if payload.RequestID != "" {
			perr = perr.WithRequestID(payload.RequestID)
		}
	}

	return perr
}

// systemText joins the content of all system messages.
func systemText(messages []agent.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == agent.RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// lastTwoUserIndices returns the indices of the two most recent
// user-role messages, or -1 when there are fewer than two.
func lastTwoUserIndices(messages []agent.Message) (last, prev int) {
	last, prev = -1, -1
	for i, msg := range messages {
		if msg.Role == agent.RoleUser {
			prev = last
			last = i
		}
	}
	return last, prev
}

// toolCallInput returns the raw arguments, defaulting to an empty
// object so a nil payload never serializes as null.
func toolCallInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// joinSections concatenates two prompt sections with a blank line.
func joinSections(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
