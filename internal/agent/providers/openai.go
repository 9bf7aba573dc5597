package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/backoff"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIConfig holds the settings for creating an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API (required).
	APIKey string

	// BaseURL overrides the default API endpoint. Useful for proxies
	// and OpenAI-compatible servers.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// MaxRetries bounds retry attempts for retryable failures. Default: 3.
	MaxRetries int

	// Backoff controls the delay between retry attempts.
	Backoff backoff.Policy
}

// OpenAIProvider talks to OpenAI's chat completions API. Unlike the
// Anthropic backend it supports structured output natively through the
// json_schema response format, so schema requests do not need a prompt
// instruction.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	backoff    backoff.Policy
}

// NewOpenAIProvider creates a provider from the given configuration.
// It returns an error when the API key is missing.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the model identifier this provider sends with requests.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete sends the conversation and returns the assistant's text reply.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	resp, err := p.CompleteWithTools(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools sends the conversation together with tool definitions
// and any tool results produced since the last assistant turn.
func (p *OpenAIProvider) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	req := p.buildRequest(messages, opts, prior)

	resp, err := p.send(ctx, req)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

func (p *OpenAIProvider) send(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		wrapped := p.wrapError(err)
		if !IsRetryable(wrapped) {
			return openai.ChatCompletionResponse{}, wrapped
		}
		lastErr = wrapped

		if attempt < p.maxRetries {
			if err := backoff.Sleep(ctx, p.backoff.Delay(attempt)); err != nil {
				return openai.ChatCompletionResponse{}, err
			}
		}
	}

	return openai.ChatCompletionResponse{}, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
}

// buildRequest converts the neutral conversation into an OpenAI chat
// completion request. System messages stay inline at their position in
// the message array, tool-role messages become tool messages linked by
// ToolCallID, and the prior results batch is appended as one tool
// message per result.
func (p *OpenAIProvider) buildRequest(messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages)+len(prior))

	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			converted = append(converted, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case agent.RoleUser:
			converted = append(converted, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})

		case agent.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			converted = append(converted, oaiMsg)

		case agent.RoleTool:
			converted = append(converted, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}

	for _, res := range prior {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    res.Output,
			ToolCallID: res.ToolCallID,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  converted,
		MaxTokens: maxTokensOrDefault(opts.MaxTokens),
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.TopP > 0 {
		req.TopP = float32(opts.TopP)
	}

	if len(opts.Tools) > 0 {
		req.Tools = convertOpenAITools(opts.Tools)
		if opts.RequireToolUse {
			req.ToolChoice = "required"
		} else {
			req.ToolChoice = "auto"
		}
	}

	if opts.JSONSchema != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: json.RawMessage(opts.JSONSchema),
				Strict: false,
			},
		}
	}

	return req
}

// convertOpenAITools converts neutral tool definitions to OpenAI function
// definitions. A malformed schema degrades to an empty object schema so
// one bad tool does not break function calling for the rest.
func convertOpenAITools(defs []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))

	for i, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse) (*agent.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, NewProtocolError("openai", p.model, "response contained no choices")
	}

	choice := resp.Choices[0].Message
	out := &agent.CompletionResponse{
		Content: choice.Content,
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range choice.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return out, nil
}

// wrapError classifies a go-openai error into a ProviderError. The
// library reports API failures as *openai.APIError and transport or
// decoding failures as *openai.RequestError.
func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := NewNetworkError("openai", p.model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			perr = perr.WithCode(code)
		} else if apiErr.Type != "" {
			perr = perr.WithCode(apiErr.Type)
		}
		if apiErr.Message != "" {
			perr = perr.WithMessage(apiErr.Message)
		}
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewNetworkError("openai", p.model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewNetworkError("openai", p.model, err)
}
