package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rlneumiller/oli-sub000/internal/agent"
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "llama3.2"
	ollamaHTTPTimeout    = 300 * time.Second
)

// OllamaConfig holds the settings for creating an OllamaProvider. No
// API key is needed; the server is assumed to run locally.
type OllamaConfig struct {
	// BaseURL is the server address. Default: http://localhost:11434.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// Timeout bounds the whole HTTP exchange. Local models can be slow
	// to load, so the default is generous: 300 seconds.
	Timeout time.Duration

	// HTTPClient overrides the default client. Mainly for tests.
	HTTPClient *http.Client
}

// OllamaProvider talks to a local Ollama server. Many local models have
// no native function calling, so tools are offered through a synthesized
// system prompt instead: the prompt lists the available tools and asks
// the model to reply with {"tool": NAME, "args": {...}} when it wants to
// invoke one. The adapter lifts such replies back into tool calls and
// feeds tool results in as system messages.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOllamaProvider creates a provider from the given configuration.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = ollamaDefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = ollamaHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OllamaProvider{
		client:  client,
		baseURL: baseURL,
		model:   model,
	}
}

// Name returns the provider identifier used for routing and logging.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the model identifier this provider sends with requests.
func (p *OllamaProvider) Model() string {
	return p.model
}

// Complete sends the conversation and returns the assistant's text reply.
func (p *OllamaProvider) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	resp, err := p.CompleteWithTools(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools sends the conversation together with tool definitions
// and any tool results produced since the last assistant turn.
func (p *OllamaProvider) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	payload := p.buildRequest(messages, opts, prior)

	resp, err := p.send(ctx, payload)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp), nil
}

// ListModels queries the server for locally available model names.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, NewNetworkError("ollama", p.model, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewNetworkError("ollama", p.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProtocolError("ollama", p.model, strings.TrimSpace(string(body))).WithStatus(resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, NewProtocolError("ollama", p.model, fmt.Sprintf("unparseable tags response: %v", err))
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Wire types for the /api/chat and /api/tags endpoints.

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error"`
	EvalCount       int               `json:"eval_count"`
	PromptEvalCount int               `json:"prompt_eval_count"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ollamaToolInvocation is the reply shape the synthesized tool prompt
// asks the model to produce.
type ollamaToolInvocation struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// buildRequest converts the neutral conversation into an Ollama chat
// request. Tool definitions and the structured output schema travel as
// synthesized system messages; tool-role messages and the prior results
// batch become system messages carrying the tool output.
func (p *OllamaProvider) buildRequest(messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) ollamaChatRequest {
	converted := make([]ollamaChatMessage, 0, len(messages)+len(prior)+2)

	if len(opts.Tools) > 0 {
		converted = append(converted, ollamaChatMessage{Role: "system", Content: ollamaToolPrompt(opts.Tools, opts.RequireToolUse)})
	}
	if opts.JSONSchema != "" {
		converted = append(converted, ollamaChatMessage{Role: "system", Content: jsonObjectInstruction + "\n" + opts.JSONSchema})
	}

	for _, msg := range messages {
		if msg.Role == agent.RoleTool {
			converted = append(converted, ollamaChatMessage{Role: "system", Content: ollamaToolResultNote(msg.ToolCallID, msg.Content)})
			continue
		}
		converted = append(converted, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	for _, res := range prior {
		converted = append(converted, ollamaChatMessage{Role: "system", Content: ollamaToolResultNote(res.ToolCallID, res.Output)})
	}

	req := ollamaChatRequest{
		Model:    p.model,
		Messages: converted,
		Stream:   false,
	}

	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}

	return req
}

// ollamaToolPrompt renders the tool definitions into an instruction the
// model can follow without native function calling support.
func ollamaToolPrompt(defs []agent.ToolDefinition, required bool) string {
	var b strings.Builder
	b.WriteString("You can use the following tools. To use one, reply with a single JSON object of the form {\"tool\": TOOL_NAME, \"args\": {...}} and nothing else.\n")
	if required {
		b.WriteString("Your next reply must use one of the tools.\n")
	}
	b.WriteString("\nAvailable tools:\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		if len(def.Parameters) > 0 {
			fmt.Fprintf(&b, "  arguments schema: %s\n", string(def.Parameters))
		}
	}
	return b.String()
}

func ollamaToolResultNote(callID, output string) string {
	return fmt.Sprintf("Tool result for %s:\n%s", callID, output)
}

func (p *OllamaProvider) send(ctx context.Context, payload ollamaChatRequest) (*ollamaChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProtocolError("ollama", p.model, fmt.Sprintf("marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewNetworkError("ollama", p.model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewNetworkError("ollama", p.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProtocolError("ollama", p.model, strings.TrimSpace(string(errBody))).WithStatus(resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewProtocolError("ollama", p.model, fmt.Sprintf("unparseable response body: %v", err))
	}
	if parsed.Error != "" {
		return nil, NewProtocolError("ollama", p.model, parsed.Error)
	}

	return &parsed, nil
}

// parseResponse lifts a tool invocation out of the reply when the model
// followed the synthesized protocol. A reply that is nothing but the
// invocation object becomes a pure tool call with empty content; an
// invocation inside a fenced code block keeps the surrounding prose.
func (p *OllamaProvider) parseResponse(resp *ollamaChatResponse) *agent.CompletionResponse {
	out := &agent.CompletionResponse{
		Content: resp.Message.Content,
		Usage: agent.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}

	call, whole, ok := liftOllamaToolCall(resp.Message.Content)
	if ok {
		out.ToolCalls = []agent.ToolCall{call}
		if whole {
			out.Content = ""
		}
	}

	return out
}

// liftOllamaToolCall parses a {"tool": ..., "args": ...} invocation from
// the reply text. whole reports that the entire reply was the invocation.
func liftOllamaToolCall(text string) (call agent.ToolCall, whole, ok bool) {
	trimmed := strings.TrimSpace(text)

	candidate := trimmed
	whole = true
	if !strings.HasPrefix(candidate, "{") {
		candidate = extractFencedJSON(trimmed)
		whole = false
		if candidate == "" {
			return agent.ToolCall{}, false, false
		}
	}

	var inv ollamaToolInvocation
	if err := json.Unmarshal([]byte(candidate), &inv); err != nil || inv.Tool == "" {
		return agent.ToolCall{}, false, false
	}

	return agent.ToolCall{
		ID:        synthesizeCallID(inv.Tool),
		Name:      inv.Tool,
		Arguments: rawOrEmptyObject(inv.Args),
	}, whole, true
}

// extractFencedJSON returns the body of the first fenced code block that
// looks like a JSON object, or "".
func extractFencedJSON(text string) string {
	idx := strings.Index(text, "```")
	if idx < 0 {
		return ""
	}
	rest := text[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{}") {
		// Skip a language tag like "json" on the fence line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	body := strings.TrimSpace(rest[:end])
	if !strings.HasPrefix(body, "{") {
		return ""
	}
	return body
}
