// Package agent contains the neutral conversation model and the multi-turn
// execution loop that mediates between a user query, an LLM provider, and
// the local toolbox.
//
// The types here are provider-agnostic: adapters in the providers
// subpackage translate them to and from each vendor's wire format.
package agent

import "encoding/json"

// Message roles. Tool-role messages carry a ToolCallID referring to a tool
// call previously emitted by an assistant message in the same session.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a conversation.
type Message struct {
	// Role is one of system, user, assistant, or tool.
	Role string `json:"role"`

	// Content is the text body. May be empty for assistant messages that
	// only carry tool calls.
	Content string `json:"content,omitempty"`

	// ToolCallID links a tool-role message to the assistant tool call it
	// answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls holds tool execution requests emitted by an assistant
	// message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// ToolCall is a structured request from the model to run a registered tool.
//
// ID is optional: some providers do not supply one, in which case the
// executor correlates results by position instead. When present, the ID is
// unique within a single assistant response.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the textual reply to a prior tool call, fed back to the
// model on the next turn. Output may be error text; error results are still
// ordinary results from the provider's point of view.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolDefinition describes one tool to a provider. Parameters is a JSON
// Schema object; adapters must respect its required list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionOptions carries the per-request generation parameters.
// Zero values mean "unset": adapters omit unset fields from the wire
// request and let the provider default apply.
type CompletionOptions struct {
	// Temperature controls sampling randomness, typically 0..1.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling cutoff.
	TopP float64 `json:"top_p,omitempty"`

	// MaxTokens caps the length of the generated reply.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Tools are the definitions offered to the model for this request.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// RequireToolUse forces the model to answer with a tool call where the
	// provider supports it ("required"/"any" tool choice).
	RequireToolUse bool `json:"require_tool_use,omitempty"`

	// JSONSchema, when non-empty, is a JSON Schema the reply must conform
	// to. Used by the executor for completion-check turns.
	JSONSchema string `json:"json_schema,omitempty"`
}

// Usage reports token accounting for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// CompletionResponse is the neutral result of one provider call.
// ToolCalls is nil when the model produced none; adapters normalize an
// empty list to nil.
type CompletionResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// HasToolCalls reports whether the response requests any tool executions.
func (r *CompletionResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
