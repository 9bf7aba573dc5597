package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolParamsSize caps the accepted size of tool argument JSON.
const MaxToolParamsSize = 10 << 20

// Registry manages the available tools with thread-safe registration
// and lookup. Each tool's schema is compiled at registration time so
// arguments can be validated before dispatch.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	order   []string
}

type registryEntry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// DefaultRegistry creates a registry with the full built-in toolbox.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	builtins := []Tool{
		NewReadTool(),
		NewGlobTool(),
		NewGrepTool(),
		NewLSTool(),
		NewEditTool(),
		NewReplaceTool(),
		NewBashTool(),
	}
	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool, compiling its schema. A tool with the same
// name replaces the previous registration.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	schema, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = registryEntry{tool: tool, schema: schema}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry.tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.entries[name].tool)
	}
	return tools
}

// Execute validates params against the named tool's schema and runs
// the tool. Unknown names, malformed JSON, and schema violations are
// returned as *ParseError; any other error comes from the tool itself.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", parseError(name, "unknown tool %q", name)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if len(params) > MaxToolParamsSize {
		return "", parseError(name, "arguments exceed %d bytes", MaxToolParamsSize)
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return "", parseError(name, "decode arguments: %v", err)
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return "", &ParseError{Tool: name, Err: err}
	}

	return entry.tool.Execute(ctx, params)
}
