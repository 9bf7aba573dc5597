package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const lsSchema = `{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"description": "Directory to list."
		},
		"ignore": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Glob patterns for entry names to omit from the listing."
		}
	},
	"required": ["path"]
}`

// LSTool enumerates the immediate children of a directory.
type LSTool struct{}

// NewLSTool creates the LS tool.
func NewLSTool() *LSTool {
	return &LSTool{}
}

// Name returns the tool name.
func (t *LSTool) Name() string {
	return "LS"
}

// Description returns the tool description.
func (t *LSTool) Description() string {
	return "List the immediate children of a directory, marking each entry as a file or a directory."
}

// Schema returns the JSON schema for the tool arguments.
func (t *LSTool) Schema() json.RawMessage {
	return json.RawMessage(lsSchema)
}

// Execute lists the directory.
func (t *LSTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Path   string   `json:"path"`
		Ignore []string `json:"ignore"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	entries, err := os.ReadDir(input.Path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", input.Path, err)
	}

	var b strings.Builder
	n := 0
	for _, entry := range entries {
		if matchesName(input.Ignore, entry.Name()) {
			continue
		}
		marker := "[FILE]"
		if entry.IsDir() {
			marker = "[DIR]"
		}
		n++
		fmt.Fprintf(&b, "%d. %s %s\n", n, marker, entry.Name())
	}
	return b.String(), nil
}
