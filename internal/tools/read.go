package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const readSchema = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "Absolute path to the file to read."
		},
		"offset": {
			"type": "integer",
			"minimum": 0,
			"description": "Line to start reading from, 0-based."
		},
		"limit": {
			"type": "integer",
			"minimum": 0,
			"description": "Maximum number of lines to return. Zero reads to the end of the file."
		}
	},
	"required": ["file_path"]
}`

// ReadTool returns file content with 1-based line numbers.
type ReadTool struct{}

// NewReadTool creates the Read tool.
func NewReadTool() *ReadTool {
	return &ReadTool{}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "Read"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a file from the filesystem. Each returned line is prefixed with its 1-based line number. Supports an optional 0-based line offset and a line limit."
}

// Schema returns the JSON schema for the tool arguments.
func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(readSchema)
}

// Execute reads the file. An offset at or past the last line yields
// an empty result rather than an error.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	data, err := os.ReadFile(input.FilePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", input.FilePath, err)
	}

	lines := splitLines(string(data))
	if input.Offset >= len(lines) {
		return "", nil
	}

	end := len(lines)
	if input.Limit > 0 && input.Offset+input.Limit < end {
		end = input.Offset + input.Limit
	}

	var b strings.Builder
	for i, line := range lines[input.Offset:end] {
		fmt.Fprintf(&b, "%6d\t%s\n", input.Offset+i+1, line)
	}
	return b.String(), nil
}
