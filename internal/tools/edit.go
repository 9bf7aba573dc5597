package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const editSchema = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "Path of the file to edit."
		},
		"old_string": {
			"type": "string",
			"description": "Exact text to replace. Must occur exactly once in the file."
		},
		"new_string": {
			"type": "string",
			"description": "Replacement text."
		}
	},
	"required": ["file_path", "old_string", "new_string"]
}`

// EditTool replaces a unique occurrence of text in a file.
type EditTool struct{}

// NewEditTool creates the Edit tool.
func NewEditTool() *EditTool {
	return &EditTool{}
}

// Name returns the tool name.
func (t *EditTool) Name() string {
	return "Edit"
}

// Description returns the tool description.
func (t *EditTool) Description() string {
	return "Replace a string in a file. The old string must occur exactly once; the call fails otherwise. Returns a unified diff of the change."
}

// Schema returns the JSON schema for the tool arguments.
func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(editSchema)
}

// Execute applies the replacement and renders the change as a diff.
func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		FilePath  string `json:"file_path"`
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}
	if input.OldString == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}

	data, err := os.ReadFile(input.FilePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", input.FilePath, err)
	}
	content := string(data)

	count := strings.Count(content, input.OldString)
	if count != 1 {
		return "", fmt.Errorf("old_string appears %d times in %s, expected exactly one occurrence", count, input.FilePath)
	}

	updated := strings.Replace(content, input.OldString, input.NewString, 1)

	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(input.FilePath); statErr == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(input.FilePath, []byte(updated), mode); err != nil {
		return "", fmt.Errorf("write %s: %w", input.FilePath, err)
	}

	return unifiedDiff(input.FilePath, content, updated), nil
}
