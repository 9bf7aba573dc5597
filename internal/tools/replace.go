package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const replaceSchema = `{
	"type": "object",
	"properties": {
		"file_path": {
			"type": "string",
			"description": "Path of the file to write. Parent directories are created as needed."
		},
		"content": {
			"type": "string",
			"description": "Full new content of the file."
		}
	},
	"required": ["file_path", "content"]
}`

// ReplaceTool overwrites a file with new content.
type ReplaceTool struct{}

// NewReplaceTool creates the Replace tool.
func NewReplaceTool() *ReplaceTool {
	return &ReplaceTool{}
}

// Name returns the tool name.
func (t *ReplaceTool) Name() string {
	return "Replace"
}

// Description returns the tool description.
func (t *ReplaceTool) Description() string {
	return "Write a file, creating it and any missing parent directories. Returns a unified diff against the previous content."
}

// Schema returns the JSON schema for the tool arguments.
func (t *ReplaceTool) Schema() json.RawMessage {
	return json.RawMessage(replaceSchema)
}

// Execute writes the file and renders the change as a diff against
// what was there before. New files diff against empty content.
func (t *ReplaceTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	previous := ""
	mode := fs.FileMode(0o644)
	if data, err := os.ReadFile(input.FilePath); err == nil {
		previous = string(data)
		if info, statErr := os.Stat(input.FilePath); statErr == nil {
			mode = info.Mode()
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", input.FilePath, err)
	}

	if dir := filepath.Dir(input.FilePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create directories for %s: %w", input.FilePath, err)
		}
	}
	if err := os.WriteFile(input.FilePath, []byte(input.Content), mode); err != nil {
		return "", fmt.Errorf("write %s: %w", input.FilePath, err)
	}

	return unifiedDiff(input.FilePath, previous, input.Content), nil
}
