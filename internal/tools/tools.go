// Package tools implements the built-in toolbox exposed to the model:
// filesystem inspection (Read, Glob, Grep, LS), filesystem mutation
// (Edit, Replace), and shell execution (Bash). Tools are registered in
// a Registry which validates call arguments against each tool's JSON
// schema before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool is implemented by every built-in tool.
type Tool interface {
	// Name returns the tool name used for dispatch. Matching is
	// case-sensitive.
	Name() string

	// Description returns a natural language description of what the
	// tool does. It is sent to the model alongside the schema.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. The params have already been validated
	// against Schema. On success the returned string is the tool
	// output shown to the model; on failure the error text is.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// ParseError marks a tool invocation whose arguments could not be
// decoded or did not satisfy the tool's schema. Callers report these
// separately from execution failures so the model can correct the
// call instead of retrying it as-is.
type ParseError struct {
	Tool string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Tool == "" {
		return e.Err.Error()
	}
	return e.Tool + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseError(tool string, format string, args ...any) *ParseError {
	return &ParseError{Tool: tool, Err: fmt.Errorf(format, args...)}
}

// maxToolOutput caps what a single tool run may hand back to the
// model. Oversized output wastes the context window and can push the
// request over provider limits.
const maxToolOutput = 100_000

// truncateOutput caps s at maxToolOutput bytes, cutting at a line
// boundary when possible and appending a marker with the elided size.
func truncateOutput(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	cut := maxToolOutput
	if idx := strings.LastIndexByte(s[:cut], '\n'); idx > 0 {
		cut = idx
	}
	return fmt.Sprintf("%s\n[output truncated: %d of %d bytes shown]", s[:cut], cut, len(s))
}

// splitLines splits s into lines without a trailing empty element for
// content that ends in a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
