package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const bashSchema = `{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "Shell command to execute with sh -c."
		},
		"timeout": {
			"type": "integer",
			"minimum": 0,
			"description": "Timeout in milliseconds. Defaults to 120000."
		}
	},
	"required": ["command"]
}`

const defaultBashTimeout = 120 * time.Second

// BashTool runs shell commands.
type BashTool struct {
	shell string
}

// NewBashTool creates the Bash tool.
func NewBashTool() *BashTool {
	return &BashTool{shell: "sh"}
}

// Name returns the tool name.
func (t *BashTool) Name() string {
	return "Bash"
}

// Description returns the tool description.
func (t *BashTool) Description() string {
	return "Execute a shell command. Returns stdout on success; a command that exits non-zero returns a report with the exit code, stdout, and stderr."
}

// Schema returns the JSON schema for the tool arguments.
func (t *BashTool) Schema() json.RawMessage {
	return json.RawMessage(bashSchema)
}

// Execute runs the command under sh -c. A non-zero exit is reported
// in the output rather than as an error so the model can react to it.
func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	timeout := defaultBashTimeout
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.shell, "-c", input.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		var b strings.Builder
		fmt.Fprintf(&b, "Command exited with code %d.\n", exitErr.ExitCode())
		fmt.Fprintf(&b, "\nstdout:\n%s", stdout.String())
		fmt.Fprintf(&b, "\nstderr:\n%s", stderr.String())
		return truncateOutput(b.String()), nil
	}
	if err != nil {
		return "", fmt.Errorf("run command: %w", err)
	}

	return truncateOutput(stdout.String()), nil
}
