package agent

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// PromptSection is a labeled block appended to the system prompt.
type PromptSection struct {
	Label   string
	Content string
}

// PromptOptions holds the dynamic parts of the system prompt.
type PromptOptions struct {
	// WorkingDir is reported to the model in the environment block.
	WorkingDir string

	// Extra is free-form operator text placed before the standard
	// instructions, typically from the config file.
	Extra string

	// Sections are appended after the environment block.
	Sections []PromptSection

	// Now supplies the date in the environment block. Zero means
	// time.Now.
	Now time.Time
}

const baseInstructions = `You are a coding agent working in the user's repository. You complete
tasks by calling the provided tools: read and search files before
editing them, prefer Edit for targeted changes and Replace for whole
files, and use Bash for builds, tests, and other shell work. Keep tool
arguments exact; file paths are relative to the working directory
unless absolute. When the task is done, reply with a plain-text
summary of what changed.`

const safetyInstructions = `Avoid destructive actions unless explicitly requested. Do not leak
credentials or other secrets found in the repository.
Be concise and direct; ask for clarification when requirements are ambiguous.`

// BuildSystemPrompt assembles the default system prompt from the base
// agent instructions, an environment block, and any extra sections.
func BuildSystemPrompt(opts PromptOptions) string {
	lines := make([]string, 0, 6+len(opts.Sections))

	if extra := strings.TrimSpace(opts.Extra); extra != "" {
		lines = append(lines, extra)
	}
	lines = append(lines, baseInstructions)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	env := []string{
		"platform: " + runtime.GOOS + "/" + runtime.GOARCH,
		"date: " + now.Format("2006-01-02"),
	}
	if dir := strings.TrimSpace(opts.WorkingDir); dir != "" {
		env = append([]string{"working directory: " + dir}, env...)
	}
	lines = append(lines, "Environment:\n"+strings.Join(env, "\n"))

	for _, section := range normalizeSections(opts.Sections) {
		lines = append(lines, fmt.Sprintf("%s:\n%s", section.Label, section.Content))
	}

	lines = append(lines, safetyInstructions)
	return strings.TrimSpace(strings.Join(lines, "\n\n"))
}

func normalizeSections(sections []PromptSection) []PromptSection {
	if len(sections) == 0 {
		return nil
	}
	out := make([]PromptSection, 0, len(sections))
	for _, section := range sections {
		label := strings.TrimSpace(section.Label)
		content := strings.TrimSpace(section.Content)
		if label == "" || content == "" {
			continue
		}
		out = append(out, PromptSection{Label: label, Content: content})
	}
	return out
}
