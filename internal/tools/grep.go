package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const grepSchema = `{
	"type": "object",
	"properties": {
		"pattern": {
			"type": "string",
			"description": "Regular expression to search for."
		},
		"include": {
			"type": "string",
			"description": "Glob filter on file names, supporting brace alternatives like \"*.{rs,toml}\"."
		},
		"path": {
			"type": "string",
			"description": "Directory to search in. Defaults to the current directory."
		}
	},
	"required": ["pattern"]
}`

// Long minified lines still need to fit in the scanner buffer.
const grepMaxLineSize = 1 << 20

// GrepTool searches file contents with a regular expression.
type GrepTool struct{}

// NewGrepTool creates the Grep tool.
func NewGrepTool() *GrepTool {
	return &GrepTool{}
}

// Name returns the tool name.
func (t *GrepTool) Name() string {
	return "Grep"
}

// Description returns the tool description.
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression. Returns path:line:text for every matching line, with matches from the most recently modified files first."
}

// Schema returns the JSON schema for the tool arguments.
func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(grepSchema)
}

// Execute walks the search root and reports matching lines grouped by
// file.
func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Include string `json:"include"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return "", fmt.Errorf("compile pattern: %w", err)
	}

	base := input.Path
	if base == "" {
		base = "."
	}

	var includes []string
	if input.Include != "" {
		includes = expandBraces(input.Include)
	}

	type fileHits struct {
		mtime time.Time
		lines []string
	}
	var files []fileHits
	ignored := loadGitignore(base)

	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(base, p)
		if relErr != nil {
			rel = p
		}
		if d.IsDir() {
			if p == base {
				return nil
			}
			if skipDir(d.Name()) || ignored.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipFile(d.Name()) || ignored.Match(rel, false) {
			return nil
		}
		if includes != nil && !matchesName(includes, d.Name()) {
			return nil
		}

		hits, scanErr := grepFile(p, re)
		if scanErr != nil || len(hits) == 0 {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files = append(files, fileHits{mtime: info.ModTime(), lines: hits})
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("walk %s: %w", base, walkErr)
	}

	if len(files) == 0 {
		return "No matches found", nil
	}

	// Most recently modified file first; line order within a file.
	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})

	var b strings.Builder
	for _, f := range files {
		for _, line := range f.lines {
			b.WriteString(line + "\n")
		}
	}
	return truncateOutput(b.String()), nil
}

func grepFile(path string, re *regexp.Regexp) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hits []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), grepMaxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			hits = append(hits, fmt.Sprintf("%s:%d:%s", path, lineNum, line))
		}
	}
	if err := scanner.Err(); err != nil {
		return hits, err
	}
	return hits, nil
}
