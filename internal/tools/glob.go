package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const globSchema = `{
	"type": "object",
	"properties": {
		"pattern": {
			"type": "string",
			"description": "Glob pattern to match against paths relative to the search root, e.g. \"**/*.go\" or \"src/*.ts\"."
		},
		"path": {
			"type": "string",
			"description": "Directory to search in. Defaults to the current directory."
		}
	},
	"required": ["pattern"]
}`

// GlobTool finds files matching a glob pattern.
type GlobTool struct{}

// NewGlobTool creates the Glob tool.
func NewGlobTool() *GlobTool {
	return &GlobTool{}
}

// Name returns the tool name.
func (t *GlobTool) Name() string {
	return "Glob"
}

// Description returns the tool description.
func (t *GlobTool) Description() string {
	return "Find files whose path matches a glob pattern. Use \"**\" to match across directories. Generated and vendored directories and .gitignore'd paths are skipped. Results are sorted by modification time, newest first."
}

// Schema returns the JSON schema for the tool arguments.
func (t *GlobTool) Schema() json.RawMessage {
	return json.RawMessage(globSchema)
}

// Execute walks the search root and returns a numbered list of
// matching file paths.
func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", parseError(t.Name(), "decode arguments: %v", err)
	}

	base := input.Path
	if base == "" {
		base = "."
	}

	type match struct {
		path  string
		mtime time.Time
	}
	var matches []match
	ignored := loadGitignore(base)

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
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
		if !pathMatch(input.Pattern, filepath.ToSlash(rel)) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		matches = append(matches, match{path: p, mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", base, err)
	}

	if len(matches) == 0 {
		return "No files found matching pattern: " + input.Pattern, nil
	}

	// Most recently modified first.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].mtime.After(matches[j].mtime)
	})

	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.path)
	}
	return b.String(), nil
}
