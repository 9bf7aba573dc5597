package tools

import (
	"path"
	"strings"
)

// Directory names skipped during Glob and Grep traversal. These hold
// generated or vendored content that drowns out useful matches.
var ignoredDirNames = []string{
	"target",
	"node_modules",
	".git",
	".svn",
	".hg",
	"dist",
	"build",
	"__pycache__",
	".cache",
	".pytest_cache",
	".mypy_cache",
	"venv",
	".venv",
	".idea",
	".vscode",
	"vendor",
	".next",
	".nuxt",
	"coverage",
	".terraform",
	".gradle",
}

// File suffixes treated as binary or minified and skipped during
// traversal.
var skippedSuffixes = []string{
	".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".obj", ".a", ".rlib",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".webp", ".bmp",
	".pdf", ".zip", ".tar", ".gz", ".bz2", ".xz", ".7z", ".rar",
	".mp3", ".mp4", ".avi", ".mov", ".wav", ".flac",
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	".pyc", ".pyo", ".class", ".jar", ".wasm",
	".db", ".sqlite", ".sqlite3",
	".min.js", ".min.css",
}

func skipDir(name string) bool {
	for _, dir := range ignoredDirNames {
		if name == dir {
			return true
		}
	}
	return false
}

func skipFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// expandBraces expands {a,b} alternatives into separate patterns, so
// "*.{rs,toml}" becomes ["*.rs", "*.toml"]. Patterns without braces
// are returned unchanged.
func expandBraces(pattern string) []string {
	open := strings.Index(pattern, "{")
	if open < 0 {
		return []string{pattern}
	}
	end := strings.Index(pattern[open:], "}")
	if end < 0 {
		return []string{pattern}
	}
	end += open

	prefix, body, suffix := pattern[:open], pattern[open+1:end], pattern[end+1:]
	var out []string
	for _, alt := range strings.Split(body, ",") {
		out = append(out, expandBraces(prefix+alt+suffix)...)
	}
	return out
}

// pathMatch reports whether the slash-separated relative path matches
// pattern. Segments are matched with path.Match semantics; a "**"
// segment matches any number of intermediate directories. Brace
// alternatives are expanded before matching.
func pathMatch(pattern, relPath string) bool {
	relPath = strings.TrimPrefix(relPath, "./")
	parts := strings.Split(relPath, "/")
	for _, p := range expandBraces(pattern) {
		if matchSegments(strings.Split(p, "/"), parts) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], parts) {
			return true
		}
		for i := range parts {
			if matchSegments(pattern[1:], parts[i+1:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// matchesName reports whether a file's base name matches any of the
// expanded include patterns.
func matchesName(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
