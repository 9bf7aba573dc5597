package tools

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed .gitignore line.
type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// ignoreSet holds the rules from a repository root .gitignore. Later
// rules win over earlier ones, matching git's evaluation order.
type ignoreSet struct {
	rules []ignoreRule
}

// loadGitignore reads root/.gitignore if present. A missing or
// unreadable file yields an empty set, which ignores nothing.
func loadGitignore(root string) *ignoreSet {
	set := &ignoreSet{}
	file, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return set
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if rule, ok := parseIgnoreLine(scanner.Text()); ok {
			set.rules = append(set.rules, rule)
		}
	}
	return set
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	var rule ignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		rule.anchored = true
		line = line[1:]
	} else if strings.Contains(line, "/") {
		// A separator anywhere in the pattern anchors it to the root,
		// same as git.
		rule.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}
	rule.pattern = line
	return rule, true
}

// Match reports whether the slash-separated path relative to the
// ignore root is excluded. Directories are matched with isDir true so
// that "build/" style rules apply only to them.
func (s *ignoreSet) Match(relPath string, isDir bool) bool {
	if len(s.rules) == 0 {
		return false
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "./")

	ignored := false
	for _, rule := range s.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		if rule.matches(relPath) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(relPath string) bool {
	if r.anchored {
		return pathMatch(r.pattern, relPath)
	}
	// Unanchored patterns match the base name at any depth, or any
	// whole path suffix for multi-segment patterns.
	base := path.Base(relPath)
	if ok, err := path.Match(r.pattern, base); err == nil && ok {
		return true
	}
	return pathMatch("**/"+r.pattern, relPath)
}
