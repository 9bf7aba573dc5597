package tasks

import (
	"strings"
	"unicode/utf8"
)

// PreviewLimit is the maximum length of result previews stored on
// tool executions and sent in progress notifications.
const PreviewLimit = 200

// Preview flattens s to a single line and truncates it for display in
// task and notification payloads.
func Preview(s string) string {
	return PreviewN(s, PreviewLimit)
}

// PreviewN is Preview with an explicit length limit.
func PreviewN(s string, limit int) string {
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
