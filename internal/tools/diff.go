package tools

import (
	"fmt"
	"strings"
)

const diffContextLines = 3

// unifiedDiff renders the change from before to after as a unified
// diff with a single hunk. Lines common to the start and end of both
// versions are reduced to context. Returns "" when nothing changed at
// the line level.
func unifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}

	oldLines := splitLines(before)
	newLines := splitLines(after)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	maxSuffix := len(oldLines) - prefix
	if n := len(newLines) - prefix; n < maxSuffix {
		maxSuffix = n
	}
	suffix := 0
	for suffix < maxSuffix && oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}
	if prefix == len(oldLines) && prefix == len(newLines) {
		return ""
	}

	headStart := prefix - diffContextLines
	if headStart < 0 {
		headStart = 0
	}
	tailLen := suffix
	if tailLen > diffContextLines {
		tailLen = diffContextLines
	}

	removed := oldLines[prefix : len(oldLines)-suffix]
	added := newLines[prefix : len(newLines)-suffix]
	headLen := prefix - headStart

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)
	fmt.Fprintf(&b, "@@ -%s +%s @@\n",
		hunkRange(headStart, headLen+len(removed)+tailLen),
		hunkRange(headStart, headLen+len(added)+tailLen))

	for _, line := range oldLines[headStart:prefix] {
		b.WriteString(" " + line + "\n")
	}
	for _, line := range removed {
		b.WriteString("-" + line + "\n")
	}
	for _, line := range added {
		b.WriteString("+" + line + "\n")
	}
	tailStart := len(oldLines) - suffix
	for _, line := range oldLines[tailStart : tailStart+tailLen] {
		b.WriteString(" " + line + "\n")
	}
	return b.String()
}

// hunkRange formats a unified diff range, using the 0-anchored form
// for empty ranges the way diff does for pure insertions.
func hunkRange(start, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", start)
	}
	return fmt.Sprintf("%d,%d", start+1, count)
}
