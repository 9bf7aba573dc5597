package tasks

import (
	"strings"
	"testing"
)

func TestPreviewFlattensWhitespace(t *testing.T) {
	got := Preview("  line one\n\tline two   line three  ")
	if got != "line one line two line three" {
		t.Errorf("Preview = %q", got)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("a", PreviewLimit+50)
	got := Preview(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated preview missing ellipsis: %q", got)
	}
	if len(got) != PreviewLimit+3 {
		t.Errorf("preview length = %d", len(got))
	}
}

func TestPreviewNShortStringUnchanged(t *testing.T) {
	if got := PreviewN("short", 10); got != "short" {
		t.Errorf("PreviewN = %q", got)
	}
}

func TestPreviewNMultibyte(t *testing.T) {
	got := PreviewN("日本語のテキストです", 4)
	if got != "日本語の..." {
		t.Errorf("PreviewN = %q", got)
	}
}

func TestPreviewEmpty(t *testing.T) {
	if got := Preview(""); got != "" {
		t.Errorf("Preview(\"\") = %q", got)
	}
}
