package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func touchTestFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestReadNumbersLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poem.txt")
	writeTestFile(t, path, "alpha\nbeta\ngamma\n")

	params, _ := json.Marshal(map[string]interface{}{"file_path": path})
	out, err := NewReadTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	want := "     1\talpha\n     2\tbeta\n     3\tgamma\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestReadOffsetAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poem.txt")
	writeTestFile(t, path, "alpha\nbeta\ngamma\n")

	params, _ := json.Marshal(map[string]interface{}{
		"file_path": path,
		"offset":    1,
		"limit":     1,
	})
	out, err := NewReadTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if want := "     2\tbeta\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestReadOffsetPastEndIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.txt")
	writeTestFile(t, path, "only line\n")

	params, _ := json.Marshal(map[string]interface{}{
		"file_path": path,
		"offset":    10,
	})
	out, err := NewReadTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, want empty", out)
	}
}

func TestReadMissingFile(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"file_path": filepath.Join(t.TempDir(), "absent.txt"),
	})
	if _, err := NewReadTool().Execute(t.Context(), params); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGlobMatchesRecursively(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.go")
	newer := filepath.Join(dir, "sub", "b.go")
	writeTestFile(t, older, "package a\n")
	writeTestFile(t, newer, "package b\n")
	writeTestFile(t, filepath.Join(dir, "node_modules", "c.go"), "ignored\n")
	touchTestFile(t, older, time.Now().Add(-2*time.Hour))
	touchTestFile(t, newer, time.Now().Add(-1*time.Hour))

	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "**/*.go",
		"path":    dir,
	})
	out, err := NewGlobTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if strings.Contains(out, "node_modules") {
		t.Errorf("output includes ignored directory: %q", out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d matches, want 2: %q", len(lines), out)
	}
	if want := "1. " + newer; lines[0] != want {
		t.Errorf("first match = %q, want %q (newest first)", lines[0], want)
	}
	if want := "2. " + older; lines[1] != want {
		t.Errorf("second match = %q, want %q", lines[1], want)
	}
}

func TestGlobTopLevelPattern(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.go"), "package a\n")
	writeTestFile(t, filepath.Join(dir, "sub", "b.go"), "package b\n")

	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "*.go",
		"path":    dir,
	})
	out, err := NewGlobTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if !strings.Contains(out, "a.go") {
		t.Errorf("output missing top-level match: %q", out)
	}
	if strings.Contains(out, "b.go") {
		t.Errorf("top-level pattern matched nested file: %q", out)
	}
}

func TestGlobNoMatches(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "*.zig",
		"path":    t.TempDir(),
	})
	out, err := NewGlobTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if want := "No files found matching pattern: *.zig"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestGrepReportsPathLineText(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.txt")
	second := filepath.Join(dir, "sub", "two.txt")
	writeTestFile(t, first, "first\nneedle here\n")
	writeTestFile(t, second, "needle tip\n")
	writeTestFile(t, filepath.Join(dir, "node_modules", "x.txt"), "needle hidden\n")
	touchTestFile(t, first, time.Now().Add(-1*time.Hour))
	touchTestFile(t, second, time.Now().Add(-2*time.Hour))

	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "needle",
		"path":    dir,
	})
	out, err := NewGrepTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if strings.Contains(out, "node_modules") {
		t.Errorf("output includes ignored directory: %q", out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d matches, want 2: %q", len(lines), out)
	}
	if want := first + ":2:needle here"; lines[0] != want {
		t.Errorf("first match = %q, want %q (newest file first)", lines[0], want)
	}
	if want := second + ":1:needle tip"; lines[1] != want {
		t.Errorf("second match = %q, want %q", lines[1], want)
	}
}

func TestGrepIncludeFilter(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "lib.rs"), "needle\n")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "needle\n")

	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "needle",
		"include": "*.{rs,toml}",
		"path":    dir,
	})
	out, err := NewGrepTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if !strings.Contains(out, "lib.rs") {
		t.Errorf("output missing included file: %q", out)
	}
	if strings.Contains(out, "notes.txt") {
		t.Errorf("include filter leaked other files: %q", out)
	}
}

func TestGrepNoMatches(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.txt"), "nothing to see\n")

	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "zebra",
		"path":    dir,
	})
	out, err := NewGrepTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("grep failed: %v", err)
	}
	if want := "No matches found"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestGrepBadPattern(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"pattern": "(",
		"path":    t.TempDir(),
	})
	_, err := NewGrepTool().Execute(t.Context(), params)
	if err == nil || !strings.Contains(err.Error(), "compile pattern") {
		t.Fatalf("err = %v, want compile error", err)
	}
}

func TestLSMarksEntries(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "main.go"), "package main\n")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "notes\n")
	if err := os.Mkdir(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	params, _ := json.Marshal(map[string]interface{}{"path": dir})
	out, err := NewLSTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("ls failed: %v", err)
	}
	want := "1. [FILE] main.go\n2. [FILE] notes.txt\n3. [DIR] pkg\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestLSIgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "main.go"), "package main\n")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "notes\n")

	params, _ := json.Marshal(map[string]interface{}{
		"path":   dir,
		"ignore": []string{"*.txt"},
	})
	out, err := NewLSTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("ls failed: %v", err)
	}
	if want := "1. [FILE] main.go\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestLSMissingDirectory(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "absent"),
	})
	if _, err := NewLSTool().Execute(t.Context(), params); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestEditReplacesUniqueOccurrence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.txt")
	writeTestFile(t, path, "host = localhost\nport = 8080\n")

	params, _ := json.Marshal(map[string]interface{}{
		"file_path":  path,
		"old_string": "port = 8080",
		"new_string": "port = 9090",
	})
	out, err := NewEditTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if !strings.Contains(out, "-port = 8080") || !strings.Contains(out, "+port = 9090") {
		t.Errorf("diff missing change: %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if want := "host = localhost\nport = 9090\n"; string(data) != want {
		t.Errorf("file = %q, want %q", string(data), want)
	}
}

func TestEditOccurrenceCountErrors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		oldString string
		wantErr   string
	}{
		{"zero occurrences", "alpha\nbeta\n", "gamma", "appears 0 times"},
		{"two occurrences", "same\nsame\n", "same", "appears 2 times"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "file.txt")
			writeTestFile(t, path, tt.content)

			params, _ := json.Marshal(map[string]interface{}{
				"file_path":  path,
				"old_string": tt.oldString,
				"new_string": "replacement",
			})
			_, err := NewEditTool().Execute(t.Context(), params)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want message containing %q", err, tt.wantErr)
			}

			data, _ := os.ReadFile(path)
			if string(data) != tt.content {
				t.Errorf("file modified on failed edit: %q", string(data))
			}
		})
	}
}

func TestReplaceCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "new.txt")

	params, _ := json.Marshal(map[string]interface{}{
		"file_path": path,
		"content":   "hello\n",
	})
	out, err := NewReplaceTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if !strings.Contains(out, "@@ -0,0 +1,1 @@") || !strings.Contains(out, "+hello") {
		t.Errorf("diff for new file = %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file = %q, want %q", string(data), "hello\n")
	}
}

func TestReplaceShowsDiffAgainstPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	writeTestFile(t, path, "old line\n")

	params, _ := json.Marshal(map[string]interface{}{
		"file_path": path,
		"content":   "new line\n",
	})
	out, err := NewReplaceTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if !strings.Contains(out, "-old line") || !strings.Contains(out, "+new line") {
		t.Errorf("diff missing change: %q", out)
	}
}

func TestBashReturnsStdout(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{"command": "printf ok"})
	out, err := NewBashTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("bash failed: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q, want %q", out, "ok")
	}
}

func TestBashNonZeroExitReport(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo visible; echo problem >&2; exit 3",
	})
	out, err := NewBashTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got %v", err)
	}
	for _, want := range []string{"code 3", "visible", "problem"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q: %q", want, out)
		}
	}
}

func TestBashTimeout(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"command": "sleep 5",
		"timeout": 50,
	})
	_, err := NewBashTool().Execute(t.Context(), params)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout error", err)
	}
}

func TestTruncateOutputShortUnchanged(t *testing.T) {
	if got := truncateOutput("small output"); got != "small output" {
		t.Errorf("truncateOutput = %q", got)
	}
}

func TestTruncateOutputCutsAtLineBoundary(t *testing.T) {
	line := strings.Repeat("x", 999) + "\n"
	long := strings.Repeat(line, 200) // 200,000 bytes
	got := truncateOutput(long)
	if len(got) >= len(long) {
		t.Fatal("output not truncated")
	}
	if !strings.Contains(got, "[output truncated:") {
		t.Errorf("truncation marker missing: %q", got[len(got)-80:])
	}
	body := got[:strings.LastIndex(got, "\n[output truncated:")]
	if strings.HasSuffix(body, "x") && len(body)%1000 != 999 {
		t.Errorf("cut mid-line at %d bytes", len(body))
	}
}

func TestBashTruncatesLongOutput(t *testing.T) {
	params, _ := json.Marshal(map[string]interface{}{
		"command": "head -c 200000 /dev/zero | tr '\\0' 'a'",
	})
	out, err := NewBashTool().Execute(t.Context(), params)
	if err != nil {
		t.Fatalf("bash failed: %v", err)
	}
	if len(out) > 101_000 {
		t.Errorf("output length = %d, want capped", len(out))
	}
	if !strings.Contains(out, "[output truncated:") {
		t.Error("truncation marker missing")
	}
}
