package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/config"
	"github.com/rlneumiller/oli-sub000/internal/tasks"
)

func TestBuildRootCmd(t *testing.T) {
	cmd := buildRootCmd()
	if cmd.Use != "oli" {
		t.Errorf("root command use = %q", cmd.Use)
	}

	want := map[string]bool{"serve": false, "run": false, "models": false, "doctor": false, "replay": false, "config": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not attached", name)
		}
	}
}

func TestLoadConfigMissingFileFallsBack(t *testing.T) {
	configPath = "/nonexistent/oli.yaml"
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Models) == 0 {
		t.Error("fallback config has no models")
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger := setupLogger(config.LoggingConfig{Level: level, Format: "json"})
		if logger == nil {
			t.Fatalf("nil logger for level %s", level)
		}
	}
}

func TestCheckModelMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	status := checkModel(t.Context(), config.ModelConfig{
		Provider: config.ProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
	})
	if status == "ok" {
		t.Error("missing key should not report ok")
	}
	if !strings.Contains(status, "ANTHROPIC_API_KEY") {
		t.Errorf("status should name the env var: %q", status)
	}
}

func TestCheckModelWithKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	status := checkModel(t.Context(), config.ModelConfig{
		Provider: config.ProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
	})
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
}

func TestCheckModelOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models": [{"name": "llama3.2"}]}`))
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_API_BASE", srv.URL)

	if status := checkModel(t.Context(), config.ModelConfig{
		Provider: config.ProviderOllama,
		Model:    "llama3.2",
	}); status != "ok" {
		t.Errorf("installed model status = %q, want ok", status)
	}

	if status := checkModel(t.Context(), config.ModelConfig{
		Provider: config.ProviderOllama,
		Model:    "mystery-model",
	}); !strings.Contains(status, "not installed") {
		t.Errorf("missing model status = %q", status)
	}
}

func TestFormatTraceLineHeader(t *testing.T) {
	line := []byte(`{"version":1,"run_id":"abc-123","started_at":"2026-08-26T10:00:00Z"}`)
	got, err := formatTraceLine(line)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "abc-123") || !strings.Contains(got, "2026-08-26") {
		t.Errorf("header line = %q", got)
	}
}

func TestFormatTraceLineEvents(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{
			name: "processing message",
			line: `{"time":"2026-08-26T10:00:01.500Z","type":"processing","task_id":"t1","message":"sending request"}`,
			want: "sending request",
		},
		{
			name: "tool execution payload",
			line: `{"time":"2026-08-26T10:00:02Z","type":"tool_execution_updated","task_id":"t1","exec":{"name":"Bash","status":"success"}}`,
			want: "Bash success",
		},
		{
			name: "task payload",
			line: `{"time":"2026-08-26T10:00:03Z","type":"task_updated","task_id":"t1","task":{"status":"completed","description":"fix the bug"}}`,
			want: "completed fix the bug",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := formatTraceLine([]byte(tc.line))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("formatted = %q, want substring %q", got, tc.want)
			}
		})
	}
}

func TestFormatTraceLineRejectsGarbage(t *testing.T) {
	if _, err := formatTraceLine([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestWriteStarterConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oli.yaml")
	if err := writeStarterConfig(path); err != nil {
		t.Fatalf("writeStarterConfig: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Errorf("starter config has %d models, want 2", len(cfg.Models))
	}
	if cfg.Models[0].Provider != config.ProviderAnthropic {
		t.Errorf("first model provider = %q", cfg.Models[0].Provider)
	}
	if cfg.Tools.Mode != "auto" {
		t.Errorf("tools mode = %q", cfg.Tools.Mode)
	}
}

func TestReplayFormatsRealTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	sink, err := agent.NewTraceFileSink(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	sink.TaskStarted(tasks.Task{ID: "t1", Description: "rename the helper"})
	sink.Processing("t1", "sending request")
	sink.ToolExecutionStarted(tasks.ToolExecution{ID: "e1", TaskID: "t1", Name: "Grep"})
	sink.ToolExecutionUpdated(tasks.ToolExecution{ID: "e1", TaskID: "t1", Name: "Grep", Status: tasks.ExecutionSuccess})
	sink.TaskUpdated(tasks.Task{ID: "t1", Status: tasks.StatusCompleted, Description: "rename the helper"})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("trace has %d lines, want header + 5 events", len(lines))
	}

	var rendered []string
	for i, line := range lines {
		text, err := formatTraceLine([]byte(line))
		if err != nil {
			t.Fatalf("line %d: %v", i+1, err)
		}
		rendered = append(rendered, text)
	}
	if !strings.HasPrefix(rendered[0], "run ") {
		t.Errorf("first line should be the run header: %q", rendered[0])
	}
	joined := strings.Join(rendered[1:], "\n")
	for _, want := range []string{"sending request", "Grep success", "completed rename the helper"} {
		if !strings.Contains(joined, want) {
			t.Errorf("rendered timeline missing %q:\n%s", want, joined)
		}
	}
}
