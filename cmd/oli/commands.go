package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/agent/providers"
	"github.com/rlneumiller/oli-sub000/internal/config"
	"github.com/rlneumiller/oli-sub000/internal/metrics"
	"github.com/rlneumiller/oli-sub000/internal/rpc"
	"github.com/rlneumiller/oli-sub000/internal/tasks"
	"github.com/rlneumiller/oli-sub000/internal/tools"
)

// buildServeCmd creates the serve command: the long-lived JSON-RPC
// engine over stdin/stdout.
func buildServeCmd() *cobra.Command {
	var metricsAddr string
	var listenAddr string
	var traceFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent engine over stdio JSON-RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging)

			registry, err := tools.DefaultRegistry()
			if err != nil {
				return fmt.Errorf("build tool registry: %w", err)
			}

			engine := rpc.NewEngine(cfg, registry)
			engine.SetLogger(logger)

			if traceFile != "" {
				f, err := os.Create(traceFile)
				if err != nil {
					return fmt.Errorf("open trace file: %w", err)
				}
				defer f.Close()
				engine.SetTraceWriter(f)
				logger.Info("tracing enabled", "path", traceFile)
			}

			if metricsAddr != "" {
				m := metrics.New()
				engine.SetMetrics(m)
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				logger.Info("metrics enabled", "addr", metricsAddr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("engine started",
				"version", version,
				"models", len(cfg.Models),
				"tools", len(registry.Names()))

			if listenAddr != "" {
				ln, err := net.Listen("tcp", listenAddr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", listenAddr, err)
				}
				logger.Info("listening", "addr", ln.Addr().String())
				listener := rpc.NewListener(engine.Attach)
				listener.SetLogger(logger)
				return listener.Serve(ctx, ln)
			}

			server := rpc.NewServer(os.Stdin, os.Stdout)
			server.SetLogger(logger)
			engine.Attach(server)

			// Leaf components reach the running server through the
			// process-wide reference.
			rpc.SetDefault(server)
			return server.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Serve JSON-RPC over TCP on this address instead of stdio (e.g. 127.0.0.1:7777)")
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "Write a JSONL event trace of every run to this file")
	return cmd
}

// buildRunCmd creates the run command: a one-shot prompt without the
// RPC transport, printing the final answer to stdout.
func buildRunCmd() *cobra.Command {
	var modelIndex int

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt and print the final answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging)

			model, err := cfg.Model(modelIndex)
			if err != nil {
				return err
			}
			if _, err := config.APIKey(model.Provider); err != nil {
				return err
			}
			provider, err := providers.New(model.Provider, model.Model)
			if err != nil {
				return err
			}

			registry, err := tools.DefaultRegistry()
			if err != nil {
				return fmt.Errorf("build tool registry: %w", err)
			}

			session := agent.NewSession(cfg.Session.Capacity)
			wd, _ := os.Getwd()
			session.SetSystemPrompt(agent.BuildSystemPrompt(agent.PromptOptions{
				WorkingDir: wd,
				Extra:      cfg.Session.SystemPrompt,
			}))

			executor := agent.NewExecutor(provider, registry, session, tasks.NewLedger(), &agent.ExecutorConfig{
				MaxLoops:    cfg.Agent.MaxLoops,
				Temperature: cfg.Agent.Temperature,
				TopP:        cfg.Agent.TopP,
				MaxTokens:   cfg.Agent.MaxTokens,
			})
			executor.SetLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			answer, err := executor.Execute(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	cmd.Flags().IntVar(&modelIndex, "model", 0, "Index into the configured model list")
	return cmd
}

// buildModelsCmd creates the models command: enumerate the models a
// local Ollama server has available.
func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available on the local Ollama server",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL: os.Getenv(providers.EnvOllamaAPIBase),
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			names, err := provider.ListModels(ctx)
			if err != nil {
				return fmt.Errorf("list ollama models: %w", err)
			}
			if len(names) == 0 {
				fmt.Println("No models installed.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// buildReplayCmd creates the replay command: print a JSONL run trace
// as a readable timeline.
func buildReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [trace-file]",
		Short: "Print a recorded run trace as a timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			scanner := bufio.NewScanner(file)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			lineNum := 0
			for scanner.Scan() {
				lineNum++
				if len(scanner.Bytes()) == 0 {
					continue
				}
				text, err := formatTraceLine(scanner.Bytes())
				if err != nil {
					return fmt.Errorf("line %d: %w", lineNum, err)
				}
				fmt.Println(text)
			}
			return scanner.Err()
		},
	}
}

// traceRecord is the union of the trace header and event shapes.
type traceRecord struct {
	// Header fields.
	Version   int        `json:"version"`
	RunID     string     `json:"run_id"`
	StartedAt *time.Time `json:"started_at"`

	// Event fields.
	Time    *time.Time      `json:"time"`
	Type    string          `json:"type"`
	TaskID  string          `json:"task_id"`
	Message string          `json:"message"`
	Task    json.RawMessage `json:"task"`
	Exec    json.RawMessage `json:"exec"`
}

// formatTraceLine renders one trace line for the timeline. Headers
// become run separators; events become indented timestamped rows.
func formatTraceLine(line []byte) (string, error) {
	var rec traceRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", fmt.Errorf("parse trace line: %w", err)
	}

	if rec.RunID != "" {
		started := ""
		if rec.StartedAt != nil {
			started = rec.StartedAt.Format(time.RFC3339)
		}
		return fmt.Sprintf("run %s started %s", rec.RunID, started), nil
	}

	stamp := ""
	if rec.Time != nil {
		stamp = rec.Time.Format("15:04:05.000")
	}
	detail := rec.Message
	if detail == "" && rec.Exec != nil {
		var exec struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(rec.Exec, &exec); err == nil {
			detail = strings.TrimSpace(exec.Name + " " + exec.Status)
		}
	}
	if detail == "" && rec.Task != nil {
		var task struct {
			Status      string `json:"status"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(rec.Task, &task); err == nil {
			detail = strings.TrimSpace(task.Status + " " + task.Description)
		}
	}
	return fmt.Sprintf("  %s %-24s %s", stamp, rec.Type, detail), nil
}

// buildDoctorCmd creates the doctor command: report whether each
// configured model is usable from this environment.
func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials and connectivity for the configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			failures := 0
			for i, model := range cfg.Models {
				status := checkModel(cmd.Context(), model)
				if status != "ok" {
					failures++
				}
				fmt.Printf("%d. %s/%s: %s\n", i, model.Provider, model.Model, status)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d models not usable", failures, len(cfg.Models))
			}
			fmt.Println("All models usable.")
			return nil
		},
	}
}

// checkModel reports "ok" or the reason a model cannot be used right
// now. Ollama models are checked by asking the local server for its
// model list; API-backed models by credential presence.
func checkModel(ctx context.Context, model config.ModelConfig) string {
	if model.Provider == config.ProviderOllama {
		provider := providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL: os.Getenv(providers.EnvOllamaAPIBase),
		})
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		names, err := provider.ListModels(checkCtx)
		if err != nil {
			return "server unreachable: " + err.Error()
		}
		for _, name := range names {
			if name == model.Model {
				return "ok"
			}
		}
		return fmt.Sprintf("model %q not installed", model.Model)
	}

	if _, err := config.APIKey(model.Provider); err != nil {
		return err.Error()
	}
	return "ok"
}

// starterConfig is the commented template written by config init.
const starterConfig = `# oli configuration. Credentials are never stored here; set
# ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY in the
# environment. ${VAR} references are expanded when the file is read.

models:
  - provider: anthropic
    model: claude-sonnet-4-20250514
    description: Anthropic Claude
  - provider: ollama
    model: llama3.2
    description: Local Ollama server

logging:
  level: info
  format: auto

session:
  capacity: 100
  # max_tasks: 1000

tools:
  mode: auto
  # denylist: [Bash]

agent:
  max_loops: 100
  # fallback: true
`

// buildConfigCmd creates the config command group.
func buildConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "oli.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; refusing to overwrite", path)
			}
			if err := writeStarterConfig(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return configCmd
}

// writeStarterConfig writes the template and verifies it still loads,
// so the shipped starter can never drift out of sync with the schema.
func writeStarterConfig(path string) error {
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("starter config does not validate: %w", err)
	}
	return nil
}

// setupLogger installs the default slog logger on stderr: text for
// interactive terminals, JSON otherwise or when configured.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	useJSON := cfg.Format == "json" ||
		(cfg.Format != "text" && !term.IsTerminal(int(os.Stderr.Fd())))

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
