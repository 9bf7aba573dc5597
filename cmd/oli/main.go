// Package main provides the CLI entry point for oli, an LLM-driven
// coding agent engine.
//
// The engine is driven over line-delimited JSON-RPC on stdin/stdout by
// an external UI process:
//
//	oli serve --config oli.yaml
//
// Structured logs go to stderr; stdout carries only the RPC wire.
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
//   - OLLAMA_API_BASE: Ollama server URL (default http://localhost:11434)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rlneumiller/oli-sub000/internal/config"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oli",
		Short: "oli - LLM coding agent engine",
		Long: `oli runs the agent execution engine: a multi-turn loop between an LLM
provider and a local toolbox (file read/write/edit, glob, grep, shell),
driven over line-delimited JSON-RPC on standard streams.

Supported providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini),
and a local Ollama server.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: $OLI_CONFIG, ./oli.yaml, ~/.config/oli/oli.yaml)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildModelsCmd(),
		buildDoctorCmd(),
		buildReplayCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// loadConfig resolves and reads the config file, falling back to the
// built-in defaults when none exists.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configPath)
}
