package agent

import (
	"context"
	"fmt"
	"log/slog"
)

// Summarization defaults. A session over either threshold is eligible for
// compaction after the current turn.
const (
	DefaultHistoryMaxMessages = 200
	DefaultHistoryMaxChars    = 200000
	DefaultHistoryKeepRecent  = 10
)

const summarizationPrompt = "Summarize the conversation below for use as long-term context. " +
	"Preserve key decisions, file paths, code changes, and unresolved questions. Be concise."

// HistoryConfig bounds conversation growth between turns.
type HistoryConfig struct {
	// MaxMessages triggers summarization when the session holds more
	// messages. Default: 200.
	MaxMessages int

	// MaxChars triggers summarization when the total content length
	// exceeds it. Default: 200000.
	MaxChars int

	// KeepRecent is how many of the newest messages survive verbatim.
	// Default: 10.
	KeepRecent int
}

// DefaultHistoryConfig returns the standard thresholds.
func DefaultHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		MaxMessages: DefaultHistoryMaxMessages,
		MaxChars:    DefaultHistoryMaxChars,
		KeepRecent:  DefaultHistoryKeepRecent,
	}
}

func sanitizeHistoryConfig(config *HistoryConfig) HistoryConfig {
	defaults := DefaultHistoryConfig()
	if config == nil {
		return *defaults
	}
	cfg := *config
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaults.MaxMessages
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaults.MaxChars
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = defaults.KeepRecent
	}
	return cfg
}

// HistoryManager compacts long sessions by replacing the oldest messages
// with a model-written summary. It runs between turns, never inside one.
type HistoryManager struct {
	provider Completer
	logger   *slog.Logger
	config   HistoryConfig
}

// NewHistoryManager creates a manager. A nil config takes the defaults.
func NewHistoryManager(provider Completer, config *HistoryConfig) *HistoryManager {
	return &HistoryManager{
		provider: provider,
		logger:   slog.Default(),
		config:   sanitizeHistoryConfig(config),
	}
}

// SetLogger overrides the default logger.
func (h *HistoryManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// ShouldSummarize reports whether the session has outgrown its limits.
func (h *HistoryManager) ShouldSummarize(session *Session) bool {
	return session.MessageCount() > h.config.MaxMessages ||
		session.CharCount() > h.config.MaxChars
}

// Summarize replaces all but the most recent messages with a summary
// produced by the provider. Sessions at or under KeepRecent are left
// alone.
func (h *HistoryManager) Summarize(ctx context.Context, session *Session) error {
	count := session.MessageCount()
	if count <= h.config.KeepRecent {
		return nil
	}

	transcript := session.Transcript(0, count-h.config.KeepRecent)
	summary, err := h.provider.Complete(ctx, []Message{
		SystemMessage(summarizationPrompt),
		UserMessage(transcript),
	}, CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return fmt.Errorf("summarize session: %w", err)
	}

	session.CompactWithSummary(summary, h.config.KeepRecent)
	h.logger.Info("session summarized",
		"kept", h.config.KeepRecent,
		"dropped", count-h.config.KeepRecent)
	return nil
}
