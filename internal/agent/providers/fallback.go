package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rlneumiller/oli-sub000/internal/agent"
)

// Fallback chains providers in preference order. A request goes to the
// first healthy provider; provider-level faults (rate limits, server
// errors, auth failures, unavailable models) move it down the chain.
// Invalid requests and context cancellation are returned immediately:
// another provider would fail the same way, or the caller gave up.
type Fallback struct {
	providers []agent.Completer
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	downedAt map[string]time.Time
}

// defaultFallbackCooldown is how long a failed provider sits out
// before it is tried again.
const defaultFallbackCooldown = 30 * time.Second

// NewFallback creates a chain over the given providers. At least one
// is required.
func NewFallback(providers ...agent.Completer) (*Fallback, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("fallback: at least one provider is required")
	}
	return &Fallback{
		providers: providers,
		cooldown:  defaultFallbackCooldown,
		logger:    slog.Default().With("component", "fallback"),
		downedAt:  make(map[string]time.Time),
	}, nil
}

// SetCooldown overrides the sit-out period for failed providers.
func (f *Fallback) SetCooldown(d time.Duration) {
	if d > 0 {
		f.cooldown = d
	}
}

// SetLogger overrides the default logger.
func (f *Fallback) SetLogger(logger *slog.Logger) {
	if logger != nil {
		f.logger = logger.With("component", "fallback")
	}
}

// Name identifies the chain on task records and logs.
func (f *Fallback) Name() string {
	return "fallback"
}

// Model reports the preferred provider's model.
func (f *Fallback) Model() string {
	return f.providers[0].Model()
}

// Complete performs a plain completion through the chain.
func (f *Fallback) Complete(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) (string, error) {
	var out string
	err := f.each(ctx, func(p agent.Completer) error {
		var err error
		out, err = p.Complete(ctx, messages, opts)
		return err
	})
	return out, err
}

// CompleteWithTools performs a tool-capable turn through the chain.
func (f *Fallback) CompleteWithTools(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions, prior []agent.ToolResult) (*agent.CompletionResponse, error) {
	var out *agent.CompletionResponse
	err := f.each(ctx, func(p agent.Completer) error {
		var err error
		out, err = p.CompleteWithTools(ctx, messages, opts, prior)
		return err
	})
	return out, err
}

// each tries call against every usable provider in order, returning on
// the first success or the first non-transferable error.
func (f *Fallback) each(ctx context.Context, call func(agent.Completer) error) error {
	var lastErr error
	for _, p := range f.providers {
		if !f.usable(p) {
			continue
		}
		err := call(p)
		if err == nil {
			f.markHealthy(p)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !transferable(err) {
			return err
		}
		f.markDown(p)
		f.logger.Warn("provider failed over",
			"provider", p.Name(), "model", p.Model(), "error", err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fallback: all providers cooling down")
	}
	return lastErr
}

// transferable reports whether another provider could plausibly serve
// the request that just failed.
func transferable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return true
	}
	switch pe.Reason {
	case ReasonInvalidRequest:
		return false
	default:
		return true
	}
}

func (f *Fallback) usable(p agent.Completer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, down := f.downedAt[f.key(p)]
	return !down || time.Since(at) > f.cooldown
}

func (f *Fallback) markDown(p agent.Completer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downedAt[f.key(p)] = time.Now()
}

func (f *Fallback) markHealthy(p agent.Completer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.downedAt, f.key(p))
}

func (f *Fallback) key(p agent.Completer) string {
	return p.Name() + "/" + p.Model()
}
