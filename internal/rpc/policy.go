package rpc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rlneumiller/oli-sub000/internal/agent"
)

// Policy modes. Auto allows everything; readonly blocks the tools that
// mutate the filesystem or spawn processes.
const (
	PolicyAuto     = "auto"
	PolicyReadOnly = "readonly"
)

// writeTools are the registered tools with side effects. Read, Glob,
// Grep and LS stay available in readonly mode.
var writeTools = map[string]struct{}{
	"Edit":    {},
	"Replace": {},
	"Bash":    {},
}

// ToolPolicy is the transport-level permission gate over tool
// dispatch. The tool layer itself never gates; the executor consults
// the policy through its gate hook before each call.
//
// Evaluation order: denylist, allowlist, mode. Patterns support exact
// names, "prefix*", "*suffix", and "*".
type ToolPolicy struct {
	mu        sync.RWMutex
	mode      string
	allowlist []string
	denylist  []string
}

// NewToolPolicy creates a policy in auto mode.
func NewToolPolicy() *ToolPolicy {
	return &ToolPolicy{mode: PolicyAuto}
}

// Authorize implements agent.ToolGate.
func (p *ToolPolicy) Authorize(call agent.ToolCall) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if matchesPattern(p.denylist, call.Name) {
		return fmt.Errorf("tool %s denied by policy", call.Name)
	}
	if matchesPattern(p.allowlist, call.Name) {
		return nil
	}
	if p.mode == PolicyReadOnly {
		if _, writes := writeTools[call.Name]; writes {
			return fmt.Errorf("tool %s blocked: session is read-only", call.Name)
		}
	}
	return nil
}

// Set replaces the policy. Unknown modes are rejected.
func (p *ToolPolicy) Set(mode string, allowlist, denylist []string) error {
	switch mode {
	case PolicyAuto, PolicyReadOnly:
	case "":
		mode = PolicyAuto
	default:
		return fmt.Errorf("unknown policy mode %q", mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	p.allowlist = append([]string(nil), allowlist...)
	p.denylist = append([]string(nil), denylist...)
	return nil
}

// Snapshot returns the current policy settings.
func (p *ToolPolicy) Snapshot() (mode string, allowlist, denylist []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode, append([]string(nil), p.allowlist...), append([]string(nil), p.denylist...)
}

// matchesPattern checks if toolName matches any pattern in the list.
// Supports exact match, prefix* match, *suffix match, and * (all).
func matchesPattern(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == toolName {
			return true
		}
		if len(pattern) > 1 && pattern[len(pattern)-1] == '*' &&
			strings.HasPrefix(toolName, pattern[:len(pattern)-1]) {
			return true
		}
		if len(pattern) > 1 && pattern[0] == '*' &&
			strings.HasSuffix(toolName, pattern[1:]) {
			return true
		}
	}
	return false
}
