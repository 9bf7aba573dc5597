package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/rlneumiller/oli-sub000/internal/agent"
	"github.com/rlneumiller/oli-sub000/internal/agent/providers"
	"github.com/rlneumiller/oli-sub000/internal/config"
	"github.com/rlneumiller/oli-sub000/internal/metrics"
	"github.com/rlneumiller/oli-sub000/internal/tasks"
	"github.com/rlneumiller/oli-sub000/internal/tools"
)

// ProviderFactory builds a provider for the selected model. Tests
// substitute scripted backends here.
type ProviderFactory func(model config.ModelConfig) (agent.Completer, error)

func defaultProviderFactory(model config.ModelConfig) (agent.Completer, error) {
	if _, err := config.APIKey(model.Provider); err != nil {
		return nil, err
	}
	return providers.New(model.Provider, model.Model)
}

// Engine owns the live session, the task ledger, and the tool registry,
// and exposes them as RPC methods. One engine serves one logical chat;
// runs against it are serialized.
type Engine struct {
	cfg      *config.Config
	registry *tools.Registry
	session  *agent.Session
	ledger   *tasks.Ledger
	logger   *slog.Logger

	newProvider ProviderFactory
	policy      *ToolPolicy
	metrics     *metrics.Metrics
	traceW      io.Writer

	runMu sync.Mutex // serializes run and summarize_session

	activeMu   sync.Mutex
	cancelRun  context.CancelFunc
	lastModel  int
	hasRunOnce bool
}

// NewEngine creates an engine over the given configuration and tool
// registry.
func NewEngine(cfg *config.Config, registry *tools.Registry) *Engine {
	session := agent.NewSession(cfg.Session.Capacity)
	wd, _ := os.Getwd()
	session.SetSystemPrompt(agent.BuildSystemPrompt(agent.PromptOptions{
		WorkingDir: wd,
		Extra:      cfg.Session.SystemPrompt,
	}))
	policy := NewToolPolicy()
	if err := policy.Set(cfg.Tools.Mode, cfg.Tools.Allowlist, cfg.Tools.Denylist); err != nil {
		// Validate catches unknown modes before the engine is built.
		policy = NewToolPolicy()
	}
	ledger := tasks.NewLedger()
	ledger.SetRetention(cfg.Session.MaxTasks)
	return &Engine{
		cfg:         cfg,
		registry:    registry,
		session:     session,
		ledger:      ledger,
		logger:      slog.Default().With("component", "engine"),
		newProvider: defaultProviderFactory,
		policy:      policy,
	}
}

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger.With("component", "engine")
	}
}

// SetMetrics attaches Prometheus instrumentation to every run.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetTraceWriter mirrors every run's events onto w as JSONL, one
// header line per run.
func (e *Engine) SetTraceWriter(w io.Writer) {
	e.traceW = w
}

// SetProviderFactory overrides provider construction. Used by tests.
func (e *Engine) SetProviderFactory(factory ProviderFactory) {
	if factory != nil {
		e.newProvider = factory
	}
}

// Session returns the engine's conversation state.
func (e *Engine) Session() *agent.Session {
	return e.session
}

// Ledger returns the engine's task ledger.
func (e *Engine) Ledger() *tasks.Ledger {
	return e.ledger
}

// Attach registers the engine's methods on the server.
func (e *Engine) Attach(server *Server) {
	server.Register("run", e.handleRun(server))
	server.Register("list_tasks", e.handleListTasks)
	server.Register("list_tool_executions", e.handleListToolExecutions)
	server.Register("get_task", e.handleGetTask)
	server.Register("list_models", e.handleListModels)
	server.Register("reset_session", e.handleResetSession)
	server.Register("get_session", e.handleGetSession)
	server.Register("summarize_session", e.handleSummarizeSession)
	server.Register("cancel", e.handleCancel)
	server.Register("get_usage", e.handleGetUsage)
	server.Register("append_message", e.handleAppendMessage)
	server.Register("get_config", e.handleGetConfig)
	server.Register("get_tool_policy", e.handleGetToolPolicy)
	server.Register("set_tool_policy", e.handleSetToolPolicy)
}

type runParams struct {
	Prompt     string `json:"prompt"`
	ModelIndex *int   `json:"model_index,omitempty"`
}

type runResult struct {
	Content string `json:"content"`
	TaskID  string `json:"task_id"`
}

func (e *Engine) handleRun(server *Server) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p runParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
		}
		if p.Prompt == "" {
			return nil, &Error{Code: ErrCodeInvalidParams, Message: "prompt is required"}
		}

		index := 0
		if p.ModelIndex != nil {
			index = *p.ModelIndex
		}

		var provider agent.Completer
		var err error
		if p.ModelIndex == nil && e.cfg.Agent.Fallback {
			provider, err = e.fallbackChain()
		} else {
			var model config.ModelConfig
			model, err = e.cfg.Model(index)
			if err == nil {
				provider, err = e.newProvider(model)
			}
		}
		if err != nil {
			return nil, err
		}

		e.runMu.Lock()
		defer e.runMu.Unlock()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		e.activeMu.Lock()
		e.cancelRun = cancel
		e.lastModel = index
		e.hasRunOnce = true
		e.activeMu.Unlock()
		defer func() {
			e.activeMu.Lock()
			e.cancelRun = nil
			e.activeMu.Unlock()
		}()

		executor := agent.NewExecutor(provider, e.registry, e.session, e.ledger, e.executorConfig())
		var sink agent.EventSink = NewSink(server)
		if e.metrics != nil {
			sink = metrics.NewSink(e.metrics, sink)
		}
		if e.traceW != nil {
			sink = agent.NewTraceSink(e.traceW, sink)
		}
		executor.SetSink(sink)
		executor.SetGate(e.policy)
		executor.SetLogger(e.logger)

		content, err := executor.Execute(runCtx, p.Prompt)
		if err != nil {
			return nil, err
		}

		e.compact(runCtx, provider)

		taskID := ""
		if all := e.ledger.Tasks(); len(all) > 0 {
			taskID = all[len(all)-1].ID
		}
		return runResult{Content: content, TaskID: taskID}, nil
	}
}

// fallbackChain builds a provider chain over every configured model
// that can be initialized right now. Models whose credentials are
// missing are skipped with a log line rather than failing the run.
func (e *Engine) fallbackChain() (agent.Completer, error) {
	var chain []agent.Completer
	for i, model := range e.cfg.Models {
		p, err := e.newProvider(model)
		if err != nil {
			e.logger.Warn("fallback skips model",
				"index", i, "provider", model.Provider, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no configured model is usable")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	fb, err := providers.NewFallback(chain...)
	if err != nil {
		return nil, err
	}
	fb.SetLogger(e.logger)
	return fb, nil
}

// executorConfig maps the configured loop tuning onto the executor.
// Zero values fall through to the executor's defaults.
func (e *Engine) executorConfig() *agent.ExecutorConfig {
	return &agent.ExecutorConfig{
		MaxLoops:    e.cfg.Agent.MaxLoops,
		Temperature: e.cfg.Agent.Temperature,
		TopP:        e.cfg.Agent.TopP,
		MaxTokens:   e.cfg.Agent.MaxTokens,
	}
}

// compact lets the history manager replace old messages with a summary
// once the session outgrows its thresholds. Failures only log: the
// next turn simply carries a longer transcript.
func (e *Engine) compact(ctx context.Context, provider agent.Completer) {
	manager := agent.NewHistoryManager(provider, &agent.HistoryConfig{
		MaxMessages: e.cfg.History.MaxMessages,
		MaxChars:    e.cfg.History.MaxChars,
		KeepRecent:  e.cfg.History.KeepRecent,
	})
	manager.SetLogger(e.logger)
	if !manager.ShouldSummarize(e.session) {
		return
	}
	if err := manager.Summarize(ctx, e.session); err != nil {
		e.logger.Warn("session compaction failed", "error", err)
	}
}

func (e *Engine) handleListTasks(_ context.Context, _ json.RawMessage) (any, error) {
	return e.ledger.Tasks(), nil
}

type listToolExecutionsParams struct {
	TaskID string `json:"task_id"`
}

func (e *Engine) handleListToolExecutions(_ context.Context, params json.RawMessage) (any, error) {
	var p listToolExecutionsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.TaskID == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "task_id is required"}
	}
	return e.ledger.ToolExecutions(p.TaskID), nil
}

type getTaskParams struct {
	TaskID string `json:"task_id"`
}

// getTaskResult bundles a task with its tool executions, sparing
// clients a second round trip.
type getTaskResult struct {
	Task       tasks.Task            `json:"task"`
	Executions []tasks.ToolExecution `json:"executions,omitempty"`
}

func (e *Engine) handleGetTask(_ context.Context, params json.RawMessage) (any, error) {
	var p getTaskParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.TaskID == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "task_id is required"}
	}
	task, ok := e.ledger.Task(p.TaskID)
	if !ok {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "unknown task " + p.TaskID}
	}
	return getTaskResult{Task: task, Executions: e.ledger.ToolExecutions(p.TaskID)}, nil
}

func (e *Engine) handleListModels(_ context.Context, _ json.RawMessage) (any, error) {
	return e.cfg.Models, nil
}

func (e *Engine) handleResetSession(_ context.Context, _ json.RawMessage) (any, error) {
	e.session.Clear()
	e.logger.Info("session reset")
	return true, nil
}

type sessionSnapshot struct {
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Messages     []agent.Message `json:"messages"`
}

// handleGetSession exports the conversation for inspection or
// persistence by the UI.
func (e *Engine) handleGetSession(_ context.Context, _ json.RawMessage) (any, error) {
	return sessionSnapshot{
		SystemPrompt: e.session.SystemPrompt(),
		Messages:     e.session.Messages(),
	}, nil
}

type toolPolicyDTO struct {
	Mode      string   `json:"mode"`
	Allowlist []string `json:"allowlist,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
}

func (e *Engine) handleGetToolPolicy(_ context.Context, _ json.RawMessage) (any, error) {
	mode, allow, deny := e.policy.Snapshot()
	return toolPolicyDTO{Mode: mode, Allowlist: allow, Denylist: deny}, nil
}

func (e *Engine) handleSetToolPolicy(_ context.Context, params json.RawMessage) (any, error) {
	var p toolPolicyDTO
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if err := e.policy.Set(p.Mode, p.Allowlist, p.Denylist); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: err.Error()}
	}
	e.logger.Info("tool policy updated", "mode", p.Mode)
	return true, nil
}

// handleSummarizeSession forces an immediate compaction regardless of
// thresholds, using the most recently selected model.
func (e *Engine) handleSummarizeSession(ctx context.Context, _ json.RawMessage) (any, error) {
	e.activeMu.Lock()
	index := e.lastModel
	e.activeMu.Unlock()

	model, err := e.cfg.Model(index)
	if err != nil {
		return nil, err
	}
	provider, err := e.newProvider(model)
	if err != nil {
		return nil, err
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.session.MessageCount() == 0 {
		return false, nil
	}

	transcript := e.session.Transcript(0, e.session.MessageCount())
	summary, err := provider.Complete(ctx, []agent.Message{
		agent.SystemMessage("Summarize the conversation below, preserving key decisions and open questions."),
		agent.UserMessage(transcript),
	}, agent.CompletionOptions{Temperature: 0.3, MaxTokens: 1024})
	if err != nil {
		return nil, fmt.Errorf("summarize session: %w", err)
	}
	e.session.ReplaceWithSummary(summary)
	e.logger.Info("session summarized on request")
	return true, nil
}

// handleGetConfig exports the effective configuration. Credentials
// never appear here: the file stores none and keys stay in the
// environment.
func (e *Engine) handleGetConfig(_ context.Context, _ json.RawMessage) (any, error) {
	return e.cfg, nil
}

type appendMessageParams struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleAppendMessage injects a steering message into the session
// without starting a run. The next run's request carries it, letting
// the UI correct course between turns.
func (e *Engine) handleAppendMessage(_ context.Context, params json.RawMessage) (any, error) {
	var p appendMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.Content == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "content is required"}
	}
	switch p.Role {
	case "", agent.RoleUser:
		e.session.AddUser(p.Content)
	case agent.RoleSystem:
		e.session.AddMessage(agent.SystemMessage(p.Content))
	default:
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "role must be user or system"}
	}
	return true, nil
}

type taskUsage struct {
	TaskID       string `json:"task_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ToolUses     int    `json:"tool_uses"`
}

type usageReport struct {
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	ToolUses     int         `json:"tool_uses"`
	Tasks        []taskUsage `json:"tasks"`
}

// handleGetUsage reports token and tool-use totals, per task and
// aggregated over the engine's lifetime.
func (e *Engine) handleGetUsage(_ context.Context, _ json.RawMessage) (any, error) {
	report := usageReport{Tasks: []taskUsage{}}
	for _, task := range e.ledger.Tasks() {
		report.InputTokens += task.InputTokens
		report.OutputTokens += task.OutputTokens
		report.ToolUses += task.ToolUses
		report.Tasks = append(report.Tasks, taskUsage{
			TaskID:       task.ID,
			InputTokens:  task.InputTokens,
			OutputTokens: task.OutputTokens,
			ToolUses:     task.ToolUses,
		})
	}
	return report, nil
}

// handleCancel aborts the in-flight run, if any. The executor observes
// the cancelled context between iterations and fails the active task.
func (e *Engine) handleCancel(_ context.Context, _ json.RawMessage) (any, error) {
	e.activeMu.Lock()
	cancel := e.cancelRun
	e.activeMu.Unlock()
	if cancel == nil {
		return false, nil
	}
	cancel()
	e.logger.Info("run cancelled")
	return true, nil
}
