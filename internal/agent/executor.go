package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rlneumiller/oli-sub000/internal/tasks"
	"github.com/rlneumiller/oli-sub000/internal/tools"
)

// ToolGate authorizes a tool call before dispatch. The transport layer
// may interpose one; a returned error blocks execution and is surfaced
// to the model as an execution failure. The tool layer itself never
// gates.
type ToolGate interface {
	Authorize(call ToolCall) error
}

// Completer is the provider contract the executor drives. The providers
// package facade satisfies it; tests substitute scripted backends.
type Completer interface {
	// Name returns the provider identifier.
	Name() string

	// Model returns the model identifier.
	Model() string

	// Complete performs a plain text completion.
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// CompleteWithTools performs a tool-capable turn, optionally carrying
	// the results accumulated since the previous call.
	CompleteWithTools(ctx context.Context, messages []Message, opts CompletionOptions, prior []ToolResult) (*CompletionResponse, error)
}

// DefaultMaxLoops caps the number of tool iterations per run.
const DefaultMaxLoops = 100

// Default generation parameters for agent turns.
const (
	defaultTemperature = 0.5
	defaultTopP        = 0.95
	defaultMaxTokens   = 4096
)

// ExecutorConfig configures the multi-turn loop.
type ExecutorConfig struct {
	// MaxLoops limits the number of tool iterations per run.
	// Default: 100.
	MaxLoops int

	// Temperature controls sampling randomness.
	// Default: 0.5.
	Temperature float64

	// TopP is the nucleus sampling cutoff.
	// Default: 0.95.
	TopP float64

	// MaxTokens caps the length of each response.
	// Default: 4096.
	MaxTokens int
}

// DefaultExecutorConfig returns the standard loop parameters.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxLoops:    DefaultMaxLoops,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		MaxTokens:   defaultMaxTokens,
	}
}

func sanitizeExecutorConfig(config *ExecutorConfig) ExecutorConfig {
	defaults := DefaultExecutorConfig()
	if config == nil {
		return *defaults
	}
	cfg := *config
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = defaults.MaxLoops
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.TopP <= 0 {
		cfg.TopP = defaults.TopP
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return cfg
}

// Executor runs the multi-turn agent loop: send the conversation, execute
// requested tools, feed results back, and decide when the task is done.
//
// One executor serves one session. Callers serialize Execute per session;
// the executor performs no internal queuing.
type Executor struct {
	provider Completer
	registry *tools.Registry
	session  *Session
	ledger   *tasks.Ledger
	sink     EventSink
	gate     ToolGate
	logger   *slog.Logger
	config   ExecutorConfig
}

// NewExecutor creates an executor. A nil config takes the defaults.
func NewExecutor(provider Completer, registry *tools.Registry, session *Session, ledger *tasks.Ledger, config *ExecutorConfig) *Executor {
	return &Executor{
		provider: provider,
		registry: registry,
		session:  session,
		ledger:   ledger,
		sink:     NopSink{},
		logger:   slog.Default(),
		config:   sanitizeExecutorConfig(config),
	}
}

// SetSink attaches a lifecycle sink. Nil restores the no-op sink.
func (e *Executor) SetSink(sink EventSink) {
	if sink == nil {
		sink = NopSink{}
	}
	e.sink = sink
}

// SetGate attaches a tool authorization gate. Nil removes it.
func (e *Executor) SetGate(gate ToolGate) {
	e.gate = gate
}

// SetLogger overrides the default logger.
func (e *Executor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Session returns the conversation the executor mutates.
func (e *Executor) Session() *Session {
	return e.session
}

// Execute runs one user turn to completion and returns the final
// assistant text. The session is updated in place; the ledger records one
// Task for the turn and one ToolExecution per dispatched call.
//
// Provider errors fail the task and propagate. Tool errors do not: they
// become result text the model can react to on the next iteration.
func (e *Executor) Execute(ctx context.Context, prompt string) (string, error) {
	task := e.ledger.StartTask(prompt)
	e.sink.TaskStarted(task)
	e.logger.Info("task started",
		"task_id", task.ID,
		"provider", e.provider.Name(),
		"model", e.provider.Model())

	e.session.AddUser(prompt)

	base := CompletionOptions{
		Temperature: e.config.Temperature,
		TopP:        e.config.TopP,
		MaxTokens:   e.config.MaxTokens,
		Tools:       e.definitions(),
	}

	e.sink.Processing(task.ID, "sending request")
	resp, err := e.provider.CompleteWithTools(ctx, e.session.ForAPI(), base, nil)
	if err != nil {
		return "", e.fail(task.ID, err)
	}
	e.recordUsage(task.ID, resp.Usage)

	if !resp.HasToolCalls() {
		return e.finish(task.ID, resp.Content)
	}
	return e.loop(ctx, task.ID, base, resp)
}

// loop drives the tool iterations for one turn. It is entered with a
// response that carries at least one tool call and always terminates
// within MaxLoops follow-up requests.
func (e *Executor) loop(ctx context.Context, taskID string, base CompletionOptions, resp *CompletionResponse) (string, error) {
	calls := resp.ToolCalls
	content := resp.Content
	final := content
	askedFinal := false

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", e.fail(taskID, err)
		}

		var pending []ToolResult
		if len(calls) > 0 {
			e.session.AddMessage(Message{Role: RoleAssistant, Content: content, ToolCalls: calls})
			pending = e.runToolCalls(ctx, taskID, calls)
		}

		// The last permitted iteration doubles as the forced
		// "summarize, no more tools" turn.
		lastTurn := iteration >= e.config.MaxLoops-1
		check := lastTurn || len(calls) == 0 || completionDue(iteration, e.config.MaxLoops)

		opts := base
		if check {
			opts = e.checkOptions()
			askedFinal = true
		}

		e.sink.Processing(taskID, "processing results")
		e.sink.Processing(taskID, "sending request")
		reply, err := e.provider.CompleteWithTools(ctx, e.session.ForAPI(), opts, pending)
		if err != nil {
			return "", e.fail(taskID, err)
		}
		e.recordUsage(taskID, reply.Usage)

		// The results are now part of the model-visible transcript;
		// mirror them into the session for subsequent requests.
		for _, r := range pending {
			e.session.AddMessage(Message{Role: RoleTool, ToolCallID: r.ToolCallID, Content: r.Output})
		}

		text, complete := InterpretCompletion(reply.Content)
		if text != "" {
			final = text
		}
		content = reply.Content

		switch {
		case complete || lastTurn:
			return e.finish(taskID, final)
		case !reply.HasToolCalls():
			if askedFinal {
				return e.finish(taskID, final)
			}
			// The model went quiet without a verdict; ask for the
			// final summary on the next iteration.
			calls = nil
		default:
			calls = reply.ToolCalls
		}
	}
}

// runToolCalls dispatches the calls in emission order, one result per
// call. Parse and execution failures become result text.
func (e *Executor) runToolCalls(ctx context.Context, taskID string, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for i, call := range calls {
		e.sink.Processing(taskID, fmt.Sprintf("running tool %d of %d", i+1, len(calls)))

		exec := e.ledger.StartToolExecution(taskID, call.Name, e.describe(call.Name))
		e.sink.ToolExecutionStarted(exec)
		e.logger.Debug("tool started",
			"task_id", taskID,
			"tool", call.Name,
			"execution_id", exec.ID)

		var output string
		var err error
		if e.gate != nil {
			err = e.gate.Authorize(call)
		}
		if err == nil {
			output, err = e.registry.Execute(ctx, call.Name, call.Arguments)
		}
		status := tasks.ExecutionSuccess
		if err != nil {
			status = tasks.ExecutionError
			var parseErr *tools.ParseError
			if errors.As(err, &parseErr) {
				output = "ERROR PARSING TOOL CALL: " + err.Error()
			} else {
				output = "ERROR EXECUTING TOOL: " + err.Error()
			}
			e.logger.Warn("tool failed", "task_id", taskID, "tool", call.Name, "error", err)
		}

		if done, ferr := e.ledger.FinishToolExecution(exec.ID, status, tasks.Preview(output)); ferr == nil {
			e.sink.ToolExecutionUpdated(done)
		}
		if status == tasks.ExecutionSuccess {
			if path := modifiedPath(call); path != "" {
				_ = e.ledger.RecordFileModified(taskID, path)
			}
		}
		if status == tasks.ExecutionError {
			e.sink.Processing(taskID, fmt.Sprintf("tool %s error", call.Name))
		} else {
			e.sink.Processing(taskID, fmt.Sprintf("tool %s ok", call.Name))
		}

		results = append(results, ToolResult{ToolCallID: resultID(call, i), Output: output})
	}
	return results
}

// modifiedPath extracts the target path from a write-capable tool
// call, for the task's modified-files record.
func modifiedPath(call ToolCall) string {
	switch call.Name {
	case "Edit", "Replace":
	default:
		return ""
	}
	var args struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return args.FilePath
}

// resultID correlates a result with its call: the provider id when
// present, the zero-based position otherwise.
func resultID(call ToolCall, index int) string {
	if call.ID != "" {
		return call.ID
	}
	return strconv.Itoa(index)
}

// checkOptions builds a completion-check turn: the structured verdict
// schema is forced and no tools are offered.
func (e *Executor) checkOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: e.config.Temperature,
		TopP:        e.config.TopP,
		MaxTokens:   e.config.MaxTokens,
		JSONSchema:  CompletionSchema(),
	}
}

// definitions renders the registry as provider-facing tool definitions.
func (e *Executor) definitions() []ToolDefinition {
	all := e.registry.Tools()
	defs := make([]ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

func (e *Executor) describe(name string) string {
	if tool, ok := e.registry.Get(name); ok {
		return tool.Description()
	}
	return ""
}

func (e *Executor) recordUsage(taskID string, usage Usage) {
	if err := e.ledger.RecordUsage(taskID, usage.InputTokens, usage.OutputTokens); err != nil {
		e.logger.Warn("record usage", "task_id", taskID, "error", err)
	}
}

// finish appends the final assistant message and seals the task.
func (e *Executor) finish(taskID, final string) (string, error) {
	e.session.AddAssistant(final)
	done, err := e.ledger.CompleteTask(taskID)
	if err != nil {
		return final, err
	}
	e.sink.TaskUpdated(done)
	e.logger.Info("task completed",
		"task_id", taskID,
		"duration", done.Duration,
		"tool_uses", done.ToolUses,
		"input_tokens", done.InputTokens,
		"output_tokens", done.OutputTokens)
	return final, nil
}

// fail seals the task as failed and returns the cause.
func (e *Executor) fail(taskID string, cause error) error {
	if done, err := e.ledger.FailTask(taskID, cause.Error()); err == nil {
		e.sink.TaskUpdated(done)
	}
	e.logger.Error("task failed", "task_id", taskID, "error", cause)
	return cause
}
