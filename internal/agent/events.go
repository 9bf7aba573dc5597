package agent

import "github.com/rlneumiller/oli-sub000/internal/tasks"

// EventSink receives lifecycle and progress events from a running turn.
// The executor calls it inline between provider and tool calls, so
// implementations must be quick and must never block.
type EventSink interface {
	// TaskStarted fires once when a run opens its task.
	TaskStarted(task tasks.Task)

	// TaskUpdated fires when the task reaches a terminal state.
	TaskUpdated(task tasks.Task)

	// ToolExecutionStarted fires before each tool dispatch.
	ToolExecutionStarted(exec tasks.ToolExecution)

	// ToolExecutionUpdated fires after each tool dispatch with the
	// terminal status and a result preview.
	ToolExecutionUpdated(exec tasks.ToolExecution)

	// Processing carries free-form progress strings such as
	// "sending request" and "running tool 1 of 3".
	Processing(taskID, message string)
}

// NopSink discards every event. Used when no transport is attached.
type NopSink struct{}

func (NopSink) TaskStarted(tasks.Task)                   {}
func (NopSink) TaskUpdated(tasks.Task)                   {}
func (NopSink) ToolExecutionStarted(tasks.ToolExecution) {}
func (NopSink) ToolExecutionUpdated(tasks.ToolExecution) {}
func (NopSink) Processing(string, string)                {}
