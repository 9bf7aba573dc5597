// Package tasks tracks the lifecycle of user-visible tasks and the
// tool executions they spawn. One Task is opened per top-level run
// request and moves from in-progress to exactly one terminal state;
// tool runs attach to it as ToolExecution records. The ledger backs
// the list_tasks surface and the progress notifications emitted while
// a turn is in flight.
package tasks

import (
	"time"
)

// Status represents the state of a task.
type Status string

const (
	// StatusInProgress indicates the task's run is still executing.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the run finished and produced a result.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the run ended with an error.
	StatusFailed Status = "failed"
)

// ExecutionStatus represents the state of a single tool execution.
type ExecutionStatus string

const (
	// ExecutionRunning indicates the tool is executing.
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionSuccess indicates the tool returned output.
	ExecutionSuccess ExecutionStatus = "success"

	// ExecutionError indicates the tool failed.
	ExecutionError ExecutionStatus = "error"
)

// Task is one user-visible unit of work spanning a single top-level
// run invocation.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	// Description is the user prompt that opened the task.
	Description string `json:"description"`

	// Status is the current task status.
	Status Status `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Duration is the total run time, set on completion.
	Duration time.Duration `json:"duration,omitempty"`

	// ToolUses counts the tool executions attached to this task.
	ToolUses int `json:"tool_uses"`

	// InputTokens accumulates prompt tokens across provider calls.
	InputTokens int `json:"input_tokens"`

	// OutputTokens accumulates completion tokens across provider calls.
	OutputTokens int `json:"output_tokens"`

	// FilesModified lists the workspace paths written by this task's
	// tool executions, in first-touch order without duplicates.
	FilesModified []string `json:"files_modified,omitempty"`

	// FailureReason holds the error message for failed tasks.
	FailureReason string `json:"failure_reason,omitempty"`
}

// IsTerminal returns true once the task has finished, successfully or
// not.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ToolExecution records one tool run within a task. Field names
// follow the notification wire format.
type ToolExecution struct {
	// ID is the unique identifier for this execution.
	ID string `json:"id"`

	// TaskID references the owning task.
	TaskID string `json:"task_id"`

	// Name is the tool that ran.
	Name string `json:"name"`

	// Status is the current execution status.
	Status ExecutionStatus `json:"status"`

	// StartTime is when the tool was invoked.
	StartTime time.Time `json:"startTime"`

	// EndTime is when the tool finished.
	EndTime *time.Time `json:"endTime,omitempty"`

	// Message holds a preview of the tool output or the error text.
	Message string `json:"message,omitempty"`

	// Metadata holds free-form execution details, such as the tool
	// description shown in progress displays.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsTerminal returns true once the execution has finished.
func (e *ToolExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionSuccess, ExecutionError:
		return true
	default:
		return false
	}
}
