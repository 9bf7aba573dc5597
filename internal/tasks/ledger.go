package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is an in-memory record of tasks and their tool executions.
// All methods are safe for concurrent use; accessors return copies so
// callers can marshal or mutate them without holding the lock.
type Ledger struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	taskOrder []string
	execs     map[string]*ToolExecution
	execOrder []string
	retention int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tasks: make(map[string]*Task),
		execs: make(map[string]*ToolExecution),
	}
}

// StartTask opens a new in-progress task for a run request.
func (l *Ledger) StartTask(description string) Task {
	task := &Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusInProgress,
		StartedAt:   time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks[task.ID] = task
	l.taskOrder = append(l.taskOrder, task.ID)
	return *task
}

// RecordUsage adds provider token counts to an in-flight task.
func (l *Ledger) RecordUsage(taskID string, inputTokens, outputTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	task.InputTokens += inputTokens
	task.OutputTokens += outputTokens
	return nil
}

// RecordFileModified notes a path written by one of the task's tool
// executions. Repeated writes to the same path are recorded once.
func (l *Ledger) RecordFileModified(taskID, path string) error {
	if path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	for _, existing := range task.FilesModified {
		if existing == path {
			return nil
		}
	}
	task.FilesModified = append(task.FilesModified, path)
	return nil
}

// CompleteTask moves a task to its completed state, sealing duration
// and counters. A task can reach a terminal state only once.
func (l *Ledger) CompleteTask(taskID string) (Task, error) {
	return l.finishTask(taskID, StatusCompleted, "")
}

// FailTask moves a task to its failed state with the given reason.
func (l *Ledger) FailTask(taskID, reason string) (Task, error) {
	return l.finishTask(taskID, StatusFailed, reason)
}

func (l *Ledger) finishTask(taskID string, status Status, reason string) (Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("unknown task %s", taskID)
	}
	if task.IsTerminal() {
		return Task{}, fmt.Errorf("task %s already finished as %s", taskID, task.Status)
	}

	now := time.Now()
	task.Status = status
	task.FinishedAt = &now
	task.Duration = now.Sub(task.StartedAt)
	task.FailureReason = reason
	snapshot := snapshotTask(task)
	l.pruneLocked()
	return snapshot, nil
}

// SetRetention caps how many tasks the ledger keeps. When a task
// reaches a terminal state and the ledger is over the cap, the oldest
// terminal tasks and their executions are dropped. Zero means
// unlimited.
func (l *Ledger) SetRetention(max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retention = max
	l.pruneLocked()
}

func (l *Ledger) pruneLocked() {
	if l.retention <= 0 || len(l.taskOrder) <= l.retention {
		return
	}
	// The newest tasks within the cap are always kept; older ones are
	// dropped once terminal. In-flight tasks survive regardless of age.
	protected := len(l.taskOrder) - l.retention
	kept := l.taskOrder[:0]
	for i, id := range l.taskOrder {
		if i < protected && l.tasks[id].IsTerminal() {
			delete(l.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	l.taskOrder = kept

	keptExecs := l.execOrder[:0]
	for _, id := range l.execOrder {
		if _, ok := l.tasks[l.execs[id].TaskID]; !ok {
			delete(l.execs, id)
			continue
		}
		keptExecs = append(keptExecs, id)
	}
	l.execOrder = keptExecs
}

// Task returns a snapshot of a task.
func (l *Ledger) Task(taskID string) (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return snapshotTask(task), true
}

// Tasks returns snapshots of all tasks in creation order.
func (l *Ledger) Tasks() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Task, 0, len(l.taskOrder))
	for _, id := range l.taskOrder {
		out = append(out, snapshotTask(l.tasks[id]))
	}
	return out
}

func snapshotTask(task *Task) Task {
	out := *task
	if task.FilesModified != nil {
		out.FilesModified = append([]string(nil), task.FilesModified...)
	}
	return out
}

// StartToolExecution attaches a running tool execution to a task and
// bumps the task's tool-use counter.
func (l *Ledger) StartToolExecution(taskID, name, description string) ToolExecution {
	exec := &ToolExecution{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Name:      name,
		Status:    ExecutionRunning,
		StartTime: time.Now(),
	}
	if description != "" {
		exec.Metadata = map[string]any{"description": description}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.execs[exec.ID] = exec
	l.execOrder = append(l.execOrder, exec.ID)
	if task, ok := l.tasks[taskID]; ok {
		task.ToolUses++
	}
	return snapshotExecution(exec)
}

// FinishToolExecution moves an execution to success or error with a
// message previewing the result.
func (l *Ledger) FinishToolExecution(execID string, status ExecutionStatus, message string) (ToolExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exec, ok := l.execs[execID]
	if !ok {
		return ToolExecution{}, fmt.Errorf("unknown tool execution %s", execID)
	}
	if exec.IsTerminal() {
		return ToolExecution{}, fmt.Errorf("tool execution %s already finished as %s", execID, exec.Status)
	}

	now := time.Now()
	exec.Status = status
	exec.EndTime = &now
	exec.Message = message
	return snapshotExecution(exec), nil
}

// ToolExecutions returns snapshots of a task's executions in start
// order. An empty taskID returns every execution.
func (l *Ledger) ToolExecutions(taskID string) []ToolExecution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ToolExecution
	for _, id := range l.execOrder {
		exec := l.execs[id]
		if taskID != "" && exec.TaskID != taskID {
			continue
		}
		out = append(out, snapshotExecution(exec))
	}
	return out
}

func snapshotExecution(exec *ToolExecution) ToolExecution {
	out := *exec
	if exec.Metadata != nil {
		out.Metadata = make(map[string]any, len(exec.Metadata))
		for k, v := range exec.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
