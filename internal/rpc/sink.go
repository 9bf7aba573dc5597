package rpc

import (
	"github.com/rlneumiller/oli-sub000/internal/tasks"
)

// Notification methods emitted while a turn is in flight. A UI
// subscribes to the ones it renders; unsubscribed methods are dropped
// before serialization.
const (
	EventTaskStarted          = "task_started"
	EventTaskUpdated          = "task_updated"
	EventToolExecutionStarted = "tool_execution_started"
	EventToolExecutionUpdated = "tool_execution_updated"
	EventProcessing           = "processing"
)

// Sink adapts the server's notification channel to the executor's
// event interface. It satisfies agent.EventSink.
type Sink struct {
	server *Server
}

// NewSink creates a sink publishing through the given server.
func NewSink(server *Server) *Sink {
	return &Sink{server: server}
}

// TaskStarted publishes the opened task.
func (s *Sink) TaskStarted(task tasks.Task) {
	s.server.Publish(EventTaskStarted, task)
}

// TaskUpdated publishes the task's terminal state.
func (s *Sink) TaskUpdated(task tasks.Task) {
	s.server.Publish(EventTaskUpdated, task)
}

// ToolExecutionStarted publishes a tool dispatch.
func (s *Sink) ToolExecutionStarted(exec tasks.ToolExecution) {
	s.server.Publish(EventToolExecutionStarted, exec)
}

// ToolExecutionUpdated publishes a tool result.
func (s *Sink) ToolExecutionUpdated(exec tasks.ToolExecution) {
	s.server.Publish(EventToolExecutionUpdated, exec)
}

// Processing publishes a free-form progress string.
func (s *Sink) Processing(taskID, message string) {
	s.server.Publish(EventProcessing, map[string]string{
		"task_id": taskID,
		"message": message,
	})
}
