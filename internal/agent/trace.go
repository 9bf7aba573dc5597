package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rlneumiller/oli-sub000/internal/tasks"
)

// traceVersion is the schema version written in the header line.
const traceVersion = 1

// traceHeader is the first line of a trace file.
type traceHeader struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// traceEvent is one JSONL line after the header.
type traceEvent struct {
	Time    time.Time            `json:"time"`
	Type    string               `json:"type"`
	TaskID  string               `json:"task_id,omitempty"`
	Message string               `json:"message,omitempty"`
	Task    *tasks.Task          `json:"task,omitempty"`
	Exec    *tasks.ToolExecution `json:"exec,omitempty"`
}

// TraceSink writes every event as one JSON line, decorating another
// sink. Lines are flushed per event so a crashed run still leaves a
// usable trace.
type TraceSink struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	next   EventSink
	failed bool
}

// NewTraceSink decorates next with JSONL tracing onto w. The header
// line is written immediately.
func NewTraceSink(w io.Writer, next EventSink) *TraceSink {
	if next == nil {
		next = NopSink{}
	}
	s := &TraceSink{w: w, next: next}
	s.writeLine(traceHeader{
		Version:   traceVersion,
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	})
	return s
}

// NewTraceFileSink opens (or truncates) path and traces onto it.
func NewTraceFileSink(path string, next EventSink) (*TraceSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	s := NewTraceSink(file, next)
	s.file = file
	return s, nil
}

// Close closes the underlying file if this sink opened one.
func (s *TraceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *TraceSink) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		// A broken trace target must not take the run down with it.
		s.failed = true
	}
}

func (s *TraceSink) event(e traceEvent) {
	e.Time = time.Now().UTC()
	s.writeLine(e)
}

func (s *TraceSink) TaskStarted(task tasks.Task) {
	s.event(traceEvent{Type: "task_started", TaskID: task.ID, Task: &task})
	s.next.TaskStarted(task)
}

func (s *TraceSink) TaskUpdated(task tasks.Task) {
	s.event(traceEvent{Type: "task_updated", TaskID: task.ID, Task: &task})
	s.next.TaskUpdated(task)
}

func (s *TraceSink) ToolExecutionStarted(exec tasks.ToolExecution) {
	s.event(traceEvent{Type: "tool_execution_started", TaskID: exec.TaskID, Exec: &exec})
	s.next.ToolExecutionStarted(exec)
}

func (s *TraceSink) ToolExecutionUpdated(exec tasks.ToolExecution) {
	s.event(traceEvent{Type: "tool_execution_updated", TaskID: exec.TaskID, Exec: &exec})
	s.next.ToolExecutionUpdated(exec)
}

func (s *TraceSink) Processing(taskID, message string) {
	s.event(traceEvent{Type: "processing", TaskID: taskID, Message: message})
	s.next.Processing(taskID, message)
}
