// Package metrics instruments the agent engine with Prometheus
// collectors. The Sink type decorates the executor's event sink, so
// the executor itself stays free of metrics concerns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rlneumiller/oli-sub000/internal/tasks"
)

// Metrics holds the engine's collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	tokens        *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	providerCalls prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oli_tasks_started_total",
			Help: "Number of run requests started.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oli_tasks_finished_total",
			Help: "Number of run requests finished, by terminal status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oli_task_duration_seconds",
			Help:    "Wall time per completed task.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oli_tokens_total",
			Help: "Token usage accumulated across provider calls.",
		}, []string{"direction"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oli_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oli_tool_duration_seconds",
			Help:    "Wall time per tool execution.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"tool"}),
		providerCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oli_provider_requests_total",
			Help: "Completion requests sent to the provider.",
		}),
	}
	m.registry.MustRegister(
		m.tasksStarted,
		m.tasksFinished,
		m.taskDuration,
		m.tokens,
		m.toolRuns,
		m.toolDuration,
		m.providerCalls,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// EventSink is the subset of the agent's sink contract the decorator
// forwards to. Declared locally to avoid importing the agent package.
type EventSink interface {
	TaskStarted(task tasks.Task)
	TaskUpdated(task tasks.Task)
	ToolExecutionStarted(exec tasks.ToolExecution)
	ToolExecutionUpdated(exec tasks.ToolExecution)
	Processing(taskID, message string)
}

// Sink records metrics for each event and forwards it to the wrapped
// sink. It satisfies agent.EventSink.
type Sink struct {
	metrics *Metrics
	next    EventSink
}

// NewSink decorates next with metric recording.
func NewSink(metrics *Metrics, next EventSink) *Sink {
	return &Sink{metrics: metrics, next: next}
}

func (s *Sink) TaskStarted(task tasks.Task) {
	s.metrics.tasksStarted.Inc()
	s.next.TaskStarted(task)
}

func (s *Sink) TaskUpdated(task tasks.Task) {
	if task.IsTerminal() {
		s.metrics.tasksFinished.WithLabelValues(string(task.Status)).Inc()
		s.metrics.taskDuration.Observe(task.Duration.Seconds())
		s.metrics.tokens.WithLabelValues("input").Add(float64(task.InputTokens))
		s.metrics.tokens.WithLabelValues("output").Add(float64(task.OutputTokens))
	}
	s.next.TaskUpdated(task)
}

func (s *Sink) ToolExecutionStarted(exec tasks.ToolExecution) {
	s.next.ToolExecutionStarted(exec)
}

func (s *Sink) ToolExecutionUpdated(exec tasks.ToolExecution) {
	if exec.IsTerminal() {
		s.metrics.toolRuns.WithLabelValues(exec.Name, string(exec.Status)).Inc()
		if exec.EndTime != nil {
			s.metrics.toolDuration.WithLabelValues(exec.Name).
				Observe(exec.EndTime.Sub(exec.StartTime).Seconds())
		}
	}
	s.next.ToolExecutionUpdated(exec)
}

func (s *Sink) Processing(taskID, message string) {
	if message == "sending request" {
		s.metrics.providerCalls.Inc()
	}
	s.next.Processing(taskID, message)
}
