// Package metrics provides internal metrics collection for workflow
// execution. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates Prometheus metrics for the DAG engine and the
// action round-loop.
type Collector struct {
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	roundsTotal         *prometheus.CounterVec
	roundDuration       *prometheus.HistogramVec
	toolCallsTotal      *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	tokensUsed          *prometheus.CounterVec
	workflowsActive     prometheus.Gauge
}

// NewCollector creates a Collector registered against reg. Passing a
// dedicated prometheus.NewRegistry keeps test instances isolated.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		nodeExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions by terminal status.",
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time per node execution.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
		roundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_rounds_total",
			Help:      "Round-loop iterations by outcome.",
		}, []string{"outcome"}),
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_round_duration_seconds",
			Help:      "Wall time per round (LLM turn plus tool call).",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),
		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Wall time per tool invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
		tokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by direction.",
		}, []string{"direction"}),
		workflowsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_active",
			Help:      "Workflow executions currently in flight.",
		}),
	}
}

// WorkflowStarted marks one execution in flight.
func (c *Collector) WorkflowStarted() {
	if c == nil {
		return
	}
	c.workflowsActive.Inc()
}

// WorkflowFinished marks one execution as done.
func (c *Collector) WorkflowFinished() {
	if c == nil {
		return
	}
	c.workflowsActive.Dec()
}

// ObserveNode records a node execution.
func (c *Collector) ObserveNode(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(status).Inc()
	c.nodeDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveRound records one round-loop iteration.
func (c *Collector) ObserveRound(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.roundsTotal.WithLabelValues(outcome).Inc()
	c.roundDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveToolCall records one tool invocation.
func (c *Collector) ObserveToolCall(toolName, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(toolName, status).Inc()
	c.toolDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// AddTokens records token usage for one LLM turn.
func (c *Collector) AddTokens(prompt, completion int) {
	if c == nil {
		return
	}
	c.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	c.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}
