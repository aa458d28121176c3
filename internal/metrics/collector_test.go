package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("taskflow", reg)

	c.WorkflowStarted()
	c.ObserveNode("executed", 120*time.Millisecond)
	c.ObserveNode("executed", 80*time.Millisecond)
	c.ObserveNode("failed", 10*time.Millisecond)
	c.ObserveToolCall("web_search", "ok", 40*time.Millisecond)
	c.AddTokens(100, 25)
	c.WorkflowFinished()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.nodeExecutionsTotal.WithLabelValues("executed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.nodeExecutionsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("web_search", "ok")))
	assert.Equal(t, float64(100), testutil.ToFloat64(c.tokensUsed.WithLabelValues("prompt")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.workflowsActive))
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector

	// Instrumentation is optional; a nil collector must be a no-op.
	c.WorkflowStarted()
	c.ObserveNode("executed", time.Second)
	c.ObserveRound("tool", time.Second)
	c.ObserveToolCall("t", "ok", time.Second)
	c.AddTokens(1, 1)
	c.WorkflowFinished()
}
