package observability

import (
	"time"

	"github.com/crucible-ai/crucible/internal/agent"
	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/tools"
)

// Recorders adapts the metrics collector and anomaly detector to the
// recorder interfaces exposed by the loop, the tool dispatcher, and the
// sandbox manager. A single instance is shared across all three.
// Either collaborator may be nil.
type Recorders struct {
	metrics *MetricsCollector
	anomaly *AnomalyDetector
}

// NewRecorders builds the recorder set from an Observability facade.
func NewRecorders(o *Observability) *Recorders {
	return &Recorders{
		metrics: o.MetricsOrNil(),
		anomaly: o.AnomalyOrNil(),
	}
}

// RecordRun records the outcome of one orchestration run.
func (r *Recorders) RecordRun(status string, duration time.Duration, iterations int) {
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(status).Inc()
		r.metrics.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
		r.metrics.RunIterations.WithLabelValues(status).Observe(float64(iterations))
	}
	r.anomaly.Record("run", status == "error")
}

// RecordToolCall records one dispatched tool invocation.
func (r *Recorders) RecordToolCall(tool, status string, duration time.Duration) {
	if r.metrics != nil {
		r.metrics.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
	r.anomaly.Record("tool_"+tool, status == "error")
}

// RecordSandboxExecution records one sandboxed code execution.
func (r *Recorders) RecordSandboxExecution(language, status string, duration time.Duration) {
	if r.metrics != nil {
		r.metrics.SandboxExecutionsTotal.WithLabelValues(language, status).Inc()
		r.metrics.SandboxExecutionDuration.WithLabelValues(language).Observe(duration.Seconds())
	}
	r.anomaly.Record("sandbox_"+language, status != "success")
}

var (
	_ agent.Recorder   = (*Recorders)(nil)
	_ tools.Recorder   = (*Recorders)(nil)
	_ sandbox.Recorder = (*Recorders)(nil)
)
