package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's prometheus instrumentation.
type Metrics struct {
	Iterations     prometheus.Histogram
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	Fallbacks      prometheus.Counter
	Recoveries     prometheus.Counter
	ActiveRuns     prometheus.Gauge
}

// MustNewMetrics builds and registers the engine metrics, panicking on
// duplicate registration.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scout",
			Name:      "run_iterations",
			Help:      "Reasoning-loop iterations per completed run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scout",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scout",
			Name:      "model_fallbacks_total",
			Help:      "Model fallback transitions.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scout",
			Name:      "recovery_responses_total",
			Help:      "Runs whose final answer came from the recovery manager.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scout",
			Name:      "active_runs",
			Help:      "Runs currently in flight.",
		}),
	}
	reg.MustRegister(m.Iterations, m.ToolExecutions, m.ToolDuration, m.Fallbacks, m.Recoveries, m.ActiveRuns)
	return m
}

func (m *Metrics) observeTool(tool string, success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

func (m *Metrics) observeFallback() {
	if m == nil {
		return
	}
	m.Fallbacks.Inc()
}

func (m *Metrics) observeRecovery() {
	if m == nil {
		return
	}
	m.Recoveries.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) runFinished(iterations int) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.Iterations.Observe(float64(iterations))
}
