package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeQuota       = "quota_exhausted"
	OutcomeProtocol    = "protocol_violation"
	OutcomeError       = "error"
)

type moduleMetrics struct {
	providerAttemptsTotal *prometheus.CounterVec
	providerCallDuration  *prometheus.HistogramVec
	backoffSeconds        *prometheus.HistogramVec
	pacingWaitsTotal      *prometheus.CounterVec
	failoverTotal         *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	writeBarrierTotal     *prometheus.CounterVec

	agentRunTotal       *prometheus.CounterVec
	agentRunDuration    prometheus.Histogram
	agentRunIterations  prometheus.Histogram
	exchangePinnedGauge *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_provider_attempts_total",
					Help: "Provider call attempts by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "backlogpilot_provider_call_duration_seconds",
					Help:    "Provider call latency in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			backoffSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "backlogpilot_backoff_seconds",
					Help:    "Backoff sleeps before retrying a rate limited provider.",
					Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
				},
				[]string{"provider"},
			),
			pacingWaitsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_rate_limit_pacing_waits_total",
					Help: "Times a call waited for a rate limiter token.",
				},
				[]string{"provider"},
			),
			failoverTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_provider_failover_total",
					Help: "Times dispatch moved past a provider.",
				},
				[]string{"provider", "reason"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "backlogpilot_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			writeBarrierTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_write_barrier_rejections_total",
					Help: "Destructive tool calls refused for missing confirmation.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backlogpilot_agent_runs_total",
					Help: "Agent runs by terminal status.",
				},
				[]string{"status"},
			),
			agentRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "backlogpilot_agent_run_duration_seconds",
					Help:    "Agent run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			agentRunIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "backlogpilot_agent_run_iterations",
					Help:    "Loop iterations used per agent run.",
					Buckets: prometheus.LinearBuckets(1, 1, 12),
				},
			),
			exchangePinnedGauge: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backlogpilot_tool_exchange_pinned",
					Help: "Runs currently pinned to a provider by an open tool exchange.",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.providerAttemptsTotal,
			m.providerCallDuration,
			m.backoffSeconds,
			m.pacingWaitsTotal,
			m.failoverTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.writeBarrierTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRunIterations,
			m.exchangePinnedGauge,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordProviderAttempt(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.providerAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordBackoff(provider string, delay time.Duration) {
	getMetrics().backoffSeconds.WithLabelValues(provider).Observe(delay.Seconds())
}

func RecordPacingWait(provider string) {
	getMetrics().pacingWaitsTotal.WithLabelValues(provider).Inc()
}

func RecordFailover(provider, reason string) {
	getMetrics().failoverTotal.WithLabelValues(provider, reason).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordWriteBarrierRejection(tool string) {
	getMetrics().writeBarrierTotal.WithLabelValues(tool).Inc()
}

// RecordAgentRun counts a finished run by its terminal status ("done" or "failed").
func RecordAgentRun(status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(status).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
	m.agentRunIterations.Observe(float64(iterations))
}

func SetExchangePinned(provider string, pinned bool) {
	m := getMetrics()
	if pinned {
		m.exchangePinnedGauge.WithLabelValues(provider).Inc()
		return
	}
	m.exchangePinnedGauge.WithLabelValues(provider).Dec()
}
