package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arqio/verdict/pkg/schema"
)

// Evaluation outcome labels.
const (
	OutcomeMatch   = "match"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// Test case outcome labels.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
)

// Metrics tracks decision engine activity on a Prometheus registry.
//
// Metrics:
//   - verdict_engine_evaluations_total: evaluations by hit policy and outcome
//   - verdict_engine_evaluation_duration_seconds: evaluation latency histogram by hit policy
//   - verdict_engine_conflicts_total: unique-policy conflicts raised at evaluation time
//   - verdict_engine_expression_timeouts_total: expressions killed by the evaluation budget
//   - verdict_engine_test_cases_total: regression test case executions by outcome
//   - verdict_engine_log_append_failures_total: evaluation log writes that failed
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	conflictsTotal     prometheus.Counter
	expressionTimeouts prometheus.Counter
	testCasesTotal     *prometheus.CounterVec
	logAppendFailures  prometheus.Counter
}

// New creates and registers engine metrics with the provided registry.
// If registry is nil, a fresh registry is used.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "evaluations_total",
				Help:      "Total number of decision table evaluations",
			},
			[]string{"policy", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of decision table evaluations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00025, 4, 8), // 250µs to ~4s
			},
			[]string{"policy"},
		),

		conflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "conflicts_total",
				Help:      "Total number of unique hit policy conflicts",
			},
		),

		expressionTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "expression_timeouts_total",
				Help:      "Total number of output expressions stopped by the evaluation budget",
			},
		),

		testCasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "test_cases_total",
				Help:      "Total number of regression test case executions",
			},
			[]string{"outcome"},
		),

		logAppendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "verdict",
				Subsystem: "engine",
				Name:      "log_append_failures_total",
				Help:      "Total number of evaluation log append failures",
			},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.conflictsTotal,
		m.expressionTimeouts,
		m.testCasesTotal,
		m.logAppendFailures,
	)

	return m
}

// RecordEvaluation records one completed evaluation.
func (m *Metrics) RecordEvaluation(policy schema.HitPolicy, outcome string, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(string(policy), outcome).Inc()
	m.evaluationDuration.WithLabelValues(string(policy)).Observe(duration.Seconds())
}

// RecordConflict records a unique-policy conflict.
func (m *Metrics) RecordConflict() {
	m.conflictsTotal.Inc()
}

// RecordExpressionTimeout records an expression stopped by the budget.
func (m *Metrics) RecordExpressionTimeout() {
	m.expressionTimeouts.Inc()
}

// RecordTestCases records the outcome counts of a regression suite run.
func (m *Metrics) RecordTestCases(passed, failed int) {
	if passed > 0 {
		m.testCasesTotal.WithLabelValues(OutcomePassed).Add(float64(passed))
	}
	if failed > 0 {
		m.testCasesTotal.WithLabelValues(OutcomeFailed).Add(float64(failed))
	}
}

// RecordLogAppendFailure records an evaluation log write that failed.
func (m *Metrics) RecordLogAppendFailure() {
	m.logAppendFailures.Inc()
}
