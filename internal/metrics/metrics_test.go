package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/pkg/schema"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	// Histograms only appear after the first observation; counters with no
	// labels are exported immediately.
	m.RecordEvaluation(schema.HitPolicyFirst, OutcomeMatch, time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["verdict_engine_evaluations_total"])
	assert.True(t, names["verdict_engine_evaluation_duration_seconds"])
	assert.True(t, names["verdict_engine_conflicts_total"])
	assert.True(t, names["verdict_engine_expression_timeouts_total"])
	assert.True(t, names["verdict_engine_log_append_failures_total"])
}

func TestNewWithNilRegistry(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.RecordConflict()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsTotal))
}

func TestRecordEvaluation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEvaluation(schema.HitPolicyFirst, OutcomeMatch, 2*time.Millisecond)
	m.RecordEvaluation(schema.HitPolicyFirst, OutcomeMatch, 3*time.Millisecond)
	m.RecordEvaluation(schema.HitPolicyFirst, OutcomeNoMatch, time.Millisecond)
	m.RecordEvaluation(schema.HitPolicyCollect, OutcomeError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("first", OutcomeMatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("first", OutcomeNoMatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("collect", OutcomeError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.evaluationsTotal.WithLabelValues("unique", OutcomeMatch)))
}

func TestRecordConflictAndTimeout(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordConflict()
	m.RecordConflict()
	m.RecordExpressionTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflictsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expressionTimeouts))
}

func TestRecordTestCases(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTestCases(3, 1)
	m.RecordTestCases(2, 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.testCasesTotal.WithLabelValues(OutcomePassed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.testCasesTotal.WithLabelValues(OutcomeFailed)))
}

func TestRecordLogAppendFailure(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordLogAppendFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logAppendFailures))
}
