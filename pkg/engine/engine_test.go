package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/internal/metrics"
	"github.com/arqio/verdict/internal/store"
	"github.com/arqio/verdict/pkg/schema"
)

func pricingTable() *schema.DecisionTable {
	return &schema.DecisionTable{
		ID:        "pricing",
		Name:      "Order pricing",
		HitPolicy: schema.HitPolicyFirst,
		Inputs: []schema.Input{
			{ID: "amount", Type: schema.InputNumber, Required: true},
			{ID: "region", Type: schema.InputString, Default: "EU"},
		},
		Outputs: []schema.Output{
			{ID: "tier", Type: schema.OutputString, Default: "none"},
			{ID: "discount", Type: schema.OutputNumber, Default: 0.0},
		},
		Rules: []schema.Rule{
			{
				ID: "premium",
				Conditions: map[string]schema.Condition{
					"amount": {Op: schema.OpGte, Value: 1000.0},
				},
				Outputs: map[string]schema.OutputSpec{
					"tier":     {Value: "premium"},
					"discount": {Expression: "facts.amount > 5000.0 ? 15.0 : 10.0"},
				},
			},
			{
				ID: "standard",
				Conditions: map[string]schema.Condition{
					"amount": {Op: schema.OpGte, Value: 100.0},
				},
				Outputs: map[string]schema.OutputSpec{
					"tier":     {Value: "standard"},
					"discount": {Value: 5.0},
				},
			},
		},
		TestCases: []schema.TestCase{
			{ID: "tc-premium", Facts: map[string]any{"amount": 2000.0}, Expected: map[string]any{"tier": "premium", "discount": 10.0}},
			{ID: "tc-standard", Facts: map[string]any{"amount": 150.0}, Expected: map[string]any{"tier": "standard", "discount": 5.0}},
			{ID: "tc-nomatch", Facts: map[string]any{"amount": 10.0}, Expected: map[string]any{"tier": "none", "discount": 0.0}},
			{ID: "tc-wrong", Facts: map[string]any{"amount": 150.0}, Expected: map[string]any{"tier": "premium", "discount": 5.0}},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	eng, err := New(deps)
	require.NoError(t, err)
	return eng
}

// counterValue digs one labeled counter out of a gathered registry.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					match = false
					break
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// --- Evaluate ---

func TestEvaluate_FirstMatch(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	res, err := eng.Evaluate(context.Background(), pricingTable(), map[string]any{"amount": 2000.0}, EvaluateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "premium", res.Outputs["tier"])
	assert.Equal(t, 10.0, res.Outputs["discount"])
	assert.Equal(t, []string{"premium"}, res.MatchedRuleIDs)
	assert.NotEmpty(t, res.LogEntryID)
}

func TestEvaluate_NoMatchReturnsDefaults(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	res, err := eng.Evaluate(context.Background(), pricingTable(), map[string]any{"amount": 10.0}, EvaluateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "none", res.Outputs["tier"])
	assert.Equal(t, 0.0, res.Outputs["discount"])
	assert.Empty(t, res.MatchedRuleIDs)

	// No-match is still a successful call and still audited.
	entries, err := eng.ListEvaluationLogs(context.Background(), LogQuery{TableID: "pricing"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].MatchedRuleIDs)
}

func TestEvaluate_MissingRequiredInput(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	_, err := eng.Evaluate(context.Background(), pricingTable(), map[string]any{}, EvaluateOptions{})
	require.Error(t, err)

	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeMissingInput, verr.Code)

	// Failed calls never reach the audit log.
	entries, err := eng.ListEvaluationLogs(context.Background(), LogQuery{TableID: "pricing"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEvaluate_AppendsOneLogEntryPerCall(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	ctx := context.Background()

	res, err := eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 2000.0}, EvaluateOptions{})
	require.NoError(t, err)
	_, err = eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 150.0}, EvaluateOptions{})
	require.NoError(t, err)

	entries, err := eng.ListEvaluationLogs(ctx, LogQuery{TableID: "pricing"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first; sequences are per-table and monotonic.
	assert.Equal(t, int64(2), entries[0].Sequence)
	assert.Equal(t, int64(1), entries[1].Sequence)

	// The oldest entry is the premium call, linked by LogEntryID, with the
	// effective facts including the declared region default.
	first := entries[1]
	assert.Equal(t, res.LogEntryID, first.ID)
	assert.Equal(t, schema.HitPolicyFirst, first.HitPolicy)
	assert.Equal(t, 2000.0, first.Facts["amount"])
	assert.Equal(t, "EU", first.Facts["region"])
	assert.Equal(t, "premium", first.Outputs["tier"])
	assert.Equal(t, []string{"premium"}, first.MatchedRuleIDs)
	assert.False(t, first.Timestamp.IsZero())
}

func TestEvaluate_NeverMutatesCallerState(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	tbl := pricingTable()
	before := tbl.Clone()
	facts := map[string]any{"amount": 2000.0}

	_, err := eng.Evaluate(context.Background(), tbl, facts, EvaluateOptions{})
	require.NoError(t, err)

	assert.Equal(t, before, tbl)
	assert.Equal(t, map[string]any{"amount": 2000.0}, facts)
}

func TestEvaluate_ValidateFirst(t *testing.T) {
	broken := pricingTable()
	// Rule writes to an output id the table never declares.
	broken.Rules[1].Outputs["bogus"] = schema.OutputSpec{Value: 1.0}
	eng := newTestEngine(t, Deps{})
	facts := map[string]any{"amount": 150.0}

	_, err := eng.Evaluate(context.Background(), broken, facts, EvaluateOptions{ValidateFirst: true})
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeValidation, verr.Code)

	// Without the flag the dangling spec is simply never resolved.
	res, err := eng.Evaluate(context.Background(), broken, facts, EvaluateOptions{})
	require.NoError(t, err)
	assert.NotContains(t, res.Outputs, "bogus")
	assert.Equal(t, "standard", res.Outputs["tier"])
}

func TestEvaluate_NilTable(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	_, err := eng.Evaluate(context.Background(), nil, map[string]any{}, EvaluateOptions{})
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeDefinition, verr.Code)
}

type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) AppendLogEntry(ctx context.Context, entry *schema.EvaluationLogEntry) error {
	return errors.New("disk full")
}

func TestEvaluate_LogAppendFailureDoesNotFailCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng := newTestEngine(t, Deps{
		Store:   &failingStore{MemoryStore: store.NewMemoryStore()},
		Metrics: metrics.New(reg),
	})

	res, err := eng.Evaluate(context.Background(), pricingTable(), map[string]any{"amount": 2000.0}, EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "premium", res.Outputs["tier"])

	assert.Equal(t, 1.0, counterValue(t, reg, "verdict_engine_log_append_failures_total", nil))
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng := newTestEngine(t, Deps{Metrics: metrics.New(reg)})
	ctx := context.Background()

	_, err := eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 2000.0}, EvaluateOptions{})
	require.NoError(t, err)
	_, err = eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 10.0}, EvaluateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "verdict_engine_evaluations_total",
		map[string]string{"policy": "first", "outcome": "match"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "verdict_engine_evaluations_total",
		map[string]string{"policy": "first", "outcome": "no_match"}))

	// A unique-policy double match is an error outcome plus a conflict.
	overlap := pricingTable()
	overlap.HitPolicy = schema.HitPolicyUnique
	overlap.Rules[0].Conditions["amount"] = schema.Condition{Op: schema.OpGte, Value: 100.0}
	_, err = eng.Evaluate(ctx, overlap, map[string]any{"amount": 150.0}, EvaluateOptions{})
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "verdict_engine_conflicts_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "verdict_engine_evaluations_total",
		map[string]string{"policy": "unique", "outcome": "error"}))
}

// --- Watch ---

func TestWatch_ReceivesAppendedEntries(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	ctx := context.Background()

	ch, cancel, err := eng.Watch(ctx, WatchQuery{TableID: "pricing"})
	require.NoError(t, err)
	defer cancel()

	res, err := eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 2000.0}, EvaluateOptions{})
	require.NoError(t, err)

	select {
	case entry := <-ch:
		assert.Equal(t, res.LogEntryID, entry.ID)
		assert.Equal(t, int64(1), entry.Sequence)
		assert.Equal(t, []string{"premium"}, entry.MatchedRuleIDs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log entry")
	}
}

func TestWatch_MatchedOnlySkipsNoMatch(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	ctx := context.Background()

	ch, cancel, err := eng.Watch(ctx, WatchQuery{MatchedOnly: true})
	require.NoError(t, err)
	defer cancel()

	_, err = eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": 10.0}, EvaluateOptions{})
	require.NoError(t, err)

	select {
	case entry := <-ch:
		t.Fatalf("unexpected entry: %+v", entry)
	case <-time.After(50 * time.Millisecond):
		// expected: no-match entries are filtered out
	}
}

// --- Validate ---

func TestValidate_CleanTable(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	result := eng.Validate(pricingTable())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
}

func TestValidate_ReportsIssues(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	broken := pricingTable()
	broken.Rules[0].Conditions["ghost"] = schema.Condition{Op: schema.OpEq, Value: 1.0}

	result := eng.Validate(broken)
	assert.False(t, result.Valid())
	require.NotEmpty(t, result.Errors)
}

func TestValidateFacts(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	tbl := pricingTable()

	require.NoError(t, eng.ValidateFacts(tbl, map[string]any{"amount": 100.0}))
	assert.Error(t, eng.ValidateFacts(tbl, map[string]any{"amount": "a lot"}))
}

// --- RunTestCase / RunAllTests ---

func TestRunTestCase_PassAndBookkeeping(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	tbl := pricingTable()

	result, err := eng.RunTestCase(context.Background(), tbl, "tc-premium")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "premium", result.ActualOutputs["tier"])

	assert.Equal(t, schema.TestPassed, tbl.TestCases[0].LastOutcome)
	require.NotNil(t, tbl.TestCases[0].LastRunAt)
}

func TestRunTestCase_NotFound(t *testing.T) {
	eng := newTestEngine(t, Deps{})

	_, err := eng.RunTestCase(context.Background(), pricingTable(), "ghost")
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeNotFound, verr.Code)
}

func TestRunAllTests_SummaryAndPersistedRecord(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(t, Deps{Store: st})
	tbl := pricingTable()

	summary, err := eng.RunAllTests(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, summary.Total, summary.Passed+summary.Failed)

	// Results keep declaration order; tc-wrong is the failure.
	require.Len(t, summary.Results, 4)
	assert.Equal(t, "tc-premium", summary.Results[0].TestCaseID)
	assert.Equal(t, "tc-wrong", summary.Results[3].TestCaseID)
	assert.False(t, summary.Results[3].Passed)
	require.Len(t, summary.Results[3].Diffs, 1)
	assert.Equal(t, "tier", summary.Results[3].Diffs[0].OutputID)

	// One manual-trigger run record lands in the store.
	runs, err := st.ListTestRuns(context.Background(), store.TestRunFilter{TableID: "pricing"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.TriggerManual, runs[0].Trigger)
	assert.Equal(t, 4, runs[0].Total)
	assert.Equal(t, 3, runs[0].Passed)
	assert.Equal(t, 1, runs[0].Failed)

	var persisted []*schema.TestResult
	require.NoError(t, json.Unmarshal(runs[0].Results, &persisted))
	require.Len(t, persisted, 4)
	assert.Equal(t, "tc-standard", persisted[1].TestCaseID)
}

// --- ListEvaluationLogs ---

func TestListEvaluationLogs_Paging(t *testing.T) {
	eng := newTestEngine(t, Deps{})
	ctx := context.Background()

	for _, amount := range []float64{2000, 150, 10} {
		_, err := eng.Evaluate(ctx, pricingTable(), map[string]any{"amount": amount}, EvaluateOptions{})
		require.NoError(t, err)
	}

	page, err := eng.ListEvaluationLogs(ctx, LogQuery{TableID: "pricing", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Sequence)
	assert.Equal(t, int64(2), page[1].Sequence)

	rest, err := eng.ListEvaluationLogs(ctx, LogQuery{TableID: "pricing", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(1), rest[0].Sequence)

	since, err := eng.ListEvaluationLogs(ctx, LogQuery{TableID: "pricing", SinceSequence: 2})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, int64(3), since[0].Sequence)
}
