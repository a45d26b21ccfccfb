// Package engine is the public entry point for decision table operations:
// static validation, evaluation, regression testing, and audit log access.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arqio/verdict/internal/eval"
	"github.com/arqio/verdict/internal/expressions"
	"github.com/arqio/verdict/internal/logging"
	"github.com/arqio/verdict/internal/metrics"
	"github.com/arqio/verdict/internal/store"
	"github.com/arqio/verdict/internal/streaming"
	"github.com/arqio/verdict/internal/testrunner"
	"github.com/arqio/verdict/internal/validation"
	"github.com/arqio/verdict/pkg/schema"
)

// Deps holds the collaborators for creating an Engine. Every field is
// optional: the zero value yields a self-contained in-memory engine with
// expr-lang expressions and a private metrics registry.
type Deps struct {
	Store     store.Store        // nil = in-memory store
	Hub       streaming.LogHub   // nil = in-process hub
	Metrics   *metrics.Metrics   // nil = collectors on a private registry
	Evaluator expressions.Engine // nil = expr-lang
	Logger    *slog.Logger       // nil = text handler on stderr

	PoolSize          int           // max concurrent test-case goroutines
	ExpressionTimeout time.Duration // per-expression budget (zero = 1s)
}

// Engine coordinates the validator, evaluator, test runner, log store, and
// live log hub behind one API. Safe for concurrent use.
type Engine struct {
	store     store.Store
	hub       streaming.LogHub
	metrics   *metrics.Metrics
	validator *validation.TableValidator
	evaluator *eval.Engine
	runner    *testrunner.Runner
	logger    *slog.Logger
}

// New creates an Engine. The only error source is compiling the embedded
// table schema.
func New(deps Deps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	// Wrap once so every record carries the table/evaluation/test-case ids
	// travelling in the context. Callers pass an unwrapped logger.
	logger = slog.New(logging.NewCorrelationHandler(logger.Handler()))

	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	hub := deps.Hub
	if hub == nil {
		hub = streaming.NewMemoryHub()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	exprEngine := deps.Evaluator
	if exprEngine == nil {
		exprEngine = expressions.NewExprEngine()
	}

	validator, err := validation.NewTableValidator()
	if err != nil {
		return nil, err
	}

	resolver := expressions.NewResolver(exprEngine, deps.ExpressionTimeout)
	evaluator := eval.New(resolver, validator)
	runner := testrunner.NewRunner(evaluator, testrunner.Config{
		PoolSize: deps.PoolSize,
		Logger:   logger,
	})

	return &Engine{
		store:     st,
		hub:       hub,
		metrics:   m,
		validator: validator,
		evaluator: evaluator,
		runner:    runner,
		logger:    logger,
	}, nil
}

// EvaluateOptions configure a single Evaluate call.
type EvaluateOptions struct {
	// ValidateFirst rejects the call up front when the static validator
	// reports hard errors on the snapshot.
	ValidateFirst bool
}

// Result is the outcome of one successful Evaluate call.
type Result struct {
	Outputs        map[string]any `json:"outputs"`
	MatchedRuleIDs []string       `json:"matched_rule_ids"`
	LogEntryID     string         `json:"log_entry_id,omitempty"`
}

// LogQuery selects audit log entries. The zero value returns the newest
// entries across every table.
type LogQuery struct {
	TableID       string // restrict to one table
	SinceSequence int64  // only entries above this per-table sequence
	Limit         int
	Offset        int
}

// WatchQuery filters a live log subscription. The zero value receives every
// appended entry.
type WatchQuery struct {
	TableID     string
	MatchedOnly bool
}

// Validate runs the full static pipeline on the table. It never returns an
// error: every finding, error or warning, lands in the result.
func (e *Engine) Validate(table *schema.DecisionTable) *schema.ValidationResult {
	return e.validator.Validate(table)
}

// ValidateFacts checks a fact document against the table's declared Inputs
// without evaluating anything.
func (e *Engine) ValidateFacts(table *schema.DecisionTable, facts map[string]any) error {
	return e.validator.ValidateFacts(table, facts)
}

// Evaluate computes outputs for the supplied facts against a snapshot of the
// table taken at call start, so a concurrent edit of the caller's copy can
// never bleed into a running call. All-or-nothing: an error means no
// outputs. Each successful call appends one audit log entry; losing that
// append is logged and counted but does not turn a computed result into an
// error.
func (e *Engine) Evaluate(ctx context.Context, table *schema.DecisionTable, facts map[string]any, opts EvaluateOptions) (*Result, error) {
	if table == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "decision table is nil")
	}

	snapshot := table.Clone()
	evaluationID := uuid.NewString()
	ctx = logging.WithTableID(ctx, snapshot.ID)
	ctx = logging.WithEvaluationID(ctx, evaluationID)

	start := time.Now()
	res, err := e.evaluator.Evaluate(ctx, snapshot, schema.CloneFacts(facts), eval.Options{
		ValidateFirst: opts.ValidateFirst,
	})
	elapsed := time.Since(start)

	if err != nil {
		e.recordFailure(snapshot.HitPolicy, err, elapsed)
		e.logger.ErrorContext(ctx, "evaluation failed", slog.String("error", err.Error()))
		return nil, err
	}

	outcome := metrics.OutcomeNoMatch
	if len(res.MatchedRuleIDs) > 0 {
		outcome = metrics.OutcomeMatch
	}
	e.metrics.RecordEvaluation(snapshot.HitPolicy, outcome, elapsed)

	entry := schema.EvaluationLogEntry{
		ID:             evaluationID,
		TableID:        snapshot.ID,
		Timestamp:      time.Now().UTC(),
		HitPolicy:      snapshot.HitPolicy,
		Facts:          res.Facts,
		Outputs:        res.Outputs,
		MatchedRuleIDs: res.MatchedRuleIDs,
	}
	if appendErr := e.store.AppendLogEntry(ctx, &entry); appendErr != nil {
		e.metrics.RecordLogAppendFailure()
		e.logger.ErrorContext(ctx, "audit log append failed", slog.String("error", appendErr.Error()))
	} else if pubErr := e.hub.Publish(ctx, entry); pubErr != nil {
		e.logger.DebugContext(ctx, "log entry publish skipped", slog.String("error", pubErr.Error()))
	}

	return &Result{
		Outputs:        res.Outputs,
		MatchedRuleIDs: res.MatchedRuleIDs,
		LogEntryID:     entry.ID,
	}, nil
}

// RunTestCase executes one test case by id. Unlike Evaluate, Run methods
// operate on the caller's table directly: the runner is the sole writer of
// the per-case bookkeeping fields (LastOutcome, LastRunAt) and those updates
// must land on the live table, not a snapshot.
func (e *Engine) RunTestCase(ctx context.Context, table *schema.DecisionTable, testCaseID string) (*schema.TestResult, error) {
	if table == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "decision table is nil")
	}
	ctx = logging.WithTableID(ctx, table.ID)

	result, err := e.runner.RunTestCase(ctx, table, testCaseID)
	if err != nil {
		return nil, err
	}
	if result.Passed {
		e.metrics.RecordTestCases(1, 0)
	} else {
		e.metrics.RecordTestCases(0, 1)
	}
	return result, nil
}

// RunAllTests executes the table's whole regression suite and persists a run
// record. Results come back in declaration order and Passed+Failed always
// equals Total; a per-case failure never aborts the batch. A record persist
// failure is logged but never discards computed results.
func (e *Engine) RunAllTests(ctx context.Context, table *schema.DecisionTable) (*schema.TestRunSummary, error) {
	if table == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "decision table is nil")
	}
	ctx = logging.WithTableID(ctx, table.ID)

	start := time.Now()
	summary := e.runner.RunAll(ctx, table)
	elapsed := time.Since(start)

	e.metrics.RecordTestCases(summary.Passed, summary.Failed)
	e.logger.InfoContext(ctx, "regression suite finished",
		slog.Int("total", summary.Total),
		slog.Int("passed", summary.Passed),
		slog.Int("failed", summary.Failed),
	)

	if err := e.saveRun(ctx, summary, start, elapsed); err != nil {
		e.logger.ErrorContext(ctx, "test run persist failed", slog.String("error", err.Error()))
	}
	return summary, nil
}

// ListEvaluationLogs pages the audit log newest-first.
func (e *Engine) ListEvaluationLogs(ctx context.Context, q LogQuery) ([]*schema.EvaluationLogEntry, error) {
	entries, err := e.store.ListLogEntries(ctx, store.LogFilter{
		TableID:       q.TableID,
		SinceSequence: q.SinceSequence,
		Limit:         q.Limit,
		Offset:        q.Offset,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"list evaluation logs: %s", err.Error()).WithCause(err)
	}
	return entries, nil
}

// Watch subscribes to audit log entries as evaluations append them. The
// returned cancel must be called to release the subscription. Slow receivers
// miss entries rather than stall evaluations.
func (e *Engine) Watch(ctx context.Context, q WatchQuery) (<-chan schema.EvaluationLogEntry, func(), error) {
	return e.hub.Subscribe(ctx, streaming.EntryFilter{
		TableID:     q.TableID,
		MatchedOnly: q.MatchedOnly,
	})
}

// Runner returns the underlying suite runner for callers that manage their
// own run records, such as the cron scheduler.
func (e *Engine) Runner() *testrunner.Runner {
	return e.runner
}

func (e *Engine) saveRun(ctx context.Context, summary *schema.TestRunSummary, start time.Time, elapsed time.Duration) error {
	results, err := json.Marshal(summary.Results)
	if err != nil {
		return err
	}
	return e.store.SaveTestRun(ctx, &store.TestRunRecord{
		TableID:    summary.TableID,
		Trigger:    store.TriggerManual,
		Total:      summary.Total,
		Passed:     summary.Passed,
		Failed:     summary.Failed,
		Results:    results,
		StartedAt:  start.UTC(),
		DurationMs: elapsed.Milliseconds(),
	})
}

func (e *Engine) recordFailure(policy schema.HitPolicy, err error, elapsed time.Duration) {
	var verr *schema.VerdictError
	if errors.As(err, &verr) && verr.Code == schema.ErrCodeConflict {
		e.metrics.RecordConflict()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e.metrics.RecordExpressionTimeout()
	}
	e.metrics.RecordEvaluation(policy, metrics.OutcomeError, elapsed)
}
