package testrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arqio/verdict/internal/eval"
	"github.com/arqio/verdict/internal/logging"
	"github.com/arqio/verdict/pkg/schema"
)

// DefaultPoolSize is the default concurrent test case limit.
const DefaultPoolSize = 8

// Evaluator runs one table evaluation. Satisfied by *eval.Engine and test
// fakes.
type Evaluator interface {
	Evaluate(ctx context.Context, table *schema.DecisionTable, facts map[string]any, opts eval.Options) (*eval.Result, error)
}

var _ Evaluator = (*eval.Engine)(nil)

// Config holds runner configuration.
type Config struct {
	PoolSize int // max concurrent test case goroutines
	Logger   *slog.Logger
}

// Runner replays stored test cases through the evaluation engine and diffs
// the actual outputs against the expectations. It is the only component
// that writes TestCase.LastOutcome and LastRunAt.
type Runner struct {
	evaluator Evaluator
	poolSize  int
	logger    *slog.Logger
}

// NewRunner creates a test runner backed by the given evaluator.
func NewRunner(evaluator Evaluator, cfg Config) *Runner {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		evaluator: evaluator,
		poolSize:  cfg.PoolSize,
		logger:    logger,
	}
}

// RunTestCase replays a single stored test case by id. The case's
// LastOutcome and LastRunAt fields are updated in place. Returns NOT_FOUND
// when the table stores no case with that id.
func (r *Runner) RunTestCase(ctx context.Context, table *schema.DecisionTable, testCaseID string) (*schema.TestResult, error) {
	for i := range table.TestCases {
		if table.TestCases[i].ID == testCaseID {
			result := r.runCase(ctx, table, &table.TestCases[i])
			return result, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "test case %q not found in table %q", testCaseID, table.ID)
}

// RunAll replays every stored test case. Cases run concurrently up to the
// pool size, but results keep the cases' stored declaration order and a
// failing or erroring case never aborts the batch.
func (r *Runner) RunAll(ctx context.Context, table *schema.DecisionTable) *schema.TestRunSummary {
	summary := &schema.TestRunSummary{
		TableID: table.ID,
		Total:   len(table.TestCases),
		Results: make([]*schema.TestResult, len(table.TestCases)),
	}
	if len(table.TestCases) == 0 {
		return summary
	}

	pool := NewWorkerPool(r.poolSize)
	defer pool.Shutdown()

	for i := range table.TestCases {
		i := i
		tc := &table.TestCases[i]
		err := pool.Submit(ctx, func(ctx context.Context) error {
			summary.Results[i] = r.runCase(ctx, table, tc)
			return nil
		})
		if err != nil {
			// Submission only fails on cancellation or shutdown; the case
			// still gets a result so Passed+Failed stays equal to Total.
			summary.Results[i] = r.skipCase(tc, err)
		}
	}
	pool.Wait()

	for _, result := range summary.Results {
		if result.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// runCase evaluates one test case and compares outputs. A panic or
// evaluation error is converted into a failed result for this case alone.
func (r *Runner) runCase(ctx context.Context, table *schema.DecisionTable, tc *schema.TestCase) (result *schema.TestResult) {
	ctx = logging.WithTestCaseID(ctx, tc.ID)
	result = &schema.TestResult{TestCaseID: tc.ID, Name: tc.Name}

	defer func() {
		if rec := recover(); rec != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("panic: %v", rec)
		}
		r.record(tc, result)
	}()

	evalResult, err := r.evaluator.Evaluate(ctx, table, tc.Facts, eval.Options{})
	if err != nil {
		result.Error = err.Error()
		logging.LogWith(ctx, r.logger).Debug("test case evaluation failed", "error", err)
		return result
	}

	result.ActualOutputs = evalResult.Outputs
	result.Diffs = diffOutputs(tc.Expected, evalResult.Outputs)
	result.Passed = len(result.Diffs) == 0
	return result
}

// skipCase marks a case that never ran (cancelled before submission).
func (r *Runner) skipCase(tc *schema.TestCase, err error) *schema.TestResult {
	result := &schema.TestResult{
		TestCaseID: tc.ID,
		Name:       tc.Name,
		Passed:     false,
		Error:      err.Error(),
	}
	r.record(tc, result)
	return result
}

// record writes the last-run bookkeeping onto the stored case.
func (r *Runner) record(tc *schema.TestCase, result *schema.TestResult) {
	now := time.Now().UTC()
	tc.LastRunAt = &now
	if result.Passed {
		tc.LastOutcome = schema.TestPassed
	} else {
		tc.LastOutcome = schema.TestFailed
	}
}
