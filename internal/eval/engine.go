package eval

import (
	"context"

	"github.com/arqio/verdict/internal/expressions"
	"github.com/arqio/verdict/pkg/schema"
)

// Options configure a single evaluate call.
type Options struct {
	// ValidateFirst runs the static validator before matching and aborts on
	// hard errors.
	ValidateFirst bool
}

// Result is the outcome of a successful evaluation. Facts carries the
// effective fact map the call operated on (supplied facts plus declared
// defaults), which is what the audit log records.
type Result struct {
	Outputs        map[string]any `json:"outputs"`
	MatchedRuleIDs []string       `json:"matched_rule_ids"`
	Facts          map[string]any `json:"-"`
}

// Validator is the static checker consulted when ValidateFirst is set.
type Validator interface {
	Validate(table *schema.DecisionTable) *schema.ValidationResult
}

// Engine orchestrates one evaluation: required-input check, rule matching,
// hit policy reduction, and lazy output resolution. It holds no per-call
// state; one Engine serves any number of concurrent calls against any
// number of tables.
type Engine struct {
	matcher   *Matcher
	resolver  *expressions.Resolver
	validator Validator
}

// New creates an evaluation engine. The validator may be nil when
// ValidateFirst is never requested.
func New(resolver *expressions.Resolver, validator Validator) *Engine {
	return &Engine{
		matcher:   NewMatcher(),
		resolver:  resolver,
		validator: validator,
	}
}

// Evaluate computes a table's outputs for the supplied facts. The caller
// provides an immutable snapshot; Evaluate never mutates it. All-or-nothing:
// on any failure no partial outputs are returned.
func (e *Engine) Evaluate(ctx context.Context, table *schema.DecisionTable, facts map[string]any, opts Options) (*Result, error) {
	if table == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "nil table snapshot")
	}
	if !table.HitPolicy.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"unknown hit policy %q", table.HitPolicy)
	}

	if opts.ValidateFirst && e.validator != nil {
		if result := e.validator.Validate(table); !result.Valid() {
			return nil, result.ToError()
		}
	}

	effective, err := EffectiveFacts(table, facts)
	if err != nil {
		return nil, err
	}

	matched, err := e.matcher.Match(table, effective)
	if err != nil {
		return nil, err
	}

	outputs, matchedIDs, err := e.applyHitPolicy(ctx, table, matched, effective)
	if err != nil {
		return nil, err
	}

	return &Result{
		Outputs:        outputs,
		MatchedRuleIDs: matchedIDs,
		Facts:          effective,
	}, nil
}
