package expressions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// DefaultBudget bounds a single expression evaluation. Exceeding it surfaces
// as EXPRESSION_ERROR, never a hang.
const DefaultBudget = 1 * time.Second

// Scope builds the expression data map. Every engine sees the same two
// namespaces: the supplied facts and the outputs already resolved earlier in
// the same rule.
func Scope(facts, outputs map[string]any) map[string]any {
	if facts == nil {
		facts = map[string]any{}
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	return map[string]any{
		"facts":   facts,
		"outputs": outputs,
	}
}

// Resolver materializes a rule's output values. Literal specs coerce to the
// Output's declared type; expression specs run on the injected Engine under
// a time budget. Outputs resolve in table declaration order, so an
// expression may reference any output declared before its own.
type Resolver struct {
	engine Engine
	budget time.Duration
}

// NewResolver creates a resolver around an expression engine. A zero or
// negative budget falls back to DefaultBudget.
func NewResolver(engine Engine, budget time.Duration) *Resolver {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Resolver{engine: engine, budget: budget}
}

// Engine returns the injected expression engine.
func (r *Resolver) Engine() Engine {
	return r.engine
}

// ResolveRule materializes one matched rule's complete output map in Output
// declaration order. Outputs the rule does not specify fall back to their
// declared default (or nil). Literal coercion failures are DEFINITION_ERROR;
// expression failures, timeouts, and result coercion failures are
// EXPRESSION_ERROR carrying the rule and output ids.
func (r *Resolver) ResolveRule(ctx context.Context, table *schema.DecisionTable, rule *schema.Rule, facts map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(table.Outputs))

	for _, out := range table.Outputs {
		spec, ok := rule.Outputs[out.ID]
		if !ok {
			resolved[out.ID] = schema.CloneValue(out.Default)
			continue
		}

		if !spec.IsExpression() {
			val, err := CoerceOutput(spec.Value, out.Type)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeDefinition,
					"literal output value: %s", err.Error()).
					WithRule(rule.ID).WithOutput(out.ID)
			}
			resolved[out.ID] = val
			continue
		}

		raw, err := r.evaluateBounded(ctx, spec.Expression, Scope(facts, resolved))
		if err != nil {
			var verr *schema.VerdictError
			if errors.As(err, &verr) {
				verr.RuleID = rule.ID
				verr.OutputID = out.ID
				return nil, verr
			}
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"expression failed: %s", err.Error()).
				WithCause(err).WithRule(rule.ID).WithOutput(out.ID)
		}

		val, err := CoerceOutput(raw, out.Type)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"expression result: %s", err.Error()).
				WithRule(rule.ID).WithOutput(out.ID).
				WithDetails(map[string]any{"expression": spec.Expression})
		}
		resolved[out.ID] = val
	}

	return resolved, nil
}

// evaluateBounded runs one expression under the time budget. The engine call
// runs on its own goroutine; when the budget elapses the caller is released
// with an EXPRESSION_ERROR while the runaway evaluation keeps its goroutine
// until the engine itself gives up (context-aware engines stop immediately).
func (r *Resolver) evaluateBounded(ctx context.Context, expression string, data map[string]any) (any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	type evalResult struct {
		val any
		err error
	}
	done := make(chan evalResult, 1)

	go func() {
		val, err := r.engine.Evaluate(evalCtx, expression, data)
		done <- evalResult{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-evalCtx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expression budget of %s exceeded", r.budget).
			WithCause(evalCtx.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
}

// CoerceOutput conforms a resolved value to an Output's declared type.
// nil passes through for every type. Numbers widen to float64; dates accept
// RFC 3339 / date-only strings and time.Time values, normalized to RFC 3339
// strings. No other cross-type coercion is performed.
func CoerceOutput(v any, typ schema.OutputType) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch typ {
	case schema.OutputString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)

	case schema.OutputNumber:
		if n, ok := condition.AsNumber(v); ok {
			return n, nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)

	case schema.OutputBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)

	case schema.OutputDate:
		if ts, ok := v.(time.Time); ok {
			return ts.Format(time.RFC3339), nil
		}
		if s, ok := v.(string); ok {
			if _, ok := condition.AsTime(s); ok {
				return s, nil
			}
			return nil, fmt.Errorf("expected RFC 3339 date, got %q", s)
		}
		return nil, fmt.Errorf("expected date, got %T", v)

	case schema.OutputObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		if m, ok := toStringKeyMap(v); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)

	case schema.OutputList:
		if items, ok := condition.AsList(v); ok {
			return items, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)

	default:
		return nil, fmt.Errorf("unknown output type %q", typ)
	}
}

// toStringKeyMap rebuilds maps whose concrete key type is not string, such
// as CEL map results.
func toStringKeyMap(v any) (map[string]any, bool) {
	m, ok := v.(map[any]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		key, ok := k.(string)
		if !ok {
			key = fmt.Sprintf("%v", k)
		}
		out[key] = item
	}
	return out, true
}
