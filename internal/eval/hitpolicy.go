package eval

import (
	"context"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// applyHitPolicy reduces the matcher's ordered result to final outputs.
// Expression resolution is lazy: under first, unique, and priority only the
// winning rule's outputs are materialized; under collect-count nothing is
// materialized at all. Non-matching rules' expressions never run.
func (e *Engine) applyHitPolicy(ctx context.Context, table *schema.DecisionTable, matched []*schema.Rule, facts map[string]any) (map[string]any, []string, error) {
	switch table.HitPolicy {
	case schema.HitPolicyFirst:
		return e.resolveSingle(ctx, table, matched, facts)

	case schema.HitPolicyUnique:
		if len(matched) > 1 {
			return nil, nil, schema.NewErrorf(schema.ErrCodeConflict,
				"unique policy violated: %d rules matched", len(matched)).
				WithDetails(map[string]any{
					"hit_policy": string(table.HitPolicy),
					"rule_ids":   RuleIDs(matched),
				})
		}
		return e.resolveSingle(ctx, table, matched, facts)

	case schema.HitPolicyAny:
		return e.resolveAgreeing(ctx, table, matched, facts)

	case schema.HitPolicyPriority:
		if len(matched) > 1 {
			winner := matched[0]
			for _, r := range matched[1:] {
				// Lower value wins; earliest declaration breaks ties.
				if r.Priority < winner.Priority {
					winner = r
				}
			}
			matched = []*schema.Rule{winner}
		}
		return e.resolveSingle(ctx, table, matched, facts)

	case schema.HitPolicyCollect:
		return e.resolveCollect(ctx, table, matched, facts)

	case schema.HitPolicyCollectSum, schema.HitPolicyCollectMin, schema.HitPolicyCollectMax:
		return e.resolveAggregate(ctx, table, matched, facts)

	case schema.HitPolicyCollectCount:
		outputs := make(map[string]any, len(table.Outputs))
		for _, out := range table.Outputs {
			outputs[out.ID] = float64(len(matched))
		}
		return outputs, RuleIDs(matched), nil

	default:
		return nil, nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"unknown hit policy %q", table.HitPolicy)
	}
}

// resolveSingle materializes a zero-or-one element match set: the rule's
// outputs, or the declared defaults when nothing matched.
func (e *Engine) resolveSingle(ctx context.Context, table *schema.DecisionTable, matched []*schema.Rule, facts map[string]any) (map[string]any, []string, error) {
	if len(matched) == 0 {
		return table.DefaultOutputs(), []string{}, nil
	}

	rule := matched[0]
	outputs, err := e.resolver.ResolveRule(ctx, table, rule, facts)
	if err != nil {
		return nil, nil, err
	}
	return outputs, []string{rule.ID}, nil
}

// resolveAgreeing implements the any policy: every matched rule's output map
// must be value-equal, and that common map is the result.
func (e *Engine) resolveAgreeing(ctx context.Context, table *schema.DecisionTable, matched []*schema.Rule, facts map[string]any) (map[string]any, []string, error) {
	if len(matched) == 0 {
		return table.DefaultOutputs(), []string{}, nil
	}

	first, err := e.resolver.ResolveRule(ctx, table, matched[0], facts)
	if err != nil {
		return nil, nil, err
	}

	for _, rule := range matched[1:] {
		outputs, err := e.resolver.ResolveRule(ctx, table, rule, facts)
		if err != nil {
			return nil, nil, err
		}
		for _, out := range table.Outputs {
			if !condition.Equal(first[out.ID], outputs[out.ID]) {
				return nil, nil, schema.NewErrorf(schema.ErrCodeConflict,
					"any policy violated: rules %s and %s disagree on output %s",
					matched[0].ID, rule.ID, out.ID).
					WithOutput(out.ID).
					WithDetails(map[string]any{
						"hit_policy": string(table.HitPolicy),
						"rule_ids":   RuleIDs(matched),
					})
			}
		}
	}

	return first, RuleIDs(matched), nil
}

// resolveCollect returns, per Output, the ordered list of every matched
// rule's value. List positions align with the matched rule ids; zero matches
// yield an empty list per Output.
func (e *Engine) resolveCollect(ctx context.Context, table *schema.DecisionTable, matched []*schema.Rule, facts map[string]any) (map[string]any, []string, error) {
	collected := make(map[string][]any, len(table.Outputs))
	for _, out := range table.Outputs {
		collected[out.ID] = []any{}
	}

	for _, rule := range matched {
		outputs, err := e.resolver.ResolveRule(ctx, table, rule, facts)
		if err != nil {
			return nil, nil, err
		}
		for _, out := range table.Outputs {
			collected[out.ID] = append(collected[out.ID], outputs[out.ID])
		}
	}

	result := make(map[string]any, len(collected))
	for id, values := range collected {
		result[id] = values
	}
	return result, RuleIDs(matched), nil
}

// resolveAggregate reduces each Output's matched values numerically.
// A rule contributing nil for an Output is skipped. Zero contributions yield
// sum=0 and min/max=nil.
func (e *Engine) resolveAggregate(ctx context.Context, table *schema.DecisionTable, matched []*schema.Rule, facts map[string]any) (map[string]any, []string, error) {
	values := make(map[string][]float64, len(table.Outputs))

	for _, rule := range matched {
		outputs, err := e.resolver.ResolveRule(ctx, table, rule, facts)
		if err != nil {
			return nil, nil, err
		}
		for _, out := range table.Outputs {
			v := outputs[out.ID]
			if v == nil {
				continue
			}
			n, ok := condition.AsNumber(v)
			if !ok {
				return nil, nil, schema.NewErrorf(schema.ErrCodeDefinition,
					"%s policy requires numeric outputs, got %T", table.HitPolicy, v).
					WithRule(rule.ID).WithOutput(out.ID)
			}
			values[out.ID] = append(values[out.ID], n)
		}
	}

	outputs := make(map[string]any, len(table.Outputs))
	for _, out := range table.Outputs {
		outputs[out.ID] = reduceNumeric(table.HitPolicy, values[out.ID])
	}
	return outputs, RuleIDs(matched), nil
}

func reduceNumeric(policy schema.HitPolicy, values []float64) any {
	if policy == schema.HitPolicyCollectSum {
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum
	}

	if len(values) == 0 {
		return nil
	}

	best := values[0]
	for _, v := range values[1:] {
		switch policy {
		case schema.HitPolicyCollectMin:
			if v < best {
				best = v
			}
		case schema.HitPolicyCollectMax:
			if v > best {
				best = v
			}
		}
	}
	return best
}
