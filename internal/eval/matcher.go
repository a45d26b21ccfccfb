package eval

import (
	"errors"
	"sort"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// EffectiveFacts verifies required Inputs and fills declared defaults for
// absent optional Inputs, returning the fact map evaluation operates on.
// The supplied map is never mutated. A missing required Input aborts with
// MISSING_REQUIRED_INPUT before any rule is matched; defaults never satisfy
// requiredness.
func EffectiveFacts(table *schema.DecisionTable, facts map[string]any) (map[string]any, error) {
	var missing []string
	for _, in := range table.Inputs {
		if _, ok := facts[in.ID]; !ok && in.Required {
			missing = append(missing, in.ID)
		}
	}
	if len(missing) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeMissingInput,
			"missing required input %q", missing[0]).
			WithDetails(map[string]any{"input_ids": missing})
	}

	effective := schema.CloneFacts(facts)
	if effective == nil {
		effective = map[string]any{}
	}
	for _, in := range table.Inputs {
		if _, ok := effective[in.ID]; !ok && in.Default != nil {
			effective[in.ID] = schema.CloneValue(in.Default)
		}
	}
	return effective, nil
}

// Matcher finds all enabled rules whose conditions all hold for given facts.
type Matcher struct {
	conditions *condition.Evaluator
}

// NewMatcher creates a rule matcher.
func NewMatcher() *Matcher {
	return &Matcher{conditions: condition.NewEvaluator()}
}

// Match returns the enabled rules whose every declared condition evaluates
// true, in table declaration order. Disabled rules are skipped entirely.
// A rule's condition on an Input absent from facts fails unless the operator
// is empty or any; an Input with no condition entry is a wildcard and never
// constrains the rule.
func (m *Matcher) Match(table *schema.DecisionTable, facts map[string]any) ([]*schema.Rule, error) {
	var matched []*schema.Rule

	for i := range table.Rules {
		rule := &table.Rules[i]
		if !rule.Enabled() {
			continue
		}

		ok, err := m.matches(rule, facts)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, rule)
		}
	}

	return matched, nil
}

// matches evaluates the conjunction of one rule's conditions. Condition keys
// are visited in sorted order so a malformed definition always surfaces the
// same error.
func (m *Matcher) matches(rule *schema.Rule, facts map[string]any) (bool, error) {
	if len(rule.Conditions) == 0 {
		return true, nil
	}

	ids := make([]string, 0, len(rule.Conditions))
	for id := range rule.Conditions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cond, _ := rule.ConditionFor(id)

		fact := condition.AbsentFact()
		if v, ok := facts[id]; ok {
			fact = condition.Fact(v)
		}

		ok, err := m.conditions.Evaluate(cond, fact)
		if err != nil {
			var verr *schema.VerdictError
			if errors.As(err, &verr) {
				verr.RuleID = rule.ID
				return false, verr
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// RuleIDs projects matched rules to their ids, preserving order. The result
// is never nil so log entries and responses serialize as [] rather than null.
func RuleIDs(rules []*schema.Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}
