package validation

import (
	"fmt"
	"sort"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// Relation between two conditions on the same input, as far as static
// analysis can tell.
const (
	relDisjoint = iota // no fact value satisfies both
	relOverlap         // some fact value provably satisfies both
	relUnknown         // not decidable without an enumerable side
)

// validateDisjointness performs the unique-policy static overlap analysis.
// Every pair of enabled rules is compared input by input: a pair proven to
// overlap on all constrained inputs is an error, a pair that cannot be proven
// disjoint (range against range, regex, wildcard-heavy rules) is a warning,
// and a single provably disjoint input clears the pair. Conditions with an
// enumerable side (eq, in) are decided by evaluating the finite candidates
// against the other condition, so the analysis matches runtime semantics
// exactly.
func validateDisjointness(table *schema.DecisionTable) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if table.HitPolicy != schema.HitPolicyUnique {
		return result
	}

	var enabled []*schema.Rule
	position := make(map[string]int, len(table.Rules)) // rule id -> declaration index
	for i := range table.Rules {
		if table.Rules[i].Enabled() {
			enabled = append(enabled, &table.Rules[i])
			position[table.Rules[i].ID] = i
		}
	}

	conds := condition.NewEvaluator()
	for i := 0; i < len(enabled); i++ {
		for j := i + 1; j < len(enabled); j++ {
			a, b := enabled[i], enabled[j]
			path := fmt.Sprintf("rules[%d]", position[b.ID])
			switch rulePairRelation(conds, a, b) {
			case relOverlap:
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("unique policy: rules %q and %q can match the same facts", a.ID, b.ID))
			case relUnknown:
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("unique policy: rules %q and %q cannot be proven disjoint", a.ID, b.ID))
			}
		}
	}
	return result
}

// rulePairRelation compares two rules across the union of their constrained
// inputs. A wildcard side (no condition, or `any`) never separates a pair.
func rulePairRelation(conds *condition.Evaluator, a, b *schema.Rule) int {
	sawUnknown := false
	for _, inputID := range unionKeys(a.Conditions, b.Conditions) {
		ca, okA := a.ConditionFor(inputID)
		cb, okB := b.ConditionFor(inputID)
		if !okA || !okB || ca.Op == schema.OpAny || cb.Op == schema.OpAny {
			continue
		}
		switch conditionRelation(conds, ca, cb) {
		case relDisjoint:
			return relDisjoint
		case relUnknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return relUnknown
	}
	return relOverlap
}

// conditionRelation decides how two conditions on the same input relate.
func conditionRelation(conds *condition.Evaluator, a, b schema.Condition) int {
	if setA, ok := enumerable(a); ok {
		return candidateRelation(conds, setA, b)
	}
	if setB, ok := enumerable(b); ok {
		return candidateRelation(conds, setB, a)
	}

	switch {
	case a.Op == schema.OpNeq && b.Op == schema.OpNeq:
		// A value differing from both operands always exists (null if nothing else).
		return relOverlap
	case a.Op == schema.OpEmpty && b.Op == schema.OpEmpty:
		return relOverlap
	case a.Op == schema.OpEmpty && b.Op == schema.OpNeq,
		a.Op == schema.OpNeq && b.Op == schema.OpEmpty:
		// The empty family (null, "", []) always holds a member the neq admits.
		return relOverlap
	default:
		return relUnknown
	}
}

// candidateRelation decides a pair with one enumerable side by evaluating
// each candidate against the other condition: any candidate that satisfies it
// is a witness of overlap; none means the pair is disjoint on this input.
func candidateRelation(conds *condition.Evaluator, candidates []any, other schema.Condition) int {
	for _, candidate := range candidates {
		matched, err := conds.Evaluate(other, condition.Fact(candidate))
		if err != nil {
			return relUnknown // malformed operand; the semantic stage reports it
		}
		if matched {
			return relOverlap
		}
	}
	return relDisjoint
}

// enumerable returns the finite candidate set of an eq or well-formed in
// condition.
func enumerable(c schema.Condition) ([]any, bool) {
	switch c.Op {
	case schema.OpEq:
		return []any{c.Value}, true
	case schema.OpIn:
		items, ok := condition.AsList(c.Value)
		if !ok {
			return nil, false
		}
		return items, true
	}
	return nil, false
}

func unionKeys(a, b map[string]schema.Condition) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
