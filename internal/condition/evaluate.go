package condition

import (
	"regexp"
	"strings"
	"sync"

	"github.com/arqio/verdict/pkg/schema"
)

// FactValue is the result of looking up one Input in the fact map. Present
// distinguishes an absent fact from an explicit null so the sparse-map
// wildcard rule can never be confused with a real nil value.
type FactValue struct {
	Value   any
	Present bool
}

// Fact wraps a supplied fact value.
func Fact(v any) FactValue {
	return FactValue{Value: v, Present: true}
}

// AbsentFact is the lookup result for an Input the caller did not supply.
func AbsentFact() FactValue {
	return FactValue{}
}

// Evaluator evaluates one typed condition against one fact value.
// Thread-safe: compiled regex patterns are cached and reused across
// goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	regex map[string]*regexp.Regexp
}

// NewEvaluator creates a condition evaluator with an empty pattern cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		regex: make(map[string]*regexp.Regexp),
	}
}

// Evaluate applies a condition to a fact lookup result. Operand/Input type
// agreement is the Validator's concern; on a validated table the only error
// paths left are malformed-definition ones (unknown operator, bad between
// arity, invalid regex), surfaced as DEFINITION_ERROR for snapshots that
// skipped validation.
//
// An absent fact satisfies only the empty and any operators. Values that do
// not admit the operator's comparison (a string fact under gt, for example)
// simply do not match.
func (e *Evaluator) Evaluate(cond schema.Condition, fact FactValue) (bool, error) {
	switch cond.Op {
	case schema.OpAny:
		return true, nil
	case schema.OpEmpty:
		return isEmpty(fact), nil
	}

	if !fact.Present {
		return false, nil
	}

	switch cond.Op {
	case schema.OpEq:
		return Equal(fact.Value, cond.Value), nil

	case schema.OpNeq:
		return !Equal(fact.Value, cond.Value), nil

	case schema.OpGt:
		cmp, ok := Compare(fact.Value, cond.Value)
		return ok && cmp > 0, nil

	case schema.OpGte:
		cmp, ok := Compare(fact.Value, cond.Value)
		return ok && cmp >= 0, nil

	case schema.OpLt:
		cmp, ok := Compare(fact.Value, cond.Value)
		return ok && cmp < 0, nil

	case schema.OpLte:
		cmp, ok := Compare(fact.Value, cond.Value)
		return ok && cmp <= 0, nil

	case schema.OpBetween:
		return e.evaluateBetween(fact.Value, cond.Value)

	case schema.OpIn:
		return e.evaluateIn(fact.Value, cond.Value)

	case schema.OpContains:
		return evaluateContains(fact.Value, cond.Value), nil

	case schema.OpStarts:
		return evaluateStarts(fact.Value, cond.Value), nil

	case schema.OpEnds:
		return evaluateEnds(fact.Value, cond.Value), nil

	case schema.OpRegex:
		return e.evaluateRegex(fact.Value, cond.Value)

	default:
		return false, schema.NewErrorf(schema.ErrCodeDefinition,
			"unknown condition operator %q", cond.Op)
	}
}

// isEmpty reports whether a fact is absent, null, an empty string, or an
// empty list.
func isEmpty(fact FactValue) bool {
	return !fact.Present || IsEmptyValue(fact.Value)
}

// evaluateBetween checks low <= fact <= high, inclusive on both bounds.
// The operand is a two-element [low, high] list.
func (e *Evaluator) evaluateBetween(fact, operand any) (bool, error) {
	bounds, ok := AsList(operand)
	if !ok || len(bounds) != 2 {
		return false, schema.NewErrorf(schema.ErrCodeDefinition,
			"between operand must be a [low, high] pair, got %T", operand)
	}

	low, ok := Compare(fact, bounds[0])
	if !ok {
		return false, nil
	}
	high, ok := Compare(fact, bounds[1])
	if !ok {
		return false, nil
	}
	return low >= 0 && high <= 0, nil
}

// evaluateIn checks set membership of the fact in the operand list.
func (e *Evaluator) evaluateIn(fact, operand any) (bool, error) {
	candidates, ok := AsList(operand)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeDefinition,
			"in operand must be a list, got %T", operand)
	}

	for _, candidate := range candidates {
		if Equal(fact, candidate) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateContains checks substring containment for string facts and element
// membership for list facts.
func evaluateContains(fact, operand any) bool {
	switch val := fact.(type) {
	case string:
		needle, ok := operand.(string)
		return ok && strings.Contains(val, needle)
	default:
		items, ok := AsList(val)
		if !ok {
			return false
		}
		for _, item := range items {
			if Equal(item, operand) {
				return true
			}
		}
		return false
	}
}

// evaluateStarts checks a string prefix, or the first element of a list.
func evaluateStarts(fact, operand any) bool {
	switch val := fact.(type) {
	case string:
		prefix, ok := operand.(string)
		return ok && strings.HasPrefix(val, prefix)
	default:
		items, ok := AsList(val)
		return ok && len(items) > 0 && Equal(items[0], operand)
	}
}

// evaluateEnds checks a string suffix, or the last element of a list.
func evaluateEnds(fact, operand any) bool {
	switch val := fact.(type) {
	case string:
		suffix, ok := operand.(string)
		return ok && strings.HasSuffix(val, suffix)
	default:
		items, ok := AsList(val)
		return ok && len(items) > 0 && Equal(items[len(items)-1], operand)
	}
}

// evaluateRegex matches a string fact against the operand pattern.
// Non-string facts never match.
func (e *Evaluator) evaluateRegex(fact, operand any) (bool, error) {
	pattern, ok := operand.(string)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeDefinition,
			"regex operand must be a string pattern, got %T", operand)
	}

	re, err := e.getOrCompile(pattern)
	if err != nil {
		return false, err
	}

	str, ok := fact.(string)
	if !ok {
		return false, nil
	}
	return re.MatchString(str), nil
}

// getOrCompile returns a cached compiled pattern or compiles and caches a
// new one.
func (e *Evaluator) getOrCompile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	if re, ok := e.regex[pattern]; ok {
		e.mu.RUnlock()
		return re, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if re, ok := e.regex[pattern]; ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"invalid regex pattern %q: %s", pattern, err.Error()).
			WithCause(err)
	}

	e.regex[pattern] = re
	return re, nil
}
