package schema

// Operator is the closed set of condition operators. Evaluation switches
// exhaustively over these tags; there is no open dispatch.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpBetween  Operator = "between"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpStarts   Operator = "starts"
	OpEnds     Operator = "ends"
	OpRegex    Operator = "regex"
	OpEmpty    Operator = "empty"
	OpAny      Operator = "any"
)

// Operators lists every operator in canonical order.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpBetween,
	OpIn, OpContains, OpStarts, OpEnds, OpRegex, OpEmpty, OpAny,
}

// Condition is one typed predicate on one Input within one Rule.
// The operand shape depends on the operator:
//   - eq, neq, gt, gte, lt, lte, contains, starts, ends, regex: single value
//   - in: list of candidate values
//   - between: two-element [low, high] list, inclusive on both bounds
//   - empty, any: no operand
type Condition struct {
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

func (c Condition) clone() Condition {
	c.Value = CloneValue(c.Value)
	return c
}

// Valid reports whether op is a known operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// NeedsOperand reports whether the operator takes an operand value.
// empty and any are nullary.
func (o Operator) NeedsOperand() bool {
	return o != OpEmpty && o != OpAny
}

// AppliesTo reports whether the operator is legal on an Input of type t.
// The Validator uses this matrix; the Condition Evaluator assumes a
// validated table and does not re-check.
func (o Operator) AppliesTo(t InputType) bool {
	switch o {
	case OpEq, OpNeq, OpIn, OpEmpty, OpAny:
		return true
	case OpGt, OpGte, OpLt, OpLte, OpBetween:
		return t == InputNumber || t == InputDate || t == InputString
	case OpContains, OpStarts, OpEnds:
		return t == InputString || t == InputList
	case OpRegex:
		return t == InputString
	default:
		return false
	}
}
