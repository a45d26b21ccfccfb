package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/pkg/schema"
)

// semanticBase is a small clean table the tests below mutate.
func semanticBase() *schema.DecisionTable {
	return &schema.DecisionTable{
		ID:        "loans",
		HitPolicy: schema.HitPolicyFirst,
		Inputs: []schema.Input{
			{ID: "amount", Type: schema.InputNumber, Required: true},
			{ID: "region", Type: schema.InputString, AllowedValues: []any{"eu", "us"}},
			{ID: "opened", Type: schema.InputDate},
		},
		Outputs: []schema.Output{
			{ID: "rate", Type: schema.OutputNumber, Default: 4.5},
			{ID: "label", Type: schema.OutputString},
		},
		Rules: []schema.Rule{
			{
				ID: "big-eu",
				Conditions: map[string]schema.Condition{
					"amount": {Op: schema.OpGte, Value: 10000},
					"region": {Op: schema.OpEq, Value: "eu"},
				},
				Outputs: map[string]schema.OutputSpec{
					"rate":  {Value: 3.2},
					"label": {Value: "preferred"},
				},
			},
			{
				ID: "fallback",
				Conditions: map[string]schema.Condition{
					"amount": {Op: schema.OpAny},
				},
				Outputs: map[string]schema.OutputSpec{
					"label": {Value: "list"},
				},
			},
		},
	}
}

// --- Clean table ---

func TestValidateSemantic_Clean(t *testing.T) {
	result := validateSemantic(semanticBase())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

// --- Dangling references ---

func TestValidateSemantic_DanglingInput(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Conditions["credit_score"] = schema.Condition{Op: schema.OpGt, Value: 700}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, `"big-eu"`)
	assert.Contains(t, result.Errors[0].Message, `"credit_score"`)
}

func TestValidateSemantic_DanglingOutput(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[1].Outputs["surcharge"] = schema.OutputSpec{Value: 9.0}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, `"fallback"`)
	assert.Contains(t, result.Errors[0].Message, `"surcharge"`)
}

// --- Operator / input type matrix ---

func TestValidateSemantic_OperatorTypeMatrix(t *testing.T) {
	cases := []struct {
		name  string
		input string
		cond  schema.Condition
	}{
		{"regex on number", "amount", schema.Condition{Op: schema.OpRegex, Value: "^1"}},
		{"gt on boolean", "flag", schema.Condition{Op: schema.OpGt, Value: true}},
		{"contains on number", "amount", schema.Condition{Op: schema.OpContains, Value: "1"}},
		{"between on boolean", "flag", schema.Condition{Op: schema.OpBetween, Value: []any{false, true}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := semanticBase()
			tbl.Inputs = append(tbl.Inputs, schema.Input{ID: "flag", Type: schema.InputBoolean})
			tbl.Rules[0].Conditions[tc.input] = tc.cond

			result := validateSemantic(tbl)
			require.False(t, result.Valid())
			assert.Contains(t, result.Errors[0].Message, "does not apply")
		})
	}
}

// --- Operand shapes ---

func TestValidateSemantic_OperandShapes(t *testing.T) {
	shapeErrors := []struct {
		name string
		cond schema.Condition
		want string
	}{
		{"between wrong arity", schema.Condition{Op: schema.OpBetween, Value: []any{1}}, "two-element"},
		{"between non-list", schema.Condition{Op: schema.OpBetween, Value: 10}, "two-element"},
		{"in non-list", schema.Condition{Op: schema.OpIn, Value: "eu"}, "list of candidate"},
		{"eq missing operand", schema.Condition{Op: schema.OpEq}, "requires an operand"},
		{"gt missing operand", schema.Condition{Op: schema.OpGt}, "requires an operand"},
	}
	for _, tc := range shapeErrors {
		t.Run(tc.name, func(t *testing.T) {
			tbl := semanticBase()
			tbl.Rules[0].Conditions["amount"] = tc.cond

			result := validateSemantic(tbl)
			require.False(t, result.Valid(), "expected an error for %s", tc.name)
			assert.Contains(t, result.Errors[0].Message, tc.want)
		})
	}
}

func TestValidateSemantic_RegexOperand(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Conditions["region"] = schema.Condition{Op: schema.OpRegex, Value: 42}
	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "string pattern")

	tbl = semanticBase()
	tbl.Rules[0].Conditions["region"] = schema.Condition{Op: schema.OpRegex, Value: "((unclosed"}
	result = validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "invalid regular expression")
}

func TestValidateSemantic_NullaryOperandWarning(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[1].Conditions["amount"] = schema.Condition{Op: schema.OpAny, Value: "ignored"}

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "takes no operand")
}

func TestValidateSemantic_BetweenInvertedBounds(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Conditions["amount"] = schema.Condition{Op: schema.OpBetween, Value: []any{1000, 100}}

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "inverted")
}

// --- Operand / input type agreement ---

func TestValidateSemantic_OperandTypeMismatch(t *testing.T) {
	cases := []struct {
		name  string
		input string
		cond  schema.Condition
	}{
		{"eq string on number", "amount", schema.Condition{Op: schema.OpEq, Value: "big"}},
		{"gt string on number", "amount", schema.Condition{Op: schema.OpGt, Value: "big"}},
		{"between bad bound", "amount", schema.Condition{Op: schema.OpBetween, Value: []any{10, "high"}}},
		{"in mixed candidates", "region", schema.Condition{Op: schema.OpIn, Value: []any{"eu", 7}}},
		{"contains number on string", "region", schema.Condition{Op: schema.OpContains, Value: 5}},
		{"eq garbage date", "opened", schema.Condition{Op: schema.OpEq, Value: "not-a-date"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := semanticBase()
			tbl.Rules[0].Conditions[tc.input] = tc.cond

			result := validateSemantic(tbl)
			assert.False(t, result.Valid(), "expected a type error for %s", tc.name)
		})
	}
}

func TestValidateSemantic_ListInputElementUnconstrained(t *testing.T) {
	tbl := semanticBase()
	tbl.Inputs = append(tbl.Inputs, schema.Input{ID: "tags", Type: schema.InputList})
	tbl.Rules[0].Conditions["tags"] = schema.Condition{Op: schema.OpContains, Value: 42}

	result := validateSemantic(tbl)
	assert.True(t, result.Valid(), "list elements are untyped; any contains operand is fine")
}

// --- allowed_values ---

func TestValidateSemantic_AllowedValuesWarning(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Conditions["region"] = schema.Condition{Op: schema.OpEq, Value: "uk"}

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "allowed values")

	tbl = semanticBase()
	tbl.Rules[0].Conditions["region"] = schema.Condition{Op: schema.OpIn, Value: []any{"eu", "uk"}}
	result = validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Path, "value[1]")
}

// --- Output specs ---

func TestValidateSemantic_OutputSpecBothSet(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Outputs["rate"] = schema.OutputSpec{Value: 1.0, Expression: "facts.amount / 100"}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "both a literal value and an expression")
}

func TestValidateSemantic_LiteralOutputTypeMismatch(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Outputs["rate"] = schema.OutputSpec{Value: "cheap"}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "output type number")
}

// --- Declarations ---

func TestValidateSemantic_InputDefaultMismatch(t *testing.T) {
	tbl := semanticBase()
	tbl.Inputs[2].Default = 99 // date input

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "input type date")
}

func TestValidateSemantic_RequiredInputDefaultWarning(t *testing.T) {
	tbl := semanticBase()
	tbl.Inputs[0].Default = 100.0 // amount is required

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "never applied")
}

func TestValidateSemantic_AllowedValueTypeMismatch(t *testing.T) {
	tbl := semanticBase()
	tbl.Inputs[1].AllowedValues = []any{"eu", 12}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, "allowed_values[1]")
}

func TestValidateSemantic_OutputDefaultMismatch(t *testing.T) {
	tbl := semanticBase()
	tbl.Outputs[0].Default = "free"

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "output type number")
}

// --- Policy rules ---

func TestValidateSemantic_PriorityCollision(t *testing.T) {
	tbl := semanticBase()
	tbl.HitPolicy = schema.HitPolicyPriority
	tbl.Rules[0].Priority = 5
	tbl.Rules[1].Priority = 5

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `"big-eu"`)
	assert.Contains(t, result.Errors[0].Message, `"fallback"`)
	assert.Contains(t, result.Errors[0].Message, "priority 5")
}

func TestValidateSemantic_PriorityCollisionIgnoresDisabled(t *testing.T) {
	tbl := semanticBase()
	tbl.HitPolicy = schema.HitPolicyPriority
	tbl.Rules[0].Priority = 5
	tbl.Rules[1].Priority = 5
	tbl.Rules[1].Disabled = true

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
}

func TestValidateSemantic_AggregationRequiresNumericOutputs(t *testing.T) {
	for _, policy := range []schema.HitPolicy{schema.HitPolicyCollectSum, schema.HitPolicyCollectMin, schema.HitPolicyCollectMax} {
		tbl := semanticBase()
		tbl.HitPolicy = policy

		result := validateSemantic(tbl)
		require.False(t, result.Valid(), "policy %s", policy)
		assert.Contains(t, result.Errors[0].Message, `"label"`)
	}

	// collect-count ignores output values entirely; string outputs are fine.
	tbl := semanticBase()
	tbl.HitPolicy = schema.HitPolicyCollectCount
	assert.True(t, validateSemantic(tbl).Valid())
}

func TestValidateSemantic_NoEnabledRulesWarning(t *testing.T) {
	tbl := semanticBase()
	tbl.Rules[0].Disabled = true
	tbl.Rules[1].Disabled = true

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "no enabled rules")

	tbl.Rules = nil
	result = validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
}

// --- Test cases ---

func TestValidateSemantic_TestCaseRefs(t *testing.T) {
	tbl := semanticBase()
	tbl.TestCases = []schema.TestCase{
		{
			ID:       "tc1",
			Facts:    map[string]any{"amount": 500.0, "typo_field": 1},
			Expected: map[string]any{"label": "list", "ghost": true},
		},
	}

	result := validateSemantic(tbl)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, `"ghost"`)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, `"typo_field"`)
}

func TestValidateSemantic_TestCaseOmitsRequiredInput(t *testing.T) {
	tbl := semanticBase()
	tbl.TestCases = []schema.TestCase{
		{ID: "tc1", Facts: map[string]any{"region": "eu"}, Expected: map[string]any{"label": "list"}},
	}

	result := validateSemantic(tbl)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "always fail")
}
