package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/pkg/schema"
)

// uniquePair builds a two-rule table under the unique policy with the given
// condition maps.
func uniquePair(a, b map[string]schema.Condition) *schema.DecisionTable {
	return &schema.DecisionTable{
		ID:        "routing",
		HitPolicy: schema.HitPolicyUnique,
		Inputs: []schema.Input{
			{ID: "region", Type: schema.InputString},
			{ID: "amount", Type: schema.InputNumber},
		},
		Outputs: []schema.Output{{ID: "queue", Type: schema.OutputString}},
		Rules: []schema.Rule{
			{ID: "a", Conditions: a, Outputs: map[string]schema.OutputSpec{"queue": {Value: "q1"}}},
			{ID: "b", Conditions: b, Outputs: map[string]schema.OutputSpec{"queue": {Value: "q2"}}},
		},
	}
}

// --- Policy gate ---

func TestDisjointness_OnlyAppliesToUnique(t *testing.T) {
	tbl := uniquePair(nil, nil)
	tbl.HitPolicy = schema.HitPolicyFirst

	result := validateDisjointness(tbl)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

// --- Provable overlap (errors) ---

func TestDisjointness_EqualOperands(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
	)
	result := validateDisjointness(tbl)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, `"a"`)
	assert.Contains(t, result.Errors[0].Message, `"b"`)
	assert.Contains(t, result.Errors[0].Message, "can match the same facts")
}

func TestDisjointness_InIntersection(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpIn, Value: []any{"eu", "uk"}}},
		map[string]schema.Condition{"region": {Op: schema.OpIn, Value: []any{"uk", "us"}}},
	)
	result := validateDisjointness(tbl)
	require.Len(t, result.Errors, 1)
}

func TestDisjointness_BothWildcard(t *testing.T) {
	result := validateDisjointness(uniquePair(nil, nil))
	require.Len(t, result.Errors, 1)
}

func TestDisjointness_AnyIsWildcard(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpAny}},
	)
	result := validateDisjointness(tbl)
	require.Len(t, result.Errors, 1)
}

func TestDisjointness_EqInsideRange(t *testing.T) {
	// One side enumerable: the candidate is evaluated against the range.
	tbl := uniquePair(
		map[string]schema.Condition{"amount": {Op: schema.OpEq, Value: 150}},
		map[string]schema.Condition{"amount": {Op: schema.OpBetween, Value: []any{100, 200}}},
	)
	result := validateDisjointness(tbl)
	require.Len(t, result.Errors, 1)
}

func TestDisjointness_NeqPair(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpNeq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpNeq, Value: "us"}},
	)
	result := validateDisjointness(tbl)
	require.Len(t, result.Errors, 1)
}

// --- Provably disjoint (clean) ---

func TestDisjointness_DistinctEq(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "us"}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestDisjointness_DisjointInSets(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpIn, Value: []any{"eu", "uk"}}},
		map[string]schema.Condition{"region": {Op: schema.OpIn, Value: []any{"us", "ca"}}},
	)
	assert.True(t, validateDisjointness(tbl).Valid())
	assert.Empty(t, validateDisjointness(tbl).Warnings)
}

func TestDisjointness_EqOutsideRange(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"amount": {Op: schema.OpEq, Value: 50}},
		map[string]schema.Condition{"amount": {Op: schema.OpBetween, Value: []any{100, 200}}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestDisjointness_EqVersusNeqSameOperand(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpNeq, Value: "eu"}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestDisjointness_OneDisjointDimensionClears(t *testing.T) {
	// amount overlaps but region separates the pair.
	tbl := uniquePair(
		map[string]schema.Condition{
			"region": {Op: schema.OpEq, Value: "eu"},
			"amount": {Op: schema.OpGt, Value: 100},
		},
		map[string]schema.Condition{
			"region": {Op: schema.OpEq, Value: "us"},
			"amount": {Op: schema.OpGt, Value: 50},
		},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

// --- Empty family ---

func TestDisjointness_EmptyVersusEq(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEmpty}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: ""}},
	)
	require.Len(t, validateDisjointness(tbl).Errors, 1)

	tbl = uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEmpty}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

// --- Unprovable (warnings) ---

func TestDisjointness_RangePairWarns(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"amount": {Op: schema.OpGt, Value: 100}},
		map[string]schema.Condition{"amount": {Op: schema.OpLt, Value: 50}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "cannot be proven disjoint")
}

func TestDisjointness_RegexWarns(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpRegex, Value: "^e"}},
		map[string]schema.Condition{"region": {Op: schema.OpStarts, Value: "u"}},
	)
	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
}

// --- Rule filtering ---

func TestDisjointness_DisabledRulesSkipped(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
	)
	tbl.Rules[1].Disabled = true

	result := validateDisjointness(tbl)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestDisjointness_AllPairsReported(t *testing.T) {
	tbl := uniquePair(
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
	)
	tbl.Rules = append(tbl.Rules, schema.Rule{
		ID:         "c",
		Conditions: map[string]schema.Condition{"region": {Op: schema.OpEq, Value: "eu"}},
		Outputs:    map[string]schema.OutputSpec{"queue": {Value: "q3"}},
	})

	result := validateDisjointness(tbl)
	assert.Len(t, result.Errors, 3, "a-b, a-c, b-c")
}
