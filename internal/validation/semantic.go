package validation

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// validateSemantic performs semantic analysis on a structurally valid table.
// Checks: condition/output id references resolve, operators apply to the
// referenced Input's type, operand shapes and types, output literal types,
// priority uniqueness, numeric outputs under aggregation policies, test-case
// references, and the enabled-rule warning.
func validateSemantic(table *schema.DecisionTable) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	inputs := make(map[string]schema.Input, len(table.Inputs))
	for _, in := range table.Inputs {
		inputs[in.ID] = in
	}
	outputs := make(map[string]schema.Output, len(table.Outputs))
	for _, out := range table.Outputs {
		outputs[out.ID] = out
	}

	for i, in := range table.Inputs {
		validateInputDecl(in, fmt.Sprintf("inputs[%d]", i), result)
	}
	for i, out := range table.Outputs {
		validateOutputDecl(out, fmt.Sprintf("outputs[%d]", i), result)
	}

	enabled := 0
	for i := range table.Rules {
		rule := &table.Rules[i]
		if rule.Enabled() {
			enabled++
		}
		validateRuleSemantic(rule, fmt.Sprintf("rules[%d]", i), inputs, outputs, result)
	}
	if enabled == 0 {
		result.AddWarning("rules", schema.ErrCodeValidation,
			"table has no enabled rules; every evaluation yields the no-match result")
	}

	validatePolicySemantic(table, result)

	for i := range table.TestCases {
		validateTestCaseRefs(&table.TestCases[i], fmt.Sprintf("test_cases[%d]", i), inputs, outputs, result)
	}

	return result
}

// validateInputDecl checks an Input declaration's own literals against its
// declared type.
func validateInputDecl(in schema.Input, path string, result *schema.ValidationResult) {
	if in.Default != nil && !operandMatchesInputType(in.Default, in.Type) {
		result.AddError(path+".default", schema.ErrCodeValidation,
			fmt.Sprintf("default %v does not match input type %s", in.Default, in.Type))
	}
	if in.Required && in.Default != nil {
		result.AddWarning(path+".default", schema.ErrCodeValidation,
			fmt.Sprintf("input %q is required; its default is never applied", in.ID))
	}
	for j, allowed := range in.AllowedValues {
		if !operandMatchesInputType(allowed, in.Type) {
			result.AddError(fmt.Sprintf("%s.allowed_values[%d]", path, j), schema.ErrCodeValidation,
				fmt.Sprintf("allowed value %v does not match input type %s", allowed, in.Type))
		}
	}
}

// validateOutputDecl checks an Output declaration's default against its
// declared type.
func validateOutputDecl(out schema.Output, path string, result *schema.ValidationResult) {
	if out.Default != nil && !valueMatchesOutputType(out.Default, out.Type) {
		result.AddError(path+".default", schema.ErrCodeValidation,
			fmt.Sprintf("default %v does not match output type %s", out.Default, out.Type))
	}
}

// validateRuleSemantic checks one rule's condition and output references.
func validateRuleSemantic(rule *schema.Rule, path string, inputs map[string]schema.Input, outputs map[string]schema.Output, result *schema.ValidationResult) {
	for _, inputID := range sortedKeys(rule.Conditions) {
		cond := rule.Conditions[inputID]
		condPath := fmt.Sprintf("%s.conditions.%s", path, inputID)

		in, declared := inputs[inputID]
		if !declared {
			result.AddError(condPath, schema.ErrCodeValidation,
				fmt.Sprintf("rule %q references unknown input %q", rule.ID, inputID))
		}

		if !cond.Op.Valid() {
			result.AddError(condPath+".op", schema.ErrCodeValidation,
				fmt.Sprintf("unknown operator %q", cond.Op))
			continue
		}
		if declared && !cond.Op.AppliesTo(in.Type) {
			result.AddError(condPath, schema.ErrCodeValidation,
				fmt.Sprintf("operator %q does not apply to %s input %q", cond.Op, in.Type, inputID))
			continue
		}

		validateOperand(cond, condPath, in, declared, result)
	}

	for _, outputID := range sortedKeys(rule.Outputs) {
		spec := rule.Outputs[outputID]
		specPath := fmt.Sprintf("%s.outputs.%s", path, outputID)

		out, declared := outputs[outputID]
		if !declared {
			result.AddError(specPath, schema.ErrCodeValidation,
				fmt.Sprintf("rule %q references unknown output %q", rule.ID, outputID))
			continue
		}
		if spec.Value != nil && spec.Expression != "" {
			result.AddError(specPath, schema.ErrCodeValidation,
				"sets both a literal value and an expression")
			continue
		}
		if !spec.IsExpression() && spec.Value != nil && !valueMatchesOutputType(spec.Value, out.Type) {
			result.AddError(specPath+".value", schema.ErrCodeValidation,
				fmt.Sprintf("literal %v does not match output type %s", spec.Value, out.Type))
		}
	}
}

// validateOperand checks the operand's shape for the operator and, when the
// referenced Input is declared, its type.
func validateOperand(cond schema.Condition, path string, in schema.Input, declared bool, result *schema.ValidationResult) {
	switch cond.Op {
	case schema.OpEmpty, schema.OpAny:
		if cond.Value != nil {
			result.AddWarning(path+".value", schema.ErrCodeValidation,
				fmt.Sprintf("operator %q takes no operand; value is ignored", cond.Op))
		}

	case schema.OpBetween:
		bounds, ok := condition.AsList(cond.Value)
		if !ok || len(bounds) != 2 {
			result.AddError(path+".value", schema.ErrCodeValidation,
				"between requires a two-element [low, high] operand")
			return
		}
		if declared {
			for _, bound := range bounds {
				if !operandMatchesInputType(bound, in.Type) {
					result.AddError(path+".value", schema.ErrCodeValidation,
						fmt.Sprintf("bound %v does not match input type %s", bound, in.Type))
					return
				}
			}
		}
		if cmp, ok := condition.Compare(bounds[0], bounds[1]); ok && cmp > 0 {
			result.AddWarning(path+".value", schema.ErrCodeValidation,
				"between bounds are inverted; the condition can never match")
		}

	case schema.OpIn:
		candidates, ok := condition.AsList(cond.Value)
		if !ok {
			result.AddError(path+".value", schema.ErrCodeValidation,
				"in requires a list of candidate values")
			return
		}
		for j, candidate := range candidates {
			if declared && !operandMatchesInputType(candidate, in.Type) {
				result.AddError(fmt.Sprintf("%s.value[%d]", path, j), schema.ErrCodeValidation,
					fmt.Sprintf("candidate %v does not match input type %s", candidate, in.Type))
				continue
			}
			warnOutsideAllowed(candidate, in, declared, fmt.Sprintf("%s.value[%d]", path, j), result)
		}

	case schema.OpRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			result.AddError(path+".value", schema.ErrCodeValidation,
				"regex requires a string pattern operand")
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			result.AddError(path+".value", schema.ErrCodeValidation,
				fmt.Sprintf("invalid regular expression: %v", err))
		}

	default:
		if cond.Value == nil {
			result.AddError(path+".value", schema.ErrCodeValidation,
				fmt.Sprintf("operator %q requires an operand", cond.Op))
			return
		}
		if declared && !operandConstrainsType(cond.Op, cond.Value, in.Type) {
			result.AddError(path+".value", schema.ErrCodeValidation,
				fmt.Sprintf("operand %v does not match input type %s", cond.Value, in.Type))
			return
		}
		if cond.Op == schema.OpEq {
			warnOutsideAllowed(cond.Value, in, declared, path+".value", result)
		}
	}
}

// warnOutsideAllowed flags eq/in operands that fall outside the Input's
// allowed_values enumeration. The condition is legal but can never match a
// payload that respects the enumeration.
func warnOutsideAllowed(operand any, in schema.Input, declared bool, path string, result *schema.ValidationResult) {
	if !declared || len(in.AllowedValues) == 0 {
		return
	}
	for _, allowed := range in.AllowedValues {
		if condition.Equal(operand, allowed) {
			return
		}
	}
	result.AddWarning(path, schema.ErrCodeValidation,
		fmt.Sprintf("operand %v is not among the allowed values of input %q", operand, in.ID))
}

// validatePolicySemantic enforces the hit-policy level rules: priority
// uniqueness among enabled rules and numeric outputs under aggregations.
func validatePolicySemantic(table *schema.DecisionTable, result *schema.ValidationResult) {
	if table.HitPolicy == schema.HitPolicyPriority {
		holders := make(map[int]string)
		for i := range table.Rules {
			rule := &table.Rules[i]
			if !rule.Enabled() {
				continue
			}
			if prev, taken := holders[rule.Priority]; taken {
				result.AddError(fmt.Sprintf("rules[%d].priority", i), schema.ErrCodeValidation,
					fmt.Sprintf("rules %q and %q share priority %d", prev, rule.ID, rule.Priority))
				continue
			}
			holders[rule.Priority] = rule.ID
		}
	}

	if table.HitPolicy.NumericAggregation() {
		for i, out := range table.Outputs {
			if out.Type != schema.OutputNumber {
				result.AddError(fmt.Sprintf("outputs[%d].type", i), schema.ErrCodeValidation,
					fmt.Sprintf("%s policy requires numeric outputs; output %q is %s", table.HitPolicy, out.ID, out.Type))
			}
		}
	}
}

// validateTestCaseRefs checks a stored test case's fact and expectation keys
// against the table's declared columns.
func validateTestCaseRefs(tc *schema.TestCase, path string, inputs map[string]schema.Input, outputs map[string]schema.Output, result *schema.ValidationResult) {
	for _, factID := range sortedKeys(tc.Facts) {
		if _, ok := inputs[factID]; !ok {
			result.AddWarning(path+".facts."+factID, schema.ErrCodeValidation,
				fmt.Sprintf("test case %q supplies fact %q that matches no declared input", tc.ID, factID))
		}
	}
	for _, outputID := range sortedKeys(tc.Expected) {
		if _, ok := outputs[outputID]; !ok {
			result.AddError(path+".expected."+outputID, schema.ErrCodeValidation,
				fmt.Sprintf("test case %q expects output %q that is not declared", tc.ID, outputID))
		}
	}
	for _, inputID := range sortedKeys(inputs) {
		if !inputs[inputID].Required {
			continue
		}
		if _, supplied := tc.Facts[inputID]; !supplied {
			result.AddWarning(path+".facts", schema.ErrCodeValidation,
				fmt.Sprintf("test case %q omits required input %q and will always fail", tc.ID, inputID))
		}
	}
}

// operandConstrainsType applies the per-operator operand typing rule for the
// scalar operators. contains/starts/ends on a list input accept any element
// value, so only their string form is constrained.
func operandConstrainsType(op schema.Operator, v any, t schema.InputType) bool {
	switch op {
	case schema.OpContains, schema.OpStarts, schema.OpEnds:
		if t == schema.InputList {
			return true
		}
		_, ok := v.(string)
		return ok
	default:
		return operandMatchesInputType(v, t)
	}
}

// operandMatchesInputType reports whether a literal is usable as a value of
// the declared input type. Nil always matches; dates accept time.Time and
// RFC 3339 / date-only strings.
func operandMatchesInputType(v any, t schema.InputType) bool {
	if v == nil {
		return true
	}
	switch t {
	case schema.InputNumber:
		_, ok := condition.AsNumber(v)
		return ok
	case schema.InputBoolean:
		_, ok := v.(bool)
		return ok
	case schema.InputDate:
		_, ok := condition.AsTime(v)
		return ok
	case schema.InputList:
		_, ok := condition.AsList(v)
		return ok
	case schema.InputString:
		_, ok := v.(string)
		return ok
	default:
		return true
	}
}

// valueMatchesOutputType reports whether a literal is usable as a value of
// the declared output type. Nil always matches.
func valueMatchesOutputType(v any, t schema.OutputType) bool {
	if v == nil {
		return true
	}
	switch t {
	case schema.OutputNumber:
		_, ok := condition.AsNumber(v)
		return ok
	case schema.OutputBoolean:
		_, ok := v.(bool)
		return ok
	case schema.OutputDate:
		_, ok := condition.AsTime(v)
		return ok
	case schema.OutputList:
		_, ok := condition.AsList(v)
		return ok
	case schema.OutputObject:
		_, ok := v.(map[string]any)
		return ok
	case schema.OutputString:
		_, ok := v.(string)
		return ok
	default:
		return true
	}
}

// sortedKeys returns a map's keys in sorted order for deterministic issue
// ordering across runs.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
