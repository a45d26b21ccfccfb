package validation

import "github.com/arqio/verdict/pkg/schema"

// TableValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema, duplicate ids)
// 2. Semantic (id references, operator/type matrix, operand shapes, policy rules)
// 3. Disjointness (unique-policy static overlap analysis)
type TableValidator struct {
	jsonSchema *JSONSchemaValidator
}

var _ Validator = (*TableValidator)(nil)

// NewTableValidator creates a TableValidator with the structural schema
// pre-compiled.
func NewTableValidator() (*TableValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &TableValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result. It never
// returns an error: every finding is an issue in the result. Structural
// errors short-circuit, since a document that does not parse as a decision
// table cannot be analyzed further; past that, the semantic and disjointness
// stages both always run so a broken table can be corrected in one pass.
func (tv *TableValidator) Validate(table *schema.DecisionTable) *schema.ValidationResult {
	if table == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "decision table is nil")
		return r
	}

	result := validateStructural(tv.jsonSchema, table)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(table))
	result.Merge(validateDisjointness(table))
	return result
}

// ValidateFacts delegates to the underlying JSONSchemaValidator.
func (tv *TableValidator) ValidateFacts(table *schema.DecisionTable, facts map[string]any) error {
	return tv.jsonSchema.ValidateFacts(table, facts)
}

// validateStructural wraps JSONSchemaValidator.ValidateTable, converting its
// error output into per-violation ValidationResult entries.
func validateStructural(v *JSONSchemaValidator, table *schema.DecisionTable) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateTable(table)
	if err == nil {
		return result
	}

	verr, ok := err.(*schema.VerdictError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if verr.Details != nil {
		if violations, ok := verr.Details["violations"].([]string); ok {
			for _, violation := range violations {
				result.AddError("/", schema.ErrCodeValidation, violation)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, verr.Message)
	return result
}
