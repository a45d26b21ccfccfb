package validation

import "github.com/arqio/verdict/pkg/schema"

// Validator checks decision-table snapshots for correctness before evaluation.
// Uses JSON Schema Draft 2020-12 for the structural stage.
type Validator interface {
	Validate(table *schema.DecisionTable) *schema.ValidationResult
	ValidateFacts(table *schema.DecisionTable, facts map[string]any) error
}
