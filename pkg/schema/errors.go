package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeDefinition   = "DEFINITION_ERROR"
	ErrCodeMissingInput = "MISSING_REQUIRED_INPUT"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeExpression   = "EXPRESSION_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeTimeout      = "TIMEOUT_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStore        = "STORE_ERROR"
)

// VerdictError is the structured error type for all engine operations.
// RuleID and OutputID locate the failure inside the table when applicable;
// conflicts carry the full offending rule id list in Details since there
// are several.
type VerdictError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	RuleID   string         `json:"rule_id,omitempty"`
	OutputID string         `json:"output_id,omitempty"`
	Cause    error          `json:"-"`
}

func (e *VerdictError) Error() string {
	switch {
	case e.RuleID != "" && e.OutputID != "":
		return fmt.Sprintf("[%s] rule %s output %s: %s", e.Code, e.RuleID, e.OutputID, e.Message)
	case e.RuleID != "":
		return fmt.Sprintf("[%s] rule %s: %s", e.Code, e.RuleID, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *VerdictError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VerdictError.
func NewError(code, message string) *VerdictError {
	return &VerdictError{Code: code, Message: message}
}

// NewErrorf creates a new VerdictError with a formatted message.
func NewErrorf(code, format string, args ...any) *VerdictError {
	return &VerdictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRule attaches the rule ID the error occurred in.
func (e *VerdictError) WithRule(ruleID string) *VerdictError {
	e.RuleID = ruleID
	return e
}

// WithOutput attaches the output ID the error occurred on.
func (e *VerdictError) WithOutput(outputID string) *VerdictError {
	e.OutputID = outputID
	return e
}

// WithCause attaches an underlying cause.
func (e *VerdictError) WithCause(err error) *VerdictError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VerdictError) WithDetails(details map[string]any) *VerdictError {
	e.Details = details
	return e
}
