package schema

import "time"

// DecisionTable is the JSON-serializable table format. The platform supplies
// a fully resolved snapshot: every Input/Output id referenced by a Rule must
// exist in the table's own collections.
type DecisionTable struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	HitPolicy HitPolicy      `json:"hit_policy"`
	Status    TableStatus    `json:"status,omitempty"`
	Version   int            `json:"version,omitempty"`
	Inputs    []Input        `json:"inputs"`
	Outputs   []Output       `json:"outputs"`
	Rules     []Rule         `json:"rules"`
	TestCases []TestCase     `json:"test_cases,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HitPolicy selects how the set of matched rules is reduced to a result.
type HitPolicy string

const (
	HitPolicyFirst        HitPolicy = "first"
	HitPolicyUnique       HitPolicy = "unique"
	HitPolicyAny          HitPolicy = "any"
	HitPolicyPriority     HitPolicy = "priority"
	HitPolicyCollect      HitPolicy = "collect"
	HitPolicyCollectSum   HitPolicy = "collect-sum"
	HitPolicyCollectMin   HitPolicy = "collect-min"
	HitPolicyCollectMax   HitPolicy = "collect-max"
	HitPolicyCollectCount HitPolicy = "collect-count"
)

// HitPolicies lists every supported policy in canonical order.
var HitPolicies = []HitPolicy{
	HitPolicyFirst, HitPolicyUnique, HitPolicyAny, HitPolicyPriority,
	HitPolicyCollect, HitPolicyCollectSum, HitPolicyCollectMin,
	HitPolicyCollectMax, HitPolicyCollectCount,
}

// Valid reports whether p is one of the supported hit policies.
func (p HitPolicy) Valid() bool {
	for _, known := range HitPolicies {
		if p == known {
			return true
		}
	}
	return false
}

// NumericAggregation reports whether p reduces output values numerically
// (collect-sum, collect-min, collect-max). Those policies require every
// Output to be number-typed.
func (p HitPolicy) NumericAggregation() bool {
	return p == HitPolicyCollectSum || p == HitPolicyCollectMin || p == HitPolicyCollectMax
}

// TableStatus is the lifecycle state of a table definition.
type TableStatus string

const (
	TableStatusDraft     TableStatus = "draft"
	TableStatusPublished TableStatus = "published"
	TableStatusArchived  TableStatus = "archived"
)

// InputType enumerates the fact value types an Input can declare.
type InputType string

const (
	InputString  InputType = "string"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
	InputDate    InputType = "date"
	InputList    InputType = "list"
)

// Input declares one typed fact column of the table.
type Input struct {
	ID            string    `json:"id"`
	Label         string    `json:"label,omitempty"`
	Type          InputType `json:"type"`
	Required      bool      `json:"required,omitempty"`
	AllowedValues []any     `json:"allowed_values,omitempty"`
	Default       any       `json:"default,omitempty"` // applied to absent optional facts
}

// OutputType enumerates the result value types an Output can declare.
type OutputType string

const (
	OutputString  OutputType = "string"
	OutputNumber  OutputType = "number"
	OutputBoolean OutputType = "boolean"
	OutputObject  OutputType = "object"
	OutputList    OutputType = "list"
	OutputDate    OutputType = "date"
)

// Output declares one typed result column of the table.
type Output struct {
	ID      string     `json:"id"`
	Label   string     `json:"label,omitempty"`
	Type    OutputType `json:"type"`
	Default any        `json:"default,omitempty"` // used when no rule supplies a value
}

// Rule is one row of the table: per-Input conditions, per-Output value specs.
// The condition map is sparse; an Input with no entry is a wildcard.
// A zero-value rule is enabled; set Disabled to exclude a rule from matching.
type Rule struct {
	ID         string                `json:"id"`
	Priority   int                   `json:"priority,omitempty"` // lower value wins under the priority policy
	Disabled   bool                  `json:"disabled,omitempty"`
	Conditions map[string]Condition  `json:"conditions,omitempty"`
	Outputs    map[string]OutputSpec `json:"outputs,omitempty"`
	Annotation string                `json:"annotation,omitempty"`
}

// Enabled reports whether the rule participates in matching.
func (r *Rule) Enabled() bool { return !r.Disabled }

// ConditionFor looks up the rule's condition on an Input. The second return
// is false when the rule declares no condition for that Input (wildcard);
// callers must branch on it rather than inspect a zero Condition.
func (r *Rule) ConditionFor(inputID string) (Condition, bool) {
	c, ok := r.Conditions[inputID]
	return c, ok
}

// OutputSpec is either a literal value or an expression for one Output.
// Setting both is a Validator error. Value is serialized without omitempty
// so that literal false/0/"" survive a wire round-trip.
type OutputSpec struct {
	Value      any    `json:"value"`
	Expression string `json:"expression,omitempty"`
}

// IsExpression reports whether the spec is evaluated rather than literal.
func (s OutputSpec) IsExpression() bool { return s.Expression != "" }

// TestCase is a stored regression case replayed by the test runner.
// LastOutcome/LastRunAt are written only by the test runner.
type TestCase struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Facts       map[string]any `json:"facts"`
	Expected    map[string]any `json:"expected"`
	LastOutcome TestOutcome    `json:"last_outcome,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
}

// TestOutcome records a test case's most recent result.
type TestOutcome string

const (
	TestPassed TestOutcome = "passed"
	TestFailed TestOutcome = "failed"
)

// EvaluationLogEntry is the append-only audit record emitted once per
// successful evaluate call. Sequence is assigned by the log store and is
// monotonically increasing per table.
type EvaluationLogEntry struct {
	ID             string         `json:"id"`
	TableID        string         `json:"table_id"`
	Sequence       int64          `json:"sequence,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	HitPolicy      HitPolicy      `json:"hit_policy"`
	Facts          map[string]any `json:"facts"`
	Outputs        map[string]any `json:"outputs"`
	MatchedRuleIDs []string       `json:"matched_rule_ids"`
}

// DefaultOutputs builds the no-match result: every declared Output mapped to
// its default value, or nil when none is declared.
func (t *DecisionTable) DefaultOutputs() map[string]any {
	out := make(map[string]any, len(t.Outputs))
	for _, o := range t.Outputs {
		out[o.ID] = CloneValue(o.Default)
	}
	return out
}

// Clone returns a deep copy of the table. Evaluation captures a snapshot via
// Clone so a concurrent definition edit can never produce a half-old,
// half-new view inside one call.
func (t *DecisionTable) Clone() *DecisionTable {
	if t == nil {
		return nil
	}
	out := &DecisionTable{
		ID:        t.ID,
		Name:      t.Name,
		HitPolicy: t.HitPolicy,
		Status:    t.Status,
		Version:   t.Version,
	}
	if t.Inputs != nil {
		out.Inputs = make([]Input, len(t.Inputs))
		for i, in := range t.Inputs {
			out.Inputs[i] = in.clone()
		}
	}
	if t.Outputs != nil {
		out.Outputs = make([]Output, len(t.Outputs))
		for i, o := range t.Outputs {
			out.Outputs[i] = o.clone()
		}
	}
	if t.Rules != nil {
		out.Rules = make([]Rule, len(t.Rules))
		for i, r := range t.Rules {
			out.Rules[i] = r.clone()
		}
	}
	if t.TestCases != nil {
		out.TestCases = make([]TestCase, len(t.TestCases))
		for i, tc := range t.TestCases {
			out.TestCases[i] = tc.clone()
		}
	}
	if t.Metadata != nil {
		out.Metadata = CloneValue(t.Metadata).(map[string]any)
	}
	return out
}

func (in Input) clone() Input {
	out := in
	if in.AllowedValues != nil {
		out.AllowedValues = CloneValue(in.AllowedValues).([]any)
	}
	out.Default = CloneValue(in.Default)
	return out
}

func (o Output) clone() Output {
	out := o
	out.Default = CloneValue(o.Default)
	return out
}

func (r Rule) clone() Rule {
	out := r
	if r.Conditions != nil {
		out.Conditions = make(map[string]Condition, len(r.Conditions))
		for id, c := range r.Conditions {
			out.Conditions[id] = c.clone()
		}
	}
	if r.Outputs != nil {
		out.Outputs = make(map[string]OutputSpec, len(r.Outputs))
		for id, s := range r.Outputs {
			s.Value = CloneValue(s.Value)
			out.Outputs[id] = s
		}
	}
	return out
}

func (tc TestCase) clone() TestCase {
	out := tc
	if tc.Facts != nil {
		out.Facts = CloneValue(tc.Facts).(map[string]any)
	}
	if tc.Expected != nil {
		out.Expected = CloneValue(tc.Expected).(map[string]any)
	}
	if tc.LastRunAt != nil {
		ts := *tc.LastRunAt
		out.LastRunAt = &ts
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value (maps, slices, scalars).
// Scalars are returned as-is; maps and slices are copied recursively.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneFacts deep-copies a fact map, preserving nil.
func CloneFacts(facts map[string]any) map[string]any {
	if facts == nil {
		return nil
	}
	return CloneValue(facts).(map[string]any)
}
