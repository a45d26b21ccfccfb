package schema

// TestResult is the outcome of replaying one stored test case.
type TestResult struct {
	TestCaseID    string         `json:"test_case_id"`
	Name          string         `json:"name,omitempty"`
	Passed        bool           `json:"passed"`
	ActualOutputs map[string]any `json:"actual_outputs,omitempty"`
	Diffs         []OutputDiff   `json:"diffs,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// OutputDiff names one output where expected and actual disagree.
type OutputDiff struct {
	OutputID string `json:"output_id"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// TestRunSummary aggregates a full regression suite run. Results follow the
// test cases' stored declaration order, and Passed+Failed always equals
// Total.
type TestRunSummary struct {
	TableID string        `json:"table_id"`
	Total   int           `json:"total"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
	Results []*TestResult `json:"results"`
}
