package testrunner

import (
	"sort"

	"github.com/arqio/verdict/internal/condition"
	"github.com/arqio/verdict/pkg/schema"
)

// diffOutputs deep-compares expected and actual output maps and returns the
// per-output disagreements. Scalars compare exactly, objects structurally
// ignoring key order, lists element-wise in order. A nil map counts as
// empty.
func diffOutputs(expected, actual map[string]any) []schema.OutputDiff {
	var diffs []schema.OutputDiff
	for _, key := range unionKeys(expected, actual) {
		want, inExpected := expected[key]
		got, inActual := actual[key]
		if inExpected && inActual && condition.Equal(want, got) {
			continue
		}
		diffs = append(diffs, schema.OutputDiff{OutputID: key, Expected: want, Actual: got})
	}
	return diffs
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
