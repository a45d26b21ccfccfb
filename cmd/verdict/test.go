package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arqio/verdict/pkg/schema"
)

var testFlags struct {
	caseID string
	format string
}

var testCmd = &cobra.Command{
	Use:   "test <table.json>",
	Short: "Run a decision table's embedded test cases",
	Long: `Test runs the table's test cases and compares actual outputs against the
expected ones by deep equality. Cases run concurrently; results are reported
in declaration order. A case whose evaluation errors counts as a failure for
that case only.

The full-suite run persists a test run record to the configured database and
stamps each case's last outcome. The command exits non-zero when any case
fails.

Examples:
  verdict test pricing.json
  verdict test pricing.json --case tc-premium
  verdict test pricing.json --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().StringVar(&testFlags.caseID, "case", "", "run a single test case by ID")
	testCmd.Flags().StringVar(&testFlags.format, "format", "text", "output format: text, json")
}

func runTest(cmd *cobra.Command, args []string) error {
	table, err := loadTable(args[0])
	if err != nil {
		return err
	}

	eng, closer, err := openEngine(cmd.Context(), runtimeConfig())
	if err != nil {
		return err
	}
	defer closer()

	if testFlags.caseID != "" {
		result, err := eng.RunTestCase(cmd.Context(), table, testFlags.caseID)
		if err != nil {
			return err
		}
		if testFlags.format == "json" {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			printTestResult(result)
		}
		if !result.Passed {
			return fmt.Errorf("test case %q failed", testFlags.caseID)
		}
		return nil
	}

	summary, err := eng.RunAllTests(cmd.Context(), table)
	if err != nil {
		return err
	}

	if testFlags.format == "json" {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		for _, result := range summary.Results {
			printTestResult(result)
		}
		fmt.Printf("\nSummary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d test cases failed", summary.Failed, summary.Total)
	}
	return nil
}

func printTestResult(result *schema.TestResult) {
	label := result.TestCaseID
	if result.Name != "" {
		label += " (" + result.Name + ")"
	}

	if result.Passed {
		fmt.Printf("✓ %s\n", label)
		return
	}

	fmt.Printf("✗ %s\n", label)
	if result.Error != "" {
		fmt.Printf("    error: %s\n", result.Error)
	}
	for _, diff := range result.Diffs {
		expected, _ := json.Marshal(diff.Expected)
		actual, _ := json.Marshal(diff.Actual)
		fmt.Printf("    %s: expected %s, got %s\n", diff.OutputID, expected, actual)
	}
}
