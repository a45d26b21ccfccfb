package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arqio/verdict/pkg/schema"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate <table.json>",
	Short: "Statically validate a decision table definition",
	Long: `Validate checks a decision table file for structural and semantic problems:
malformed JSON shape, duplicate or unknown identifiers, conditions that do
not fit their input's type, unreachable rules, and test cases that expect
undeclared outputs.

The command reports every issue it finds in one pass. Warnings do not affect
the exit code; any error makes the command exit non-zero.

Examples:
  verdict validate pricing.json
  verdict validate pricing.json --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

func runValidate(cmd *cobra.Command, args []string) error {
	table, err := loadTable(args[0])
	if err != nil {
		return err
	}

	eng, err := newStaticEngine(runtimeConfig())
	if err != nil {
		return err
	}

	result := eng.Validate(table)

	if validateFlags.format == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printValidation(table.ID, result)
	}

	if !result.Valid() {
		return fmt.Errorf("table %q is invalid: %d error(s)", table.ID, len(result.Errors))
	}
	return nil
}

func printValidation(tableID string, result *schema.ValidationResult) {
	if result.Valid() && len(result.Warnings) == 0 {
		fmt.Printf("✓ %s is valid\n", tableID)
		return
	}

	for _, issue := range result.Errors {
		fmt.Printf("✗ %s: %s [%s]\n", issue.Path, issue.Message, issue.Code)
	}
	for _, issue := range result.Warnings {
		fmt.Printf("⚠ %s: %s [%s]\n", issue.Path, issue.Message, issue.Code)
	}

	fmt.Printf("\nSummary: %d error(s), %d warning(s)\n", len(result.Errors), len(result.Warnings))
}
