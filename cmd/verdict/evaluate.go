package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arqio/verdict/pkg/engine"
)

var evaluateFlags struct {
	facts     string
	factsFile string
	validate  bool
	format    string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <table.json>",
	Short: "Evaluate a decision table against a fact document",
	Long: `Evaluate runs one decision against the given facts and prints the outputs.

Facts are a flat JSON object keyed by input ID. Inputs that are declared but
absent fall back to their default value; absent required inputs without a
default abort the evaluation. When no rule matches, the declared output
defaults are returned instead.

Every successful evaluation, including a no-match, is appended to the audit
log in the configured database.

Examples:
  verdict evaluate pricing.json --facts '{"amount": 1200, "region": "EU"}'
  verdict evaluate pricing.json --facts-file order.json --validate
  verdict evaluate pricing.json --facts '{"amount": 40}' --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evaluateFlags.facts, "facts", "", "facts as an inline JSON object")
	evaluateCmd.Flags().StringVar(&evaluateFlags.factsFile, "facts-file", "", "path to a JSON file holding the facts")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.validate, "validate", false, "validate the table first and refuse to evaluate an invalid one")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	table, err := loadTable(args[0])
	if err != nil {
		return err
	}
	facts, err := parseFacts()
	if err != nil {
		return err
	}

	cfg := runtimeConfig()
	logger := newLogger(cfg)

	eng, closer, err := openEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closer()

	// Advisory only: evaluation itself decides what is fatal.
	if err := eng.ValidateFacts(table, facts); err != nil {
		logger.Warn("facts do not fit the table's input schema",
			slog.String("table_id", table.ID),
			slog.String("error", err.Error()),
		)
	}

	res, err := eng.Evaluate(cmd.Context(), table, facts, engine.EvaluateOptions{
		ValidateFirst: evaluateFlags.validate,
	})
	if err != nil {
		return err
	}

	if evaluateFlags.format == "json" {
		return printJSON(res)
	}
	printResult(res)
	return nil
}

func parseFacts() (map[string]any, error) {
	raw := evaluateFlags.facts
	if evaluateFlags.factsFile != "" {
		if raw != "" {
			return nil, fmt.Errorf("--facts and --facts-file are mutually exclusive")
		}
		data, err := os.ReadFile(evaluateFlags.factsFile)
		if err != nil {
			return nil, fmt.Errorf("read facts file: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var facts map[string]any
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}
	return facts, nil
}

func printResult(res *engine.Result) {
	if len(res.MatchedRuleIDs) == 0 {
		fmt.Println("no rule matched, returning declared defaults")
	} else {
		fmt.Printf("matched rules: %s\n", strings.Join(res.MatchedRuleIDs, ", "))
	}

	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(res.Outputs[k])
		if err != nil {
			fmt.Printf("  %s = %v\n", k, res.Outputs[k])
			continue
		}
		fmt.Printf("  %s = %s\n", k, v)
	}

	fmt.Printf("log entry: %s\n", res.LogEntryID)
}
