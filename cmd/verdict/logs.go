package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arqio/verdict/pkg/engine"
)

var logsFlags struct {
	limit  int
	offset int
	since  int64
	format string
}

var logsCmd = &cobra.Command{
	Use:   "logs <table-id>",
	Short: "List a table's evaluation audit log",
	Long: `Logs lists recorded evaluations for one table, newest first. Each entry
holds the facts, the outputs, the matched rule IDs, and a per-table sequence
number that makes gaps in the audit trail detectable.

Examples:
  verdict logs pricing
  verdict logs pricing --limit 20 --offset 40
  verdict logs pricing --since 1500 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVar(&logsFlags.limit, "limit", 50, "maximum entries to list")
	logsCmd.Flags().IntVar(&logsFlags.offset, "offset", 0, "entries to skip from the newest")
	logsCmd.Flags().Int64Var(&logsFlags.since, "since", 0, "only entries with a sequence number above this")
	logsCmd.Flags().StringVar(&logsFlags.format, "format", "text", "output format: text, json")
}

func runLogs(cmd *cobra.Command, args []string) error {
	eng, closer, err := openEngine(cmd.Context(), runtimeConfig())
	if err != nil {
		return err
	}
	defer closer()

	entries, err := eng.ListEvaluationLogs(cmd.Context(), engine.LogQuery{
		TableID:       args[0],
		SinceSequence: logsFlags.since,
		Limit:         logsFlags.limit,
		Offset:        logsFlags.offset,
	})
	if err != nil {
		return err
	}

	if logsFlags.format == "json" {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Printf("no log entries for table %q\n", args[0])
		return nil
	}

	for _, e := range entries {
		matched := "no match"
		if len(e.MatchedRuleIDs) > 0 {
			matched = strings.Join(e.MatchedRuleIDs, ",")
		}
		outputs, _ := json.Marshal(e.Outputs)
		fmt.Printf("#%-6d %s  %-12s  rules=%s  outputs=%s\n",
			e.Sequence,
			e.Timestamp.Format(time.RFC3339),
			e.HitPolicy,
			matched,
			outputs,
		)
	}
	fmt.Printf("\n%d entry(s)\n", len(entries))
	return nil
}
