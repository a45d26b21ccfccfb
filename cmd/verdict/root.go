package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arqio/verdict/internal/store"
	"github.com/arqio/verdict/pkg/engine"
	"github.com/arqio/verdict/pkg/schema"
)

var (
	flagDB        string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Evaluate and test JSON decision tables",
	Long: `verdict is a decision table engine for the command line.

A decision table maps input facts to output values through an ordered list
of rules. Each rule holds sparse conditions over the declared inputs; a hit
policy decides how matching rules combine into the final outputs.

Tables are JSON files. Evaluations are recorded in an append-only audit log
backed by a local libSQL database, and every table can carry test cases that
verdict runs concurrently and checks by deep equality.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on any error, including
// validation failures and failing test cases.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the libSQL database file (default ~/.verdict/verdict.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text, json")
}

// runtimeConfig layers command line flags on top of the loaded configuration.
func runtimeConfig() Config {
	cfg := loadConfig()
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	return cfg
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newStaticEngine builds an engine without a durable store. Sufficient for
// commands that only validate, where nothing is persisted.
func newStaticEngine(cfg Config) (*engine.Engine, error) {
	return engine.New(engine.Deps{
		Logger:            newLogger(cfg),
		PoolSize:          cfg.PoolSize,
		ExpressionTimeout: cfg.expressionTimeout(),
	})
}

// openEngine builds an engine backed by the configured libSQL database,
// creating and migrating it if needed. The returned closer must be called
// when the command finishes.
func openEngine(ctx context.Context, cfg Config) (*engine.Engine, func(), error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("migrate database %s: %w", cfg.DBPath, err)
	}
	eng, err := engine.New(engine.Deps{
		Store:             st,
		Logger:            newLogger(cfg),
		PoolSize:          cfg.PoolSize,
		ExpressionTimeout: cfg.expressionTimeout(),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return eng, func() { _ = st.Close() }, nil
}

func loadTable(path string) (*schema.DecisionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	var table schema.DecisionTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse table %s: %w", path, err)
	}
	return &table, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
