package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all verdict CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	LogFormat         string `json:"log_format"`
	PoolSize          int    `json:"pool_size"`
	ExpressionTimeout string `json:"expression_timeout"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(verdictDir(), "verdict.db"),
		LogLevel:          "info",
		LogFormat:         "text",
		PoolSize:          8,
		ExpressionTimeout: "1s",
	}
}

// expressionTimeout parses the configured per-expression budget. Unparseable
// or non-positive values fall back to the engine default.
func (c Config) expressionTimeout() time.Duration {
	d, err := time.ParseDuration(c.ExpressionTimeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func verdictDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verdict"
	}
	return filepath.Join(home, ".verdict")
}

func settingsPath() string {
	return filepath.Join(verdictDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("VERDICT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VERDICT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VERDICT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("VERDICT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("VERDICT_EXPRESSION_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.ExpressionTimeout = v
		}
	}

	return cfg
}
