package store

import (
	"encoding/json"
	"time"
)

// Run triggers recorded on TestRunRecord.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Outcomes recorded on ScheduledRun.LastRunStatus.
const (
	RunStatusPassed = "passed"
	RunStatusFailed = "failed"
	RunStatusError  = "error"
)

// TestRunRecord is the persisted summary of one regression suite run
// against a decision table.
type TestRunRecord struct {
	ID         int64           `json:"id"`
	TableID    string          `json:"table_id"`
	Trigger    string          `json:"trigger"` // manual, scheduled
	Total      int             `json:"total"`
	Passed     int             `json:"passed"`
	Failed     int             `json:"failed"`
	Results    json.RawMessage `json:"results,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
}

// ScheduledRun is a cron-triggered regression suite execution for one table.
type ScheduledRun struct {
	ID             string     `json:"id"`
	TableID        string     `json:"table_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// LogFilter specifies criteria for listing evaluation log entries.
// Entries are returned newest-first (descending sequence).
type LogFilter struct {
	TableID       string `json:"table_id,omitempty"`
	SinceSequence int64  `json:"since_sequence,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// TestRunFilter specifies criteria for listing regression run records.
type TestRunFilter struct {
	TableID string `json:"table_id,omitempty"`
	Trigger string `json:"trigger,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	CronExpression string     `json:"cron_expression,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	TableID string     `json:"table_id,omitempty"`
	Enabled *bool      `json:"enabled,omitempty"`
	DueBy   *time.Time `json:"due_by,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}
