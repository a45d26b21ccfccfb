package store

import (
	"context"

	"github.com/arqio/verdict/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Evaluation log (append-only)
	AppendLogEntry(ctx context.Context, entry *schema.EvaluationLogEntry) error
	ListLogEntries(ctx context.Context, filter LogFilter) ([]*schema.EvaluationLogEntry, error)
	CountLogEntries(ctx context.Context, tableID string) (int64, error)

	// Regression suite runs
	SaveTestRun(ctx context.Context, run *TestRunRecord) error
	ListTestRuns(ctx context.Context, filter TestRunFilter) ([]*TestRunRecord, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, run *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
