package streaming

import (
	"context"

	"github.com/arqio/verdict/pkg/schema"
)

// EntryFilter specifies which log entries a subscriber wants to receive.
type EntryFilter struct {
	TableID     string `json:"table_id,omitempty"`
	MatchedOnly bool   `json:"matched_only,omitempty"`
}

// LogHub provides pub/sub for evaluation log entries as they are appended.
// Delivered entries are shared snapshots; subscribers must not mutate them.
type LogHub interface {
	Publish(ctx context.Context, entry schema.EvaluationLogEntry) error
	Subscribe(ctx context.Context, filter EntryFilter) (<-chan schema.EvaluationLogEntry, func(), error)
}
