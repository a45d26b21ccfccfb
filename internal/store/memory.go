package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arqio/verdict/pkg/schema"
)

// MemoryStore implements the Store interface with in-process maps. It backs
// tests and embedded library use; nothing survives a process restart.
type MemoryStore struct {
	mu        sync.RWMutex
	logs      map[string][]*schema.EvaluationLogEntry // table id -> entries in append order
	testRuns  []*TestRunRecord
	nextRunID int64
	schedules map[string]*ScheduledRun
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:      make(map[string][]*schema.EvaluationLogEntry),
		schedules: make(map[string]*ScheduledRun),
	}
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Close discards all stored data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = make(map[string][]*schema.EvaluationLogEntry)
	s.testRuns = nil
	s.schedules = make(map[string]*ScheduledRun)
	return nil
}

// --- Evaluation log ---

func (s *MemoryStore) AppendLogEntry(ctx context.Context, entry *schema.EvaluationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Sequence = int64(len(s.logs[entry.TableID])) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.logs[entry.TableID] = append(s.logs[entry.TableID], cloneLogEntry(entry))
	return nil
}

func (s *MemoryStore) ListLogEntries(ctx context.Context, filter LogFilter) ([]*schema.EvaluationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*schema.EvaluationLogEntry
	for tableID, entries := range s.logs {
		if filter.TableID != "" && tableID != filter.TableID {
			continue
		}
		for _, e := range entries {
			if filter.SinceSequence > 0 && e.Sequence <= filter.SinceSequence {
				continue
			}
			matched = append(matched, e)
		}
	}

	// Newest first.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Sequence > matched[j].Sequence
	})

	matched = applyWindow(matched, filter.Offset, filter.Limit)

	out := make([]*schema.EvaluationLogEntry, len(matched))
	for i, e := range matched {
		out[i] = cloneLogEntry(e)
	}
	return out, nil
}

func (s *MemoryStore) CountLogEntries(ctx context.Context, tableID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tableID != "" {
		return int64(len(s.logs[tableID])), nil
	}
	var n int64
	for _, entries := range s.logs {
		n += int64(len(entries))
	}
	return n, nil
}

// --- Regression suite runs ---

func (s *MemoryStore) SaveTestRun(ctx context.Context, run *TestRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Trigger == "" {
		run.Trigger = TriggerManual
	}
	run.StartedAt = timeOrNow(run.StartedAt)
	s.nextRunID++
	run.ID = s.nextRunID

	stored := *run
	stored.Results = append([]byte(nil), run.Results...)
	s.testRuns = append(s.testRuns, &stored)
	return nil
}

func (s *MemoryStore) ListTestRuns(ctx context.Context, filter TestRunFilter) ([]*TestRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*TestRunRecord
	for _, r := range s.testRuns {
		if filter.TableID != "" && r.TableID != filter.TableID {
			continue
		}
		if filter.Trigger != "" && r.Trigger != filter.Trigger {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*TestRunRecord, len(matched))
	for i, r := range matched {
		c := *r
		c.Results = append([]byte(nil), r.Results...)
		out[i] = &c
	}
	return out, nil
}

// --- Scheduled runs ---

func (s *MemoryStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "scheduled run %q already exists", run.ID)
	}
	run.CreatedAt = timeOrNow(run.CreatedAt)
	s.schedules[run.ID] = cloneScheduledRun(run)
	return nil
}

func (s *MemoryStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.schedules[id]
	if !ok {
		return nil, storeNotFound("scheduled run", id)
	}
	return cloneScheduledRun(run), nil
}

func (s *MemoryStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.schedules[id]
	if !ok {
		return storeNotFound("scheduled run", id)
	}
	if update.CronExpression != "" {
		run.CronExpression = update.CronExpression
	}
	if update.Enabled != nil {
		run.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		run.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		run.NextRunAt = &t
	}
	if update.LastRunStatus != "" {
		run.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*ScheduledRun
	for _, run := range s.schedules {
		if filter.TableID != "" && run.TableID != filter.TableID {
			continue
		}
		if filter.Enabled != nil && run.Enabled != *filter.Enabled {
			continue
		}
		if filter.DueBy != nil && (run.NextRunAt == nil || run.NextRunAt.After(*filter.DueBy)) {
			continue
		}
		matched = append(matched, run)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*ScheduledRun, len(matched))
	for i, run := range matched {
		out[i] = cloneScheduledRun(run)
	}
	return out, nil
}

func (s *MemoryStore) DeleteScheduledRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return storeNotFound("scheduled run", id)
	}
	delete(s.schedules, id)
	return nil
}

// --- Copy helpers ---

func cloneLogEntry(e *schema.EvaluationLogEntry) *schema.EvaluationLogEntry {
	c := *e
	c.Facts = schema.CloneFacts(e.Facts)
	c.Outputs = schema.CloneFacts(e.Outputs)
	if e.MatchedRuleIDs != nil {
		c.MatchedRuleIDs = append([]string(nil), e.MatchedRuleIDs...)
	}
	return &c
}

func cloneScheduledRun(run *ScheduledRun) *ScheduledRun {
	c := *run
	if run.LastRunAt != nil {
		t := *run.LastRunAt
		c.LastRunAt = &t
	}
	if run.NextRunAt != nil {
		t := *run.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}

func applyWindow[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
