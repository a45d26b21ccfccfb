package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/arqio/verdict/internal/store"
	"github.com/arqio/verdict/pkg/schema"
)

// SuiteRunner is the interface the scheduler uses to replay a table's
// regression suite. Satisfied by *testrunner.Runner.
type SuiteRunner interface {
	RunAll(ctx context.Context, table *schema.DecisionTable) *schema.TestRunSummary
}

// TableProvider resolves a table id to its current definition. Table
// definitions live with the host platform, not in this module's store.
type TableProvider interface {
	GetTable(ctx context.Context, tableID string) (*schema.DecisionTable, error)
}

// Scheduler polls the store for due scheduled runs and replays each table's
// regression suite, persisting a scheduled-trigger run record per firing.
type Scheduler struct {
	store  store.Store
	runner SuiteRunner
	tables TableProvider
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner SuiteRunner, tables TableProvider, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		tables:   tables,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and runs those that are due. A schedule
// that has never fired (nil NextRunAt) counts as due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	scheds, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range scheds {
		if sched.NextRunAt == nil || !sched.NextRunAt.After(now) {
			if !s.tryAcquire(sched.ID) {
				continue // already running (dedup)
			}
			if err := s.runSuite(ctx, sched, now); err != nil {
				s.logger.Error("scheduled suite run failed",
					slog.String("schedule_id", sched.ID),
					slog.String("table_id", sched.TableID),
					slog.String("error", err.Error()),
				)
			}
			s.release(sched.ID)
		}
	}
}

// runSuite loads the table, replays its suite, persists the run record, and
// advances the schedule to its next firing.
func (s *Scheduler) runSuite(ctx context.Context, sched *store.ScheduledRun, now time.Time) error {
	s.logger.Info("running scheduled suite",
		slog.String("schedule_id", sched.ID),
		slog.String("table_id", sched.TableID),
	)

	table, err := s.tables.GetTable(ctx, sched.TableID)
	if err != nil || table == nil {
		if err == nil {
			err = fmt.Errorf("table %q not found", sched.TableID)
		}
		s.logger.Error("scheduled suite has no table",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
		return s.advance(ctx, sched, now, store.RunStatusError)
	}

	start := time.Now()
	summary := s.runner.RunAll(ctx, table)
	elapsed := time.Since(start)

	status := store.RunStatusPassed
	if summary.Failed > 0 {
		status = store.RunStatusFailed
	}

	if err := s.saveRun(ctx, summary, start, elapsed); err != nil {
		s.logger.Error("scheduled run record persist failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.advance(ctx, sched, now, status)
}

func (s *Scheduler) saveRun(ctx context.Context, summary *schema.TestRunSummary, start time.Time, elapsed time.Duration) error {
	results, err := json.Marshal(summary.Results)
	if err != nil {
		return err
	}
	return s.store.SaveTestRun(ctx, &store.TestRunRecord{
		TableID:    summary.TableID,
		Trigger:    store.TriggerScheduled,
		Total:      summary.Total,
		Passed:     summary.Passed,
		Failed:     summary.Failed,
		Results:    results,
		StartedAt:  start.UTC(),
		DurationMs: elapsed.Milliseconds(),
	})
}

func (s *Scheduler) advance(ctx context.Context, sched *store.ScheduledRun, now time.Time, status string) error {
	next, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}

	return s.store.UpdateScheduledRun(ctx, sched.ID, store.ScheduledRunUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

// Schedule validates the cron expression and registers a scheduled
// regression run for a table, due at the expression's next firing.
func (s *Scheduler) Schedule(ctx context.Context, tableID, cronExpr string) (*store.ScheduledRun, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error())
	}

	run := &store.ScheduledRun{
		ID:             uuid.NewString(),
		TableID:        tableID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.store.CreateScheduledRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// tryAcquire returns true and marks the schedule as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(scheduleID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[scheduleID]; ok {
		return false
	}
	s.inflight[scheduleID] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(scheduleID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, scheduleID)
}

// CalculateNextRun computes the next firing time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs, once, every enabled schedule whose next firing passed
// while the process was down. Schedules that have never fired are left for
// the regular tick.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	now := time.Now().UTC()
	scheds, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{
		Enabled: &enabled,
		DueBy:   &now,
	})
	if err != nil {
		return fmt.Errorf("list missed runs: %w", err)
	}

	recovered := 0
	for _, sched := range scheds {
		if !s.tryAcquire(sched.ID) {
			continue
		}
		if err := s.runSuite(ctx, sched, now); err != nil {
			s.logger.Error("failed to recover missed run",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
			s.release(sched.ID)
			continue
		}
		s.release(sched.ID)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed runs", slog.Int("count", recovered))
	}
	return nil
}
