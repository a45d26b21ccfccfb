package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/arqio/verdict/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Evaluation log ---

// AppendLogEntry inserts an evaluation log entry, assigning a monotonically
// increasing per-table sequence inside the transaction. The entry's Sequence
// field is set on success.
func (s *LibSQLStore) AppendLogEntry(ctx context.Context, entry *schema.EvaluationLogEntry) error {
	facts, err := marshalMapOrDefault(entry.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	var outputs any
	if entry.Outputs != nil {
		b, err := json.Marshal(entry.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		outputs = string(b)
	}
	matched := entry.MatchedRuleIDs
	if matched == nil {
		matched = []string{}
	}
	matchedJSON, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("marshal matched_rule_ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM evaluation_logs WHERE table_id = ?`, entry.TableID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	entry.Sequence = seq

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO evaluation_logs (id, table_id, sequence, timestamp, hit_policy, facts, outputs, matched_rule_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TableID, seq, entry.Timestamp, string(entry.HitPolicy),
		string(facts), outputs, string(matchedJSON),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns evaluation log entries newest-first.
func (s *LibSQLStore) ListLogEntries(ctx context.Context, filter LogFilter) ([]*schema.EvaluationLogEntry, error) {
	var where []string
	var args []any

	if filter.TableID != "" {
		where = append(where, "table_id = ?")
		args = append(args, filter.TableID)
	}
	if filter.SinceSequence > 0 {
		where = append(where, "sequence > ?")
		args = append(args, filter.SinceSequence)
	}

	query := `SELECT id, table_id, sequence, timestamp, hit_policy, facts, outputs, matched_rule_ids FROM evaluation_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, sequence DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

// CountLogEntries returns the number of log entries for a table, or for all
// tables when tableID is empty.
func (s *LibSQLStore) CountLogEntries(ctx context.Context, tableID string) (int64, error) {
	query := `SELECT COUNT(*) FROM evaluation_logs`
	var args []any
	if tableID != "" {
		query += " WHERE table_id = ?"
		args = append(args, tableID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanLogEntries(rows *sql.Rows) ([]*schema.EvaluationLogEntry, error) {
	var entries []*schema.EvaluationLogEntry
	for rows.Next() {
		e := &schema.EvaluationLogEntry{}
		var policy, factsJSON, matchedJSON string
		var outputsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.TableID, &e.Sequence, &e.Timestamp, &policy,
			&factsJSON, &outputsJSON, &matchedJSON); err != nil {
			return nil, err
		}
		e.HitPolicy = schema.HitPolicy(policy)
		if err := json.Unmarshal([]byte(factsJSON), &e.Facts); err != nil {
			return nil, fmt.Errorf("unmarshal facts: %w", err)
		}
		if outputsJSON.Valid {
			if err := json.Unmarshal([]byte(outputsJSON.String), &e.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(matchedJSON), &e.MatchedRuleIDs); err != nil {
			return nil, fmt.Errorf("unmarshal matched_rule_ids: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Regression suite runs ---

// SaveTestRun inserts a run summary and sets the record's ID.
func (s *LibSQLStore) SaveTestRun(ctx context.Context, run *TestRunRecord) error {
	if run.Trigger == "" {
		run.Trigger = TriggerManual
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO test_runs (table_id, run_trigger, total, passed, failed, results, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TableID, run.Trigger, run.Total, run.Passed, run.Failed,
		nullRaw(run.Results), timeOrNow(run.StartedAt), run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert test run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("test run id: %w", err)
	}
	run.ID = id
	return nil
}

// ListTestRuns returns run summaries newest-first.
func (s *LibSQLStore) ListTestRuns(ctx context.Context, filter TestRunFilter) ([]*TestRunRecord, error) {
	var where []string
	var args []any

	if filter.TableID != "" {
		where = append(where, "table_id = ?")
		args = append(args, filter.TableID)
	}
	if filter.Trigger != "" {
		where = append(where, "run_trigger = ?")
		args = append(args, filter.Trigger)
	}

	query := `SELECT id, table_id, run_trigger, total, passed, failed, results, started_at, duration_ms FROM test_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*TestRunRecord
	for rows.Next() {
		r := &TestRunRecord{}
		var results sql.NullString
		if err := rows.Scan(&r.ID, &r.TableID, &r.Trigger, &r.Total, &r.Passed, &r.Failed,
			&results, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Results = rawOrNil(results)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, table_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TableID, run.CronExpression, run.Enabled,
		nullTime(run.LastRunAt), nullTime(run.NextRunAt), nullStr(run.LastRunStatus),
		timeOrNow(run.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	run := &ScheduledRun{}
	var lastRunAt, nextRunAt sql.NullTime
	var status sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.TableID, &run.CronExpression, &run.Enabled,
		&lastRunAt, &nextRunAt, &status, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled run", id)
	}
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		run.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		run.NextRunAt = &nextRunAt.Time
	}
	run.LastRunStatus = status.String
	return run, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != "" {
		sets = append(sets, "cron_expression = ?")
		args = append(args, update.CronExpression)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	var where []string
	var args []any

	if filter.TableID != "" {
		where = append(where, "table_id = ?")
		args = append(args, filter.TableID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.DueBy != nil {
		where = append(where, "next_run_at IS NOT NULL AND next_run_at <= ?")
		args = append(args, *filter.DueBy)
	}

	query := `SELECT id, table_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScheduledRun
	for rows.Next() {
		run := &ScheduledRun{}
		var lastRunAt, nextRunAt sql.NullTime
		var status sql.NullString
		if err := rows.Scan(&run.ID, &run.TableID, &run.CronExpression, &run.Enabled,
			&lastRunAt, &nextRunAt, &status, &run.CreatedAt); err != nil {
			return nil, err
		}
		if lastRunAt.Valid {
			run.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			run.NextRunAt = &nextRunAt.Time
		}
		run.LastRunStatus = status.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.VerdictError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
