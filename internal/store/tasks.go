package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusScheduled  TaskStatus = "scheduled"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusDeadLetter TaskStatus = "dead_letter"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ScheduleKind distinguishes how a task's next run is computed.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOneShot  ScheduleKind = "one_shot"
)

// Task is a schedulable unit of background work.
type Task struct {
	ID             string
	Definition     string // opaque prompt / skill-scoped payload, interpreted by the runner
	ScheduleKind   ScheduleKind
	ScheduleValue  string // interval duration string, cron expression, or one-shot unix-millisecond timestamp
	Budget         string // JSON-encoded budget.Budget
	Status         TaskStatus
	NextRunAt      *time.Time
	RetryCount     int
	ConversationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskRun is one execution attempt of a Task.
type TaskRun struct {
	ID           string
	TaskID       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Outcome      string // "running", "ok", "error"
	Error        string
	TokensUsed   int
	CostUSD      float64
	ToolCalls    int
	MemoryWrites int
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var nextRunAt sql.NullString
	if t.NextRunAt != nil {
		nextRunAt = sql.NullString{String: t.NextRunAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks
			(id, definition, schedule_kind, schedule_value, budget, status, next_run_at, retry_count, conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Definition, string(t.ScheduleKind), t.ScheduleValue, t.Budget, string(t.Status),
		nextRunAt, t.RetryCount, nullIfEmpty(t.ConversationID),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

// GetTask loads a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, definition, schedule_kind, schedule_value, budget, status, next_run_at, retry_count, conversation_id, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks, optionally filtered by status (pass "" for all).
func (s *Store) ListTasks(ctx context.Context, status TaskStatus) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, definition, schedule_kind, schedule_value, budget, status, next_run_at, retry_count, conversation_id, created_at, updated_at
			FROM tasks ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, definition, schedule_kind, schedule_value, budget, status, next_run_at, retry_count, conversation_id, created_at, updated_at
			FROM tasks WHERE status = ? ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DueTasks returns tasks scheduled to run at or before now.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition, schedule_kind, schedule_value, budget, status, next_run_at, retry_count, conversation_id, created_at, updated_at
		FROM tasks WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`,
		string(TaskStatusScheduled), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: due tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// TransitionTaskRunning performs a compare-and-swap from scheduled to
// running. Returns false (no error) if another scheduler instance already
// claimed the task.
func (s *Store) TransitionTaskRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(TaskStatusRunning), time.Now().UTC().Format(time.RFC3339Nano), id, string(TaskStatusScheduled),
	)
	if err != nil {
		return false, fmt.Errorf("store: transition task running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: transition task running: %w", err)
	}
	return n == 1, nil
}

// CompleteTask records the outcome of a finished run and advances the task
// to its next scheduled state.
func (s *Store) CompleteTask(ctx context.Context, id string, status TaskStatus, nextRunAt *time.Time, retryCount int) error {
	var nextRun sql.NullString
	if nextRunAt != nil {
		nextRun = sql.NullString{String: nextRunAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, next_run_at = ?, retry_count = ?, updated_at = ? WHERE id = ?`,
		string(status), nextRun, retryCount, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return nil
}

// DeleteTask removes a task and its run history.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	return nil
}

// CreateTaskRun inserts a new run row for a task.
func (s *Store) CreateTaskRun(ctx context.Context, r *TaskRun) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, started_at, outcome)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.TaskID, r.StartedAt.Format(time.RFC3339Nano), r.Outcome,
	)
	if err != nil {
		return fmt.Errorf("store: create task run: %w", err)
	}
	return nil
}

// FinishTaskRun records the terminal state of a run.
func (s *Store) FinishTaskRun(ctx context.Context, r *TaskRun) error {
	finishedAt := time.Now().UTC()
	r.FinishedAt = &finishedAt
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET finished_at = ?, outcome = ?, error = ?, tokens_used = ?, cost_usd = ?, tool_calls = ?, memory_writes = ?
		WHERE id = ?`,
		finishedAt.Format(time.RFC3339Nano), r.Outcome, nullIfEmpty(r.Error), r.TokensUsed, r.CostUSD,
		r.ToolCalls, r.MemoryWrites, r.ID,
	)
	if err != nil {
		return fmt.Errorf("store: finish task run: %w", err)
	}
	return nil
}

// ListTaskRuns returns a task's run history, most recent first.
func (s *Store) ListTaskRuns(ctx context.Context, taskID string) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, finished_at, outcome, error, tokens_used, cost_usd, tool_calls, memory_writes
		FROM task_runs WHERE task_id = ? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list task runs: %w", err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		var r TaskRun
		var finishedAt, errStr sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.TaskID, &startedAt, &finishedAt, &r.Outcome, &errStr,
			&r.TokensUsed, &r.CostUSD, &r.ToolCalls, &r.MemoryWrites); err != nil {
			return nil, fmt.Errorf("store: scan task run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
			r.FinishedAt = &t
		}
		if errStr.Valid {
			r.Error = errStr.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordSpend appends an entry to the spend ledger, used by the budget
// guard to compute daily/monthly totals.
func (s *Store) RecordSpend(ctx context.Context, id, taskID string, costUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spend_ledger (id, task_id, cost_usd, recorded_at) VALUES (?, ?, ?, ?)`,
		id, nullIfEmpty(taskID), costUSD, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: record spend: %w", err)
	}
	return nil
}

// SpendSince sums the spend ledger since the given time.
func (s *Store) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(cost_usd) FROM spend_ledger WHERE recorded_at >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: spend since: %w", err)
	}
	return total.Float64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var scheduleKind, status string
	var nextRunAt, conversationID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Definition, &scheduleKind, &t.ScheduleValue, &t.Budget, &status,
		&nextRunAt, &t.RetryCount, &conversationID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	t.ScheduleKind = ScheduleKind(scheduleKind)
	t.Status = TaskStatus(status)
	if nextRunAt.Valid {
		ts, _ := time.Parse(time.RFC3339Nano, nextRunAt.String)
		t.NextRunAt = &ts
	}
	if conversationID.Valid {
		t.ConversationID = conversationID.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
