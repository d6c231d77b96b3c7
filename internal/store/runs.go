package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Trigger types recorded on a run.
const (
	TriggerCron   = "cron"
	TriggerIdle   = "idle"
	TriggerManual = "manual"
)

// UserRunResult is one user's outcome within a task run.
type UserRunResult struct {
	UserID           string     `json:"user_id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TurnsUsed        int        `json:"turns_used"`
	Error            string     `json:"error,omitempty"`
	ProposalsCreated int        `json:"proposals_created"`
}

// TaskRun is one dispatch of a background task.
type TaskRun struct {
	ID          string          `json:"id"`
	TaskName    string          `json:"task_name"`
	TriggerType string          `json:"trigger_type"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	UserResults []UserRunResult `json:"user_results"`
}

// SaveRun upserts a run record. Called at dispatch, after every batch,
// and at completion.
func (d *DB) SaveRun(ctx context.Context, run *TaskRun) error {
	results, err := json.Marshal(run.UserResults)
	if err != nil {
		return fmt.Errorf("marshal user results: %w", err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_name, trigger_type, status, started_at, completed_at, error, user_results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error,
			user_results = excluded.user_results`,
		run.ID, run.TaskName, run.TriggerType, run.Status,
		run.StartedAt, run.CompletedAt, run.Error, string(results))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run; ok=false when absent.
func (d *DB) GetRun(ctx context.Context, id string) (*TaskRun, bool, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, task_name, trigger_type, status, started_at, completed_at, error, user_results
		FROM task_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, true, nil
}

// ListRuns returns a task's runs, newest first.
func (d *DB) ListRuns(ctx context.Context, taskName string, limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, task_name, trigger_type, status, started_at, completed_at, error, user_results
		FROM task_runs WHERE task_name = ?
		ORDER BY started_at DESC LIMIT ?`, taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", taskName, err)
	}
	defer rows.Close()

	var out []*TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*TaskRun, error) {
	var run TaskRun
	var completedAt sql.NullTime
	var results string
	err := row.Scan(&run.ID, &run.TaskName, &run.TriggerType, &run.Status,
		&run.StartedAt, &completedAt, &run.Error, &results)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(results), &run.UserResults); err != nil {
		run.UserResults = nil
	}
	return &run, nil
}
