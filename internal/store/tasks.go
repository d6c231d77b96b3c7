package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StoredTask is a persisted background-task definition. Definition is
// the JSON encoding owned by the background package; the store treats it
// as opaque.
type StoredTask struct {
	Name       string
	Enabled    bool
	Definition []byte
	UpdatedAt  time.Time
}

// SaveTask upserts a task definition.
func (d *DB) SaveTask(ctx context.Context, t StoredTask) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO background_tasks (name, enabled, definition, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			enabled = excluded.enabled,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		t.Name, t.Enabled, string(t.Definition), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.Name, err)
	}
	return nil
}

// SetTaskEnabled flips the enabled flag. Returns false when the task
// does not exist.
func (d *DB) SetTaskEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE background_tasks SET enabled = ?, updated_at = ? WHERE name = ?`,
		enabled, time.Now().UTC(), name)
	if err != nil {
		return false, fmt.Errorf("set task enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteTask removes a task definition.
func (d *DB) DeleteTask(ctx context.Context, name string) error {
	if _, err := d.sql.ExecContext(ctx, `DELETE FROM background_tasks WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete task %s: %w", name, err)
	}
	return nil
}

// ListTasks returns every persisted task definition.
func (d *DB) ListTasks(ctx context.Context) ([]StoredTask, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT name, enabled, definition, updated_at FROM background_tasks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []StoredTask
	for rows.Next() {
		var t StoredTask
		var definition string
		if err := rows.Scan(&t.Name, &t.Enabled, &definition, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Definition = []byte(definition)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask loads one task definition; ok=false when absent.
func (d *DB) GetTask(ctx context.Context, name string) (StoredTask, bool, error) {
	var t StoredTask
	var definition string
	err := d.sql.QueryRowContext(ctx,
		`SELECT name, enabled, definition, updated_at FROM background_tasks WHERE name = ?`, name).
		Scan(&t.Name, &t.Enabled, &definition, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return StoredTask{}, false, nil
	}
	if err != nil {
		return StoredTask{}, false, fmt.Errorf("get task %s: %w", name, err)
	}
	t.Definition = []byte(definition)
	return t, true, nil
}
