package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpdateUserActivity upserts the user's last_active_at stamp.
func (d *DB) UpdateUserActivity(ctx context.Context, userID string, ts time.Time) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO user_activity (user_id, last_active_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		userID, ts.UTC())
	if err != nil {
		return fmt.Errorf("update activity for %s: %w", userID, err)
	}
	return nil
}

// LastActiveAt returns a user's activity stamp; ok=false when the user
// has never been seen.
func (d *DB) LastActiveAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var ts time.Time
	err := d.sql.QueryRowContext(ctx,
		`SELECT last_active_at FROM user_activity WHERE user_id = ?`, userID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get activity for %s: %w", userID, err)
	}
	return ts, true, nil
}

// RecordTaskRunForUser stamps the cooldown ledger after a task processed
// a user. Idle triggers consult this to avoid re-running inside the
// cooldown window.
func (d *DB) RecordTaskRunForUser(ctx context.Context, userID, taskName string, ts time.Time) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO task_cooldowns (user_id, task_name, last_run_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, task_name) DO UPDATE SET last_run_at = excluded.last_run_at`,
		userID, taskName, ts.UTC())
	if err != nil {
		return fmt.Errorf("record cooldown for %s/%s: %w", userID, taskName, err)
	}
	return nil
}

// UsersIdleFor answers the idle-trigger query in one statement: users
// whose last activity is at least idleFor ago and whose last run of
// taskName is absent or older than the cooldown window.
func (d *DB) UsersIdleFor(ctx context.Context, idleFor, cooldown time.Duration, taskName string, now time.Time) ([]string, error) {
	now = now.UTC()
	rows, err := d.sql.QueryContext(ctx, `
		SELECT ua.user_id
		FROM user_activity ua
		LEFT JOIN task_cooldowns tc
			ON tc.user_id = ua.user_id AND tc.task_name = ?
		WHERE ua.last_active_at <= ?
		  AND (tc.last_run_at IS NULL OR tc.last_run_at <= ?)
		ORDER BY ua.user_id`,
		taskName, now.Add(-idleFor), now.Add(-cooldown))
	if err != nil {
		return nil, fmt.Errorf("query idle users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan idle user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
