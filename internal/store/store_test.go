package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTaskUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTask(ctx, StoredTask{Name: "t1", Enabled: true, Definition: []byte(`{"a":1}`)}))
	require.NoError(t, db.SaveTask(ctx, StoredTask{Name: "t1", Enabled: false, Definition: []byte(`{"a":2}`)}))

	got, ok, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.JSONEq(t, `{"a":2}`, string(got.Definition))

	tasks, err := db.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	changed, err := db.SetTaskEnabled(ctx, "t1", true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = db.SetTaskEnabled(ctx, "ghost", true)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, db.DeleteTask(ctx, "t1"))
	_, ok, err = db.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	run := &TaskRun{
		ID: "r1", TaskName: "t1", TriggerType: TriggerCron,
		Status: RunStatusRunning, StartedAt: started,
	}
	require.NoError(t, db.SaveRun(ctx, run))

	done := started.Add(time.Minute)
	run.Status = RunStatusPartial
	run.CompletedAt = &done
	run.UserResults = []UserRunResult{
		{UserID: "u1", Status: RunStatusSuccess, StartedAt: started, TurnsUsed: 3, ProposalsCreated: 1},
		{UserID: "u2", Status: RunStatusFailed, StartedAt: started, Error: "provider timeout"},
	}
	require.NoError(t, db.SaveRun(ctx, run))

	got, ok, err := db.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusPartial, got.Status)
	require.Len(t, got.UserResults, 2)
	assert.Equal(t, "provider timeout", got.UserResults[1].Error)
	require.NotNil(t, got.CompletedAt)

	_, ok, err = db.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.SaveRun(ctx, &TaskRun{
			ID: id, TaskName: "t1", TriggerType: TriggerManual,
			Status: RunStatusSuccess, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	runs, err := db.ListRuns(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestUsersIdleFor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// idle 10 minutes, never ran the task
	require.NoError(t, db.UpdateUserActivity(ctx, "idle-fresh", now.Add(-10*time.Minute)))
	// idle 10 minutes, ran the task 5 minutes ago (inside cooldown)
	require.NoError(t, db.UpdateUserActivity(ctx, "idle-cooling", now.Add(-10*time.Minute)))
	require.NoError(t, db.RecordTaskRunForUser(ctx, "idle-cooling", "t1", now.Add(-5*time.Minute)))
	// idle 10 minutes, ran the task 2 hours ago (outside cooldown)
	require.NoError(t, db.UpdateUserActivity(ctx, "idle-ready", now.Add(-10*time.Minute)))
	require.NoError(t, db.RecordTaskRunForUser(ctx, "idle-ready", "t1", now.Add(-2*time.Hour)))
	// active now
	require.NoError(t, db.UpdateUserActivity(ctx, "active", now))
	// idle, but cooldown is for a different task
	require.NoError(t, db.UpdateUserActivity(ctx, "other-task", now.Add(-10*time.Minute)))
	require.NoError(t, db.RecordTaskRunForUser(ctx, "other-task", "t2", now.Add(-time.Minute)))

	users, err := db.UsersIdleFor(ctx, 5*time.Minute, time.Hour, "t1", now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idle-fresh", "idle-ready", "other-task"}, users)
}

func TestActivityUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LastActiveAt(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, db.UpdateUserActivity(ctx, "u1", first))
	second := first.Add(30 * time.Minute)
	require.NoError(t, db.UpdateUserActivity(ctx, "u1", second))

	got, ok, err := db.LastActiveAt(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(second))
}
