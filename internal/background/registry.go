package background

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/youlab/tutord/internal/store"
)

// Registry is the in-memory task set backed by the durable store. The
// scheduler reads a snapshot per tick; writers hold the registry lock.
type Registry struct {
	db *store.DB

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry(db *store.DB) *Registry {
	return &Registry{db: db, tasks: make(map[string]*Task)}
}

// LoadPersisted restores task definitions from the store at startup.
// Undecodable rows are skipped with a warning.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	stored, err := r.db.ListTasks(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range stored {
		task, err := decodeTask(st.Definition)
		if err != nil {
			slog.Warn("skipping undecodable task definition", "task", st.Name, "error", err)
			continue
		}
		task.Enabled = st.Enabled
		r.tasks[task.Name] = task
	}
	slog.Info("task registry loaded", "tasks", len(r.tasks))
	return nil
}

// Register validates, persists, and installs a task. Registration under
// an existing name replaces the prior definition.
func (r *Registry) Register(ctx context.Context, task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	definition, err := task.encode()
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.Name, err)
	}
	if err := r.db.SaveTask(ctx, store.StoredTask{
		Name:       task.Name,
		Enabled:    task.Enabled,
		Definition: definition,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.tasks[task.Name] = task
	r.mu.Unlock()
	slog.Info("task registered", "task", task.Name, "trigger", task.Trigger.Type, "enabled", task.Enabled)
	return nil
}

// Unregister removes a task from memory and the store.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	if err := r.db.DeleteTask(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.tasks, name)
	r.mu.Unlock()
	return nil
}

// SetEnabled flips a task's enabled flag. Returns false when the task is
// unknown.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	r.mu.Lock()
	task, ok := r.tasks[name]
	if ok {
		task.Enabled = enabled
	}
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if _, err := r.db.SetTaskEnabled(ctx, name, enabled); err != nil {
		return true, err
	}
	return true, nil
}

// Get returns a copy of a task definition.
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	if !ok {
		return nil, false
	}
	copied := *task
	return &copied, true
}

// ListAll returns a snapshot of every task, sorted by name.
func (r *Registry) ListAll() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListCronTasks returns enabled cron-triggered tasks.
func (r *Registry) ListCronTasks() []*Task {
	return r.listByTrigger(TriggerTypeCron)
}

// ListIdleTasks returns enabled idle-triggered tasks.
func (r *Registry) ListIdleTasks() []*Task {
	return r.listByTrigger(TriggerTypeIdle)
}

func (r *Registry) listByTrigger(triggerType string) []*Task {
	var out []*Task
	for _, task := range r.ListAll() {
		if task.Enabled && task.Trigger.Type == triggerType {
			out = append(out, task)
		}
	}
	return out
}
