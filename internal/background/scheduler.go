package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/store"
)

// Scheduler evaluates cron and idle triggers on a fixed tick and hands
// due tasks to the executor. Dispatches run concurrently under a
// semaphore so one slow task cannot starve the tick loop.
type Scheduler struct {
	registry *Registry
	executor *Executor
	db       *store.DB

	tick time.Duration
	now  func() time.Time
	sem  chan struct{}
	wg   sync.WaitGroup

	mu sync.Mutex
	// lastCheck marks when each cron task was last evaluated. A task is
	// seeded on first sight so registration never causes an immediate
	// fire.
	lastCheck map[string]time.Time
}

// SchedulerOptions tune the scheduler; zero values take defaults.
type SchedulerOptions struct {
	TickInterval  time.Duration // default 60s
	MaxDispatches int           // default 8
	Now           func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(registry *Registry, executor *Executor, db *store.DB, opts SchedulerOptions) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 60 * time.Second
	}
	if opts.MaxDispatches <= 0 {
		opts.MaxDispatches = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		registry:  registry,
		executor:  executor,
		db:        db,
		tick:      opts.TickInterval,
		now:       opts.Now,
		sem:       make(chan struct{}, opts.MaxDispatches),
		lastCheck: make(map[string]time.Time),
	}
}

// Run drives the tick loop until ctx is cancelled, then waits for
// in-flight dispatches with a bounded grace period.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.waitWithGrace(30 * time.Second)
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate runs one scheduling pass. Exposed to tests through the
// injectable clock.
func (s *Scheduler) evaluate(ctx context.Context) {
	now := s.now().UTC()
	for _, task := range s.registry.ListCronTasks() {
		if s.cronDue(task, now) {
			s.dispatch(ctx, task, store.TriggerCron, task.UserIDs)
		}
	}
	for _, task := range s.registry.ListIdleTasks() {
		users, err := s.idleUsers(ctx, task, now)
		if err != nil {
			slog.Warn("idle trigger query failed", "task", task.Name, "error", err)
			continue
		}
		if len(users) > 0 {
			s.dispatch(ctx, task, store.TriggerIdle, users)
		}
	}
}

// cronDue reports whether a cron task's next scheduled time since its
// last firing has arrived. First sight seeds the checkpoint without
// firing.
func (s *Scheduler) cronDue(task *Task, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.lastCheck[task.Name]
	if !seen {
		s.lastCheck[task.Name] = now
		return false
	}
	next, err := gronx.NextTickAfter(task.Trigger.Schedule, last, false)
	if err != nil {
		slog.Warn("cron schedule evaluation failed", "task", task.Name, "error", err)
		return false
	}
	if next.After(now) {
		return false
	}
	s.lastCheck[task.Name] = now
	return true
}

// idleUsers returns users eligible for an idle task: idle past the
// threshold, outside the cooldown window, and within the task's user
// scope when one is set.
func (s *Scheduler) idleUsers(ctx context.Context, task *Task, now time.Time) ([]string, error) {
	idleFor := time.Duration(task.Trigger.IdleMinutes) * time.Minute
	cooldown := time.Duration(task.Trigger.CooldownMinutes) * time.Minute
	users, err := s.db.UsersIdleFor(ctx, idleFor, cooldown, task.Name, now)
	if err != nil {
		return nil, err
	}
	if len(task.UserIDs) == 0 {
		return users, nil
	}
	scope := make(map[string]bool, len(task.UserIDs))
	for _, id := range task.UserIDs {
		scope[id] = true
	}
	var out []string
	for _, id := range users {
		if scope[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// dispatch hands a due task to the executor on its own goroutine,
// bounded by the dispatch semaphore.
func (s *Scheduler) dispatch(ctx context.Context, task *Task, triggerType string, users []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}
		if _, err := s.executor.ExecuteTask(ctx, task, triggerType, users); err != nil {
			slog.Error("task dispatch failed", "task", task.Name, "trigger", triggerType, "error", err)
		}
	}()
}

// RunTaskNow executes a task synchronously with the manual trigger,
// bypassing schedule, idle, and cooldown checks. Disabled tasks run too.
func (s *Scheduler) RunTaskNow(ctx context.Context, name string) (*store.TaskRun, error) {
	task, ok := s.registry.Get(name)
	if !ok {
		return nil, apperr.New(apperr.CodeTaskNotFound, "unknown task %q", name)
	}
	return s.executor.ExecuteTask(ctx, task, store.TriggerManual, task.UserIDs)
}

func (s *Scheduler) waitWithGrace(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("scheduler shutdown grace expired with dispatches in flight")
	}
}
