package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/youlab/tutord/internal/memory"
	"github.com/youlab/tutord/internal/providers"
	"github.com/youlab/tutord/internal/store"
	"github.com/youlab/tutord/internal/tools"
)

// driverPrompt is the fixed user message that kicks off every
// background-task agent run.
const driverPrompt = "Execute your background task now. Review the student context and take appropriate action."

// maxToolIterations bounds the tool loop within one user run.
const maxToolIterations = 16

// ToolFactory builds the tool registry for one (task, user) pair. Tools
// are constructed fresh per invocation so user binding is explicit.
type ToolFactory func(task *Task, userID string) *tools.Registry

// Executor runs background tasks against batches of users.
type Executor struct {
	db          *store.DB
	memory      *memory.Builder
	provider    providers.Provider
	model       string
	toolFactory ToolFactory
}

// NewExecutor creates an Executor.
func NewExecutor(db *store.DB, mem *memory.Builder, provider providers.Provider, model string, factory ToolFactory) *Executor {
	return &Executor{db: db, memory: mem, provider: provider, model: model, toolFactory: factory}
}

// ExecuteTask runs one task dispatch: batches of users processed
// concurrently within each window, the run record updated after every
// window, and a final status rollup.
func (e *Executor) ExecuteTask(ctx context.Context, task *Task, triggerType string, userIDs []string) (*store.TaskRun, error) {
	run := &store.TaskRun{
		ID:          uuid.NewString(),
		TaskName:    task.Name,
		TriggerType: triggerType,
		Status:      store.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.db.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	users := userIDs
	if users == nil {
		users = task.UserIDs
	}
	slog.Info("task run started",
		"task", task.Name, "run", run.ID, "trigger", triggerType, "users", len(users))

	batchSize := task.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(users); start += batchSize {
		end := min(start+batchSize, len(users))
		window := users[start:end]

		results := make([]store.UserRunResult, len(window))
		g, gctx := errgroup.WithContext(ctx)
		for i, userID := range window {
			g.Go(func() error {
				results[i] = e.runForUser(gctx, task, userID)
				return nil
			})
		}
		// Workers never return errors; per-user failures land in their
		// result rows.
		_ = g.Wait()

		run.UserResults = append(run.UserResults, results...)
		if err := e.db.SaveRun(ctx, run); err != nil {
			slog.Warn("run checkpoint save failed", "run", run.ID, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	run.Status = rollupStatus(run.UserResults)
	if ctx.Err() != nil {
		run.Status = store.RunStatusFailed
		run.Error = ctx.Err().Error()
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := e.db.SaveRun(ctx, run); err != nil {
		slog.Warn("run final save failed", "run", run.ID, "error", err)
	}
	slog.Info("task run completed", "task", task.Name, "run", run.ID, "status", run.Status)
	return run, nil
}

// runForUser executes the task's agent loop for a single user and
// records the cooldown stamp regardless of outcome.
func (e *Executor) runForUser(ctx context.Context, task *Task, userID string) store.UserRunResult {
	result := store.UserRunResult{
		UserID:    userID,
		Status:    store.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		now := time.Now().UTC()
		result.CompletedAt = &now
		if err := e.db.RecordTaskRunForUser(context.WithoutCancel(ctx), userID, task.Name, now); err != nil {
			slog.Warn("cooldown stamp failed", "user", userID, "task", task.Name, "error", err)
		}
	}()

	instructions, err := e.buildInstructions(ctx, task, userID)
	if err != nil {
		result.Status = store.RunStatusFailed
		result.Error = err.Error()
		return result
	}

	registry := e.toolFactory(task, userID)
	messages := []providers.Message{{Role: "user", Content: driverPrompt}}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	turns := 0
	onChunk := func(providers.StreamChunk) {
		turns++
		if turns >= task.MaxTurns {
			cancel()
		}
	}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := e.provider.ChatStream(runCtx, providers.ChatRequest{
			Model:    e.model,
			System:   instructions,
			Messages: messages,
			Tools:    registry.Definitions(),
		}, onChunk)
		if err != nil {
			if turns >= task.MaxTurns {
				// Turn budget exhausted mid-stream; a clean abort, not a
				// failure.
				break
			}
			result.Status = store.RunStatusFailed
			result.Error = err.Error()
			result.TurnsUsed = turns
			return result
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			break
		}
		messages = append(messages, providers.Message{
			Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			toolResult := registry.Execute(runCtx, call.Name, call.Arguments)
			if call.Name == "propose_memory_edit" && !toolResult.IsError {
				result.ProposalsCreated++
			}
			messages = append(messages, providers.Message{
				Role: "tool", Content: toolResult.ForLLM, ToolCallID: call.ID,
			})
		}
		if turns >= task.MaxTurns {
			break
		}
	}

	result.Status = store.RunStatusSuccess
	result.TurnsUsed = turns
	return result
}

func (e *Executor) buildInstructions(ctx context.Context, task *Task, userID string) (string, error) {
	memCtx, err := e.memory.BuildContext(ctx, userID, task.MemoryBlocks)
	if err != nil {
		return "", fmt.Errorf("build memory context: %w", err)
	}
	if memCtx == "" {
		return task.SystemPrompt, nil
	}
	return task.SystemPrompt + "\n\n---\n\n# Student Context\n\n" + memCtx, nil
}

// rollupStatus folds per-user outcomes into the run status: all success,
// all failed, or partial.
func rollupStatus(results []store.UserRunResult) string {
	if len(results) == 0 {
		return store.RunStatusSuccess
	}
	successes := 0
	for _, r := range results {
		if r.Status == store.RunStatusSuccess {
			successes++
		}
	}
	switch successes {
	case len(results):
		return store.RunStatusSuccess
	case 0:
		return store.RunStatusFailed
	default:
		return store.RunStatusPartial
	}
}
