// Package agent runs one chat turn against the LLM provider: prompt
// assembly, streaming event classification, tool execution, and the
// post-turn persistence hooks.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/memory"
	"github.com/youlab/tutord/internal/providers"
	"github.com/youlab/tutord/internal/store"
	"github.com/youlab/tutord/internal/tools"
	"github.com/youlab/tutord/internal/workspace"
)

// maxToolIterations bounds the think-act loop within one turn.
const maxToolIterations = 16

// ConversationSink receives chat messages for external persistence.
// Implementations must be non-blocking; a slow or failing sink never
// stalls a turn.
type ConversationSink interface {
	SaveMessage(userID, chatID, role, content string)
}

// ToolFactory builds the tool registry bound to one (user, chat) pair.
type ToolFactory func(userID, chatID string) *tools.Registry

// TurnRequest is one chat turn. The final message's role must be user.
type TurnRequest struct {
	UserID   string              `json:"user_id"`
	ChatID   string              `json:"chat_id"`
	Messages []providers.Message `json:"messages"`
}

// Runner executes chat turns.
type Runner struct {
	provider    providers.Provider
	model       string
	memory      *memory.Builder
	workspace   *workspace.Manager
	db          *store.DB
	convo       ConversationSink
	toolFactory ToolFactory
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Provider    providers.Provider
	Model       string
	Memory      *memory.Builder
	Workspace   *workspace.Manager
	DB          *store.DB
	Convo       ConversationSink // optional
	ToolFactory ToolFactory
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		provider:    cfg.Provider,
		model:       cfg.Model,
		memory:      cfg.Memory,
		workspace:   cfg.Workspace,
		db:          cfg.DB,
		convo:       cfg.Convo,
		toolFactory: cfg.ToolFactory,
	}
}

// StreamTurn runs one turn, emitting classified events as they occur.
// On orderly completion the final event is done; on failure the final
// event is error and no done is emitted.
func (r *Runner) StreamTurn(ctx context.Context, req TurnRequest, emit func(Event)) error {
	ctx, span := otel.Tracer("tutord/agent").Start(ctx, "agent.turn")
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("chat.id", req.ChatID),
	)
	defer span.End()

	err := r.streamTurn(ctx, req, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(Event{Type: EventError, Message: err.Error()})
	}
	return err
}

func (r *Runner) streamTurn(ctx context.Context, req TurnRequest, emit func(Event)) error {
	if len(req.Messages) == 0 {
		return apperr.New(apperr.CodeInvalidInput, "messages must not be empty")
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != "user" {
		return apperr.New(apperr.CodeInvalidInput, "final message role must be user, got %q", last.Role)
	}

	base, chat := splitSystemMessage(req.Messages)

	workspaceRoot, err := r.workspace.RootFor(req.UserID)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	projectInstructions := r.workspace.ProjectInstructions(req.UserID)

	seeded, err := r.memory.EnsureWelcomeBlocks(ctx, req.UserID)
	if err != nil {
		slog.Warn("welcome block seeding failed", "user", req.UserID, "error", err)
	} else if seeded {
		slog.Info("welcome blocks seeded", "user", req.UserID)
	}
	memoryContext, err := r.memory.BuildContext(ctx, req.UserID, nil)
	if err != nil {
		slog.Warn("memory context load failed", "user", req.UserID, "error", err)
		memoryContext = ""
	}

	instructions := assembleInstructions(base, workspaceRoot, projectInstructions, memoryContext)
	prompt := renderPrompt(chat)

	if r.convo != nil {
		r.convo.SaveMessage(req.UserID, req.ChatID, "user", chat[len(chat)-1].Content)
	}

	emit(Event{Type: EventStatus, Content: "Thinking..."})

	registry := r.toolFactory(req.UserID, req.ChatID)
	messages := []providers.Message{{Role: "user", Content: prompt}}

	var fullResponse string
	onChunk := func(chunk providers.StreamChunk) {
		switch chunk.Type {
		case providers.ChunkReasoning:
			emit(Event{Type: EventReasoning, Content: chunk.Content})
		case providers.ChunkToolStart:
			emit(Event{Type: EventToolCall, Name: chunk.ToolName, Status: "started"})
		case providers.ChunkText:
			fullResponse += chunk.Content
			emit(Event{Type: EventMessage, Content: chunk.Content})
		case providers.ChunkPing:
			emit(Event{Type: EventPing})
		}
		// Stop and tool-end chunks carry no user-visible payload.
	}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := r.provider.ChatStream(ctx, providers.ChatRequest{
			Model:    r.model,
			System:   instructions,
			Messages: messages,
			Tools:    registry.Definitions(),
		}, onChunk)
		if err != nil {
			return err
		}
		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			break
		}
		messages = append(messages, providers.Message{
			Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := registry.Execute(ctx, call.Name, call.Arguments)
			emit(Event{Type: EventToolCall, Name: call.Name, Status: "completed"})
			messages = append(messages, providers.Message{
				Role: "tool", Content: result.ForLLM, ToolCallID: call.ID,
			})
		}
	}

	emit(Event{Type: EventDone})

	if r.convo != nil && fullResponse != "" {
		r.convo.SaveMessage(req.UserID, req.ChatID, "assistant", fullResponse)
	}
	if err := r.db.UpdateUserActivity(context.WithoutCancel(ctx), req.UserID, time.Now().UTC()); err != nil {
		slog.Warn("activity tracking failed", "user", req.UserID, "error", err)
	}
	return nil
}
