package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/youlab/tutord/internal/agent"
	"github.com/youlab/tutord/internal/background"
	"github.com/youlab/tutord/internal/blockstore"
	"github.com/youlab/tutord/internal/config"
	"github.com/youlab/tutord/internal/convo"
	"github.com/youlab/tutord/internal/diffs"
	"github.com/youlab/tutord/internal/httpapi"
	"github.com/youlab/tutord/internal/memory"
	"github.com/youlab/tutord/internal/providers"
	"github.com/youlab/tutord/internal/store"
	"github.com/youlab/tutord/internal/tools"
	"github.com/youlab/tutord/internal/tracing"
	"github.com/youlab/tutord/internal/workspace"
)

func runServer() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, Version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blocks := blockstore.New(cfg.DataRoot)
	diffStore := diffs.NewStore(cfg.DataRoot)
	mem := memory.NewBuilder(blocks)
	ws := workspace.NewManager(cfg.DataRoot, cfg.Workspace.SharedRoot, cfg.Workspace.MaxFileBytes)
	defer ws.Close()

	provider := providers.NewAnthropic(providers.AnthropicOptions{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})

	convoClient := convo.New(cfg.Convo.Endpoint, cfg.Convo.APIKey)
	if convoClient != nil {
		defer convoClient.Close()
	}

	chatTools := chatToolFactory(cfg, blocks, diffStore, ws)
	var sink agent.ConversationSink
	if convoClient != nil {
		sink = convoClient
	}
	runner := agent.NewRunner(agent.RunnerConfig{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		Memory:      mem,
		Workspace:   ws,
		DB:          db,
		Convo:       sink,
		ToolFactory: chatTools,
	})

	registry := background.NewRegistry(db)
	if err := registry.LoadPersisted(ctx); err != nil {
		return fmt.Errorf("load task registry: %w", err)
	}
	executor := background.NewExecutor(db, mem, provider, cfg.LLM.Model,
		backgroundToolFactory(cfg, blocks, diffStore, ws))
	scheduler := background.NewScheduler(registry, executor, db, background.SchedulerOptions{
		TickInterval:  time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		MaxDispatches: cfg.Scheduler.MaxConcurrentDispatches,
	})
	go scheduler.Run(ctx)

	api := httpapi.NewServer(httpapi.ServerConfig{
		Blocks:    blocks,
		Diffs:     diffStore,
		Workspace: ws,
		DB:        db,
		Registry:  registry,
		Scheduler: scheduler,
		Runner:    runner,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "data_root", cfg.DataRoot, "model", cfg.LLM.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	return nil
}

// chatToolFactory binds the full conversational tool set per (user, chat).
func chatToolFactory(cfg *config.Config, blocks *blockstore.Store, diffStore *diffs.Store, ws *workspace.Manager) agent.ToolFactory {
	return func(userID, chatID string) *tools.Registry {
		reg := tools.NewRegistry()
		tools.RegisterShellTool(reg, tools.ShellDeps{Workspace: ws, UserID: userID})
		tools.RegisterFileTools(reg, tools.FileDeps{Workspace: ws, UserID: userID})
		tools.RegisterMemoryTools(reg, tools.MemoryDeps{
			Blocks: blocks, Diffs: diffStore, UserID: userID, AgentID: "tutor",
		})
		tools.RegisterDialecticTool(reg, tools.DialecticDeps{
			Endpoint: cfg.Convo.Endpoint, APIKey: cfg.Convo.APIKey, UserID: userID,
		})
		return reg
	}
}

// backgroundToolFactory builds a task's tool registry: the full set,
// filtered down to task.Tools when the definition names a subset.
func backgroundToolFactory(cfg *config.Config, blocks *blockstore.Store, diffStore *diffs.Store, ws *workspace.Manager) background.ToolFactory {
	return func(task *background.Task, userID string) *tools.Registry {
		full := tools.NewRegistry()
		tools.RegisterFileTools(full, tools.FileDeps{Workspace: ws, UserID: userID})
		tools.RegisterMemoryTools(full, tools.MemoryDeps{
			Blocks: blocks, Diffs: diffStore, UserID: userID, AgentID: task.Name,
		})
		tools.RegisterDialecticTool(full, tools.DialecticDeps{
			Endpoint: cfg.Convo.Endpoint, APIKey: cfg.Convo.APIKey, UserID: userID,
		})
		if len(task.Tools) == 0 {
			return full
		}
		filtered := tools.NewRegistry()
		for _, name := range task.Tools {
			if t, ok := full.Get(name); ok {
				filtered.Register(t)
			} else {
				slog.Warn("task names unknown tool", "task", task.Name, "tool", name)
			}
		}
		return filtered
	}
}
